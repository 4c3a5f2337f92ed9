package slab

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func Test_Allocator_WriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := OpenAllocator(t.TempDir(), 64, 512)
	if err != nil {
		t.Fatalf("open allocator: %v", err)
	}
	defer a.Close()

	payload := []byte("hello, slab")

	slot, err := a.Allocate(len(payload))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := a.Write(slot, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := a.Read(slot)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if !bytes.Equal(got, payload) {
		t.Fatalf("read = %q, want %q", got, payload)
	}
}

func Test_Allocator_FreeAndReuseSameOffset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	a, err := OpenAllocator(dir, 64, 512)
	if err != nil {
		t.Fatalf("open allocator: %v", err)
	}
	defer a.Close()

	value1 := bytes.Repeat([]byte("a"), 100)
	value2 := bytes.Repeat([]byte("b"), 100)

	slot1, err := a.Allocate(len(value1))
	if err != nil {
		t.Fatalf("allocate 1: %v", err)
	}

	if slot1.ClassIndex != 3 {
		t.Fatalf("slot1 class = %d, want 3 (112-byte class)", slot1.ClassIndex)
	}

	if err := a.Free(slot1); err != nil {
		t.Fatalf("free: %v", err)
	}

	slot2, err := a.Allocate(len(value2))
	if err != nil {
		t.Fatalf("allocate 2: %v", err)
	}

	if slot2 != slot1 {
		t.Fatalf("slot2 = %+v, want reused %+v", slot2, slot1)
	}
}

func Test_Allocator_SizeExceedsClass(t *testing.T) {
	t.Parallel()

	a, err := OpenAllocator(t.TempDir(), 64, 128)
	if err != nil {
		t.Fatalf("open allocator: %v", err)
	}
	defer a.Close()

	if _, err := a.Allocate(1000); err == nil {
		t.Fatal("expected error allocating oversized payload")
	}
}

func Test_Allocator_OneFilePerSizeClass(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	a, err := OpenAllocator(dir, 64, 256)
	if err != nil {
		t.Fatalf("open allocator: %v", err)
	}
	defer a.Close()

	if len(a.files) != len(a.classes) {
		t.Fatalf("file count %d != class count %d", len(a.files), len(a.classes))
	}

	for i, gc := range a.classes {
		path := filepath.Join(dir, fileName(uint16(i), gc.class.slotSize))
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("slot file for class %d: %v", i, err)
		}
	}
}
