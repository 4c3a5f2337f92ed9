package slab

import "testing"

func Test_computeSizeClasses_Defaults(t *testing.T) {
	t.Parallel()

	sizes, err := computeSizeClasses(64, 512)
	if err != nil {
		t.Fatalf("computeSizeClasses: %v", err)
	}

	want := []uint32{64, 77, 93, 112, 135, 162, 195, 234, 281, 338, 406, 488}

	if len(sizes) != len(want) {
		t.Fatalf("got %d classes %v, want %d classes %v", len(sizes), sizes, len(want), want)
	}

	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("class %d = %d, want %d (full: %v)", i, sizes[i], want[i], sizes)
		}
	}
}

func Test_computeSizeClasses_100ByteValueLandsInClassIndex3(t *testing.T) {
	t.Parallel()

	sizes, err := computeSizeClasses(64, 512)
	if err != nil {
		t.Fatalf("computeSizeClasses: %v", err)
	}

	total := uint32(100 + lengthPrefixSize)

	for i, sz := range sizes {
		if sz >= total {
			if i != 3 {
				t.Fatalf("100-byte value landed in class %d (size %d), want class 3", i, sz)
			}

			return
		}
	}

	t.Fatal("no class fit a 104-byte total")
}

func Test_computeSizeClasses_RejectsMaxBelowMin(t *testing.T) {
	t.Parallel()

	if _, err := computeSizeClasses(512, 64); err == nil {
		t.Fatal("expected error when max < min")
	}
}

func Test_sizeClass_AllocateReusesSmallestFreedOffsetFirst(t *testing.T) {
	t.Parallel()

	c := newSizeClass(0, 64)

	a := c.allocate()
	b := c.allocate()
	d := c.allocate()

	if a != 0 || b != 64 || d != 128 {
		t.Fatalf("got offsets %d,%d,%d, want 0,64,128", a, b, d)
	}

	c.freeOffset(b)
	c.freeOffset(a)

	got := c.allocate()
	if got != a {
		t.Fatalf("allocate after free = %d, want smallest freed offset %d", got, a)
	}

	got2 := c.allocate()
	if got2 != b {
		t.Fatalf("second allocate after free = %d, want %d", got2, b)
	}

	got3 := c.allocate()
	if got3 != 192 {
		t.Fatalf("allocate after free heap drained = %d, want next_offset 192", got3)
	}
}
