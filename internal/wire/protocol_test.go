package wire_test

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
	"github.com/calvinalkan/rethinkdb-core/internal/wire"
)

func clientHandshakeBytes(version uint32, authKey string, protocol uint32) []byte {
	var buf bytes.Buffer

	var versionBuf [4]byte
	binary.LittleEndian.PutUint32(versionBuf[:], version)
	buf.Write(versionBuf[:])

	if version != wire.VersionV0_1 {
		key := append([]byte(authKey), 0)

		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(key)))
		buf.Write(lenBuf[:])
		buf.Write(key)
	}

	if version == wire.VersionV0_3 || version == wire.VersionV0_4 || version == wire.VersionV1_0 {
		var protoBuf [4]byte
		binary.LittleEndian.PutUint32(protoBuf[:], protocol)
		buf.Write(protoBuf[:])
	}

	return buf.Bytes()
}

func Test_Accept_V1_0_Succeeds(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)

		client.Write(clientHandshakeBytes(wire.VersionV1_0, "", wire.ProtocolJSON))

		resp := make([]byte, 256)
		n, _ := client.Read(resp)

		if !bytes.Contains(resp[:n], []byte(`"success":true`)) {
			t.Errorf("response = %q, want success:true", resp[:n])
		}
	}()

	hs, err := wire.Accept(server, "1.0.0", "")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if hs.Version != wire.VersionV1_0 {
		t.Fatalf("Version = 0x%x, want V1_0", hs.Version)
	}

	<-done
}

func Test_Accept_V0_2_RepliesWithLegacySuccessString(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)

		client.Write(clientHandshakeBytes(wire.VersionV0_2, "", 0))

		resp := make([]byte, 64)
		n, _ := client.Read(resp)

		if !bytes.Equal(resp[:n], append([]byte("SUCCESS"), 0)) {
			t.Errorf("response = %q, want SUCCESS followed by NUL", resp[:n])
		}
	}()

	hs, err := wire.Accept(server, "1.0.0", "")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if hs.Version != wire.VersionV0_2 {
		t.Fatalf("Version = 0x%x, want V0_2", hs.Version)
	}

	<-done
}

func Test_Accept_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], 0xdeadbeef)
		client.Write(buf[:])
	}()

	_, err := wire.Accept(server, "1.0.0", "")
	if !dberr.Is(err, dberr.KindProtocolViolation) {
		t.Fatalf("err = %v, want ProtocolViolation", err)
	}
}

func Test_Accept_WithAuthKey_AcceptsMatchingKey(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write(clientHandshakeBytes(wire.VersionV1_0, "s3cr3t", wire.ProtocolJSON))

		resp := make([]byte, 256)
		client.Read(resp) //nolint:errcheck // drained, not asserted on in this test
	}()

	hs, err := wire.Accept(server, "1.0.0", "s3cr3t")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if hs.AuthKey != "s3cr3t" {
		t.Fatalf("AuthKey = %q, want s3cr3t", hs.AuthKey)
	}
}

func Test_Accept_WithAuthKey_RejectsMismatchedKey(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write(clientHandshakeBytes(wire.VersionV1_0, "wrong", wire.ProtocolJSON))
	}()

	_, err := wire.Accept(server, "1.0.0", "s3cr3t")
	if !dberr.Is(err, dberr.KindAuthFailed) {
		t.Fatalf("err = %v, want AuthFailed", err)
	}
}

func Test_Accept_RejectsProtobuf(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write(clientHandshakeBytes(wire.VersionV1_0, "", wire.ProtocolProtobuf))
	}()

	_, err := wire.Accept(server, "1.0.0", "")
	if !dberr.Is(err, dberr.KindProtocolViolation) {
		t.Fatalf("err = %v, want ProtocolViolation", err)
	}
}

func Test_QueryFrame_RoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	payload := []byte(`{"type":"START","query":[1]}`)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])

	var tokenBuf [8]byte
	binary.LittleEndian.PutUint64(tokenBuf[:], uint64(42))
	buf.Write(tokenBuf[:])

	buf.Write(payload)

	frame, err := wire.ReadQuery(&buf)
	if err != nil {
		t.Fatalf("ReadQuery: %v", err)
	}

	if frame.Token != 42 {
		t.Fatalf("Token = %d, want 42", frame.Token)
	}

	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("Payload = %q, want %q", frame.Payload, payload)
	}
}

func Test_ReadQuery_RejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], wire.MaxPayloadSize+1)
	buf.Write(lenBuf[:])

	_, err := wire.ReadQuery(&buf)
	if !dberr.Is(err, dberr.KindProtocolViolation) {
		t.Fatalf("err = %v, want ProtocolViolation", err)
	}
}

func Test_WriteResponse_Then_Read(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	payload := []byte(`{"t":1,"r":[1]}`)

	if err := wire.WriteResponse(&buf, wire.ResponseFrame{Token: 7, Payload: payload}); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}

	var tokenBuf [8]byte
	buf.Read(tokenBuf[:])

	token := int64(binary.LittleEndian.Uint64(tokenBuf[:]))
	if token != 7 {
		t.Fatalf("token = %d, want 7", token)
	}

	var lenBuf [4]byte
	buf.Read(lenBuf[:])

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if int(n) != len(payload) {
		t.Fatalf("len = %d, want %d", n, len(payload))
	}

	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("payload = %q, want %q", buf.Bytes(), payload)
	}
}
