// Package wire implements the client protocol's handshake and the
// length-prefixed query/response frames that follow it.
package wire

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
)

// Protocol version magic numbers, little-endian on the wire.
const (
	VersionV0_1 uint32 = 0x3f61ba36
	VersionV0_2 uint32 = 0x723081e1
	VersionV0_3 uint32 = 0x5f75e83e
	VersionV0_4 uint32 = 0x400c2d20
	VersionV1_0 uint32 = 0x34c2bdc3
)

// Wire protocol type magic numbers.
const (
	ProtocolJSON     uint32 = 0x7e6970c7
	ProtocolProtobuf uint32 = 0x271ffc41
)

// Size limits enforced by the framing layer.
const (
	MaxAuthKeyLen  = 4096
	MaxPayloadSize = 256 * 1024 * 1024
)

func knownVersion(magic uint32) bool {
	switch magic {
	case VersionV0_1, VersionV0_2, VersionV0_3, VersionV0_4, VersionV1_0:
		return true
	default:
		return false
	}
}

// negotiatesProtocol reports whether version sends a protocol-type magic
// after the auth key. Versions before V0_3 predate the protocol
// negotiation step entirely.
func negotiatesProtocol(version uint32) bool {
	switch version {
	case VersionV0_3, VersionV0_4, VersionV1_0:
		return true
	default:
		return false
	}
}

// Handshake holds the negotiated state of one connection's handshake.
type Handshake struct {
	Version uint32
	AuthKey string
}

// Accept performs the server side of the handshake against conn, which
// must support both Read and Write (a net.Conn in production, an
// io.ReadWriter in tests). If expectedAuthKey is non-empty, the client's
// auth key must match it or the handshake fails with
// dberr.KindAuthFailed.
func Accept(rw io.ReadWriter, serverVersion string, expectedAuthKey string) (Handshake, error) {
	var versionBuf [4]byte

	if _, err := io.ReadFull(rw, versionBuf[:]); err != nil {
		return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake: read version", err)
	}

	version := binary.LittleEndian.Uint32(versionBuf[:])
	if !knownVersion(version) {
		return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake", fmt.Errorf("unsupported protocol version 0x%x", version))
	}

	var authKey string

	if version != VersionV0_1 {
		var lenBuf [4]byte

		if _, err := io.ReadFull(rw, lenBuf[:]); err != nil {
			return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake: read auth key length", err)
		}

		keyLen := binary.LittleEndian.Uint32(lenBuf[:])
		if keyLen > MaxAuthKeyLen {
			return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake", fmt.Errorf("auth key too long: %d bytes", keyLen))
		}

		keyBytes := make([]byte, keyLen)
		if _, err := io.ReadFull(rw, keyBytes); err != nil {
			return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake: read auth key", err)
		}

		if n := len(keyBytes); n > 0 && keyBytes[n-1] == 0 {
			keyBytes = keyBytes[:n-1]
		}

		authKey = string(keyBytes)
	}

	if expectedAuthKey != "" && subtle.ConstantTimeCompare([]byte(authKey), []byte(expectedAuthKey)) != 1 {
		return Handshake{}, dberr.New(dberr.KindAuthFailed, "handshake", fmt.Errorf("incorrect auth key"))
	}

	if negotiatesProtocol(version) {
		var protoBuf [4]byte

		if _, err := io.ReadFull(rw, protoBuf[:]); err != nil {
			return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake: read protocol type", err)
		}

		protoMagic := binary.LittleEndian.Uint32(protoBuf[:])
		if protoMagic != ProtocolJSON {
			return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake", fmt.Errorf("only the JSON wire protocol is supported"))
		}
	}

	var successMsg []byte

	if version == VersionV1_0 {
		msg, err := json.Marshal(map[string]interface{}{
			"success":             true,
			"min_protocol_version": 0,
			"max_protocol_version": 0,
			"server_version":      serverVersion,
		})
		if err != nil {
			return Handshake{}, fmt.Errorf("handshake: encode success response: %w", err)
		}

		successMsg = msg
	} else {
		successMsg = []byte("SUCCESS")
	}

	if _, err := rw.Write(append(successMsg, 0)); err != nil {
		return Handshake{}, dberr.New(dberr.KindProtocolViolation, "handshake: write response", err)
	}

	return Handshake{Version: version, AuthKey: authKey}, nil
}

// QueryFrame is one decoded request frame.
type QueryFrame struct {
	Token   int64
	Payload []byte
}

// ReadQuery reads one request frame: u32_le payload_len | i64_le token |
// payload[payload_len].
func ReadQuery(r io.Reader) (QueryFrame, error) {
	var lenBuf [4]byte

	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return QueryFrame{}, dberr.New(dberr.KindProtocolViolation, "read_query: length", err)
	}

	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
	if payloadLen == 0 {
		return QueryFrame{}, dberr.New(dberr.KindProtocolViolation, "read_query", fmt.Errorf("empty query frame"))
	}

	if payloadLen > MaxPayloadSize {
		return QueryFrame{}, dberr.New(dberr.KindProtocolViolation, "read_query", fmt.Errorf("payload too large: %d bytes", payloadLen))
	}

	var tokenBuf [8]byte

	if _, err := io.ReadFull(r, tokenBuf[:]); err != nil {
		return QueryFrame{}, dberr.New(dberr.KindProtocolViolation, "read_query: token", err)
	}

	token := int64(binary.LittleEndian.Uint64(tokenBuf[:]))

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return QueryFrame{}, dberr.New(dberr.KindProtocolViolation, "read_query: payload", err)
	}

	return QueryFrame{Token: token, Payload: payload}, nil
}

// ResponseFrame is one response frame to write.
type ResponseFrame struct {
	Token   int64
	Payload []byte
}

// WriteResponse writes one response frame: i64_le token | u32_le
// payload_len | payload.
func WriteResponse(w io.Writer, resp ResponseFrame) error {
	if len(resp.Payload) > MaxPayloadSize {
		return dberr.New(dberr.KindProtocolViolation, "write_response", fmt.Errorf("payload too large: %d bytes", len(resp.Payload)))
	}

	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(resp.Token))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(resp.Payload)))

	if _, err := w.Write(buf[:]); err != nil {
		return dberr.New(dberr.KindProtocolViolation, "write_response: header", err)
	}

	if _, err := w.Write(resp.Payload); err != nil {
		return dberr.New(dberr.KindProtocolViolation, "write_response: payload", err)
	}

	return nil
}
