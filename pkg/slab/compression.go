package slab

import (
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/calvinalkan/rethinkdb-core/internal/dberr"
)

// CompressionAlgorithm selects how values are translated between user
// bytes and on-disk bytes. It is chosen at store open and fixed for the
// store's lifetime.
type CompressionAlgorithm uint8

const (
	CompressionNone CompressionAlgorithm = iota
	CompressionZstd
)

// zstdCodec lazily builds a shared encoder/decoder pair; zstd's own
// types are already safe for concurrent use, so one pair is reused for
// every store.
var zstdCodec = sync.OnceValues(func() (*zstd.Encoder, *zstd.Decoder) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(err) // only fails on invalid static options, never at runtime
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}

	return enc, dec
})

// Encode translates raw user bytes into on-disk bytes under algo.
func Encode(raw []byte, algo CompressionAlgorithm) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return raw, nil
	case CompressionZstd:
		enc, _ := zstdCodec()
		return enc.EncodeAll(raw, nil), nil
	default:
		return nil, dberr.New(dberr.KindInvalidArgument, "compression: encode", errUnknownAlgorithm(algo))
	}
}

// Decode translates on-disk bytes back into raw user bytes under algo.
func Decode(encoded []byte, algo CompressionAlgorithm) ([]byte, error) {
	switch algo {
	case CompressionNone:
		return encoded, nil
	case CompressionZstd:
		_, dec := zstdCodec()

		out, err := dec.DecodeAll(encoded, nil)
		if err != nil {
			return nil, dberr.New(dberr.KindIO, "compression: decode", err)
		}

		return out, nil
	default:
		return nil, dberr.New(dberr.KindInvalidArgument, "compression: decode", errUnknownAlgorithm(algo))
	}
}

type errUnknownAlgorithm CompressionAlgorithm

func (e errUnknownAlgorithm) Error() string {
	return "unknown compression algorithm"
}
