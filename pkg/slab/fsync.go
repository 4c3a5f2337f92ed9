package slab

import (
	dbfs "github.com/calvinalkan/rethinkdb-core/internal/fs"
)

// fsyncFile commits f's data and metadata to stable storage via the
// [dbfs.File] abstraction rather than calling unix.Fsync on the raw fd, so
// that a chaos-wrapped file's injected sync failures (see
// [dbfs.ChaosConfig.SyncFailRate]) are observed here too: both the
// allocator's slot files and the metadata log route every fsync through
// this one call.
func fsyncFile(f dbfs.File) error {
	return f.Sync()
}
