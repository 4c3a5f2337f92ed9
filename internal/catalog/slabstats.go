package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/calvinalkan/fileproc"
)

// SlabFileStat reports the on-disk size of one size class's slot file,
// computed concurrently across the data directory with
// fileproc.ProcessStat instead of a hand-rolled worker pool.
type SlabFileStat struct {
	ClassIndex uint16
	SlotSize   uint32
	FileBytes  int64
	SlotCount  int64
}

// ScanSlabStats stats every data/slab_{NNNN}_{size}.bin file under
// dataDir concurrently and returns one SlabFileStat per size class,
// ordered by class index.
func ScanSlabStats(ctx context.Context, dataDir string) ([]SlabFileStat, error) {
	opts := fileproc.Options{
		Recursive: false,
		Suffix:    ".bin",
	}

	results, errs := fileproc.ProcessStat(ctx, dataDir,
		func(path []byte, st fileproc.Stat, _ fileproc.LazyFile) (*SlabFileStat, error) {
			classIndex, slotSize, parseErr := parseSlabFileName(string(path))
			if parseErr != nil {
				return nil, fileproc.ErrSkip
			}

			stat := SlabFileStat{
				ClassIndex: classIndex,
				SlotSize:   slotSize,
				FileBytes:  st.Size,
			}

			if slotSize > 0 {
				stat.SlotCount = st.Size / int64(slotSize)
			}

			return &stat, nil
		}, opts)

	if len(errs) > 0 {
		return nil, fmt.Errorf("catalog: scan slab stats: %w", errs[0])
	}

	stats := make([]SlabFileStat, 0, len(results))
	for _, r := range results {
		stats = append(stats, r.Value)
	}

	sortSlabStats(stats)

	return stats, nil
}

func sortSlabStats(stats []SlabFileStat) {
	for i := 1; i < len(stats); i++ {
		for j := i; j > 0 && stats[j-1].ClassIndex > stats[j].ClassIndex; j-- {
			stats[j-1], stats[j] = stats[j], stats[j-1]
		}
	}
}

// parseSlabFileName recovers (classIndex, slotSize) from a file name
// formatted as "slab_{NNNN}_{size}.bin" (pkg/slab.fileName's layout).
func parseSlabFileName(name string) (uint16, uint32, error) {
	base := name
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}

	base = strings.TrimSuffix(base, ".bin")
	base = strings.TrimPrefix(base, "slab_")

	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed slab file name %q", name)
	}

	classIndex, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed slab class index in %q: %w", name, err)
	}

	slotSize, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed slab slot size in %q: %w", name, err)
	}

	return uint16(classIndex), uint32(slotSize), nil
}
