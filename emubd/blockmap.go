package emubd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"
)

// Programmed scans the device root and returns the set of block indices
// that currently have a backing file, i.e. have been programmed since
// their last erase.
func (d *Device) Programmed() (*roaring.Bitmap, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan device root: %w", err)
	}

	blocks := roaring.New()
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		block, ok := parseBlockName(entry.Name())
		if !ok {
			continue
		}
		if block < d.info.BlockCount() {
			blocks.Add(block)
		}
	}
	return blocks, nil
}

// parseBlockName parses a backing file name as a hex block index.
// The metadata files (info, stats) and any stray names do not parse.
func parseBlockName(name string) (uint32, bool) {
	block, err := strconv.ParseUint(name, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(block), true
}
