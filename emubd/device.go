package emubd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kurisaW/littlefs-mirror/blockdevice"
)

// Stats holds cumulative operation counters. Each counter increments
// exactly once per successful call, no matter how many erase blocks the
// call spans.
type Stats struct {
	ReadCount  uint64
	ProgCount  uint64
	EraseCount uint64
}

// Device is a block device emulated on a directory of ordinary files.
//
// A Device is not safe for concurrent use: operations mutate the
// counters and walk multiple backing files without synchronization.
// Serialize access externally or use one handle per worker.
type Device struct {
	root   string
	info   blockdevice.Info
	stats  Stats
	logger *slog.Logger
}

var _ blockdevice.Device = (*Device)(nil)

// Create opens an emulated device rooted at the given directory,
// creating the directory if it does not exist.
//
// Geometry always comes from the options (defaults if none are given);
// a previously persisted info record is never reloaded. Counters are
// loaded from the stats record under the root, and a missing or short
// stats record is an error — seed a fresh root with Format first.
func Create(root string, optFns ...Option) (*Device, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}
	if err := validateGeometry(o.Info); err != nil {
		return nil, err
	}

	if err := os.Mkdir(root, 0777); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create device root: %w", err)
	}

	// Load stats to continue incrementing.
	stats, err := ReadPersistedStats(root)
	if err != nil {
		return nil, err
	}

	d := &Device{
		root:   root,
		info:   o.Info,
		stats:  stats,
		logger: o.Logger,
	}
	d.logger.Debug("device created", "root", root,
		"read_size", d.info.ReadSize, "prog_size", d.info.ProgSize,
		"erase_size", d.info.EraseSize, "total_size", d.info.TotalSize)
	return d, nil
}

// Close forces a final Sync. The Device must not be used afterwards.
func (d *Device) Close() error {
	return d.Sync()
}

// Info returns a copy of the device geometry.
func (d *Device) Info() blockdevice.Info {
	return d.info
}

// Stats returns a copy of the cumulative operation counters.
func (d *Device) Stats() Stats {
	return d.stats
}

// Root returns the device root directory.
func (d *Device) Root() string {
	return d.root
}

// blockPath returns the backing file path for a block index.
// Built fresh per call so operations never share a path buffer.
func (d *Device) blockPath(block uint32) string {
	return filepath.Join(d.root, strconv.FormatUint(uint64(block), 16))
}

// checkRange validates off/size alignment against gran and the address
// range against the total size. The bound is strictly less-than: an
// operation that exactly reaches the final addressable byte is rejected.
func (d *Device) checkRange(block, off, size, gran uint32) error {
	if off%gran != 0 || size%gran != 0 {
		return fmt.Errorf("%w: off %d / size %d not aligned to %d",
			ErrInvalidArgument, off, size, gran)
	}
	if uint64(block)*uint64(d.info.EraseSize)+uint64(off)+uint64(size) >= uint64(d.info.TotalSize) {
		return fmt.Errorf("%w: block %d off %d size %d out of range",
			ErrInvalidArgument, block, off, size)
	}
	return nil
}

// Read copies len(p) bytes starting at off within the given erase block
// into p. Blocks with no backing file read as zeros. off and len(p)
// must be multiples of the read granularity.
func (d *Device) Read(block, off uint32, p []byte) error {
	size := uint32(len(p))
	if err := d.checkRange(block, off, size, d.info.ReadSize); err != nil {
		return err
	}
	d.logger.Debug("read", "block", block, "off", off, "size", size)

	// Zero out buffer; unprogrammed regions stay that way.
	clear(p)

	block += off / d.info.EraseSize
	off %= d.info.EraseSize

	// Iterate over blocks until enough data is read.
	pos := uint32(0)
	for size > 0 {
		count := min(d.info.EraseSize-off, size)

		f, err := os.Open(d.blockPath(block))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to open block %x: %w", block, err)
		}
		if err == nil {
			_, rerr := f.ReadAt(p[pos:pos+count], int64(off))
			if rerr != nil && !errors.Is(rerr, io.EOF) {
				f.Close()
				return fmt.Errorf("failed to read block %x: %w", block, rerr)
			}
			if cerr := f.Close(); cerr != nil {
				return fmt.Errorf("failed to close block %x: %w", block, cerr)
			}
		}

		pos += count
		size -= count
		block++
		off = 0
	}

	d.stats.ReadCount++
	return nil
}

// Prog writes len(p) bytes from p starting at off within the given
// erase block, creating backing files as needed. The target region is
// not required to have been erased first. off and len(p) must be
// multiples of the program granularity.
func (d *Device) Prog(block, off uint32, p []byte) error {
	size := uint32(len(p))
	if err := d.checkRange(block, off, size, d.info.ProgSize); err != nil {
		return err
	}
	d.logger.Debug("prog", "block", block, "off", off, "size", size)

	block += off / d.info.EraseSize
	off %= d.info.EraseSize

	pos := uint32(0)
	for size > 0 {
		count := min(d.info.EraseSize-off, size)

		f, err := os.OpenFile(d.blockPath(block), os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			return fmt.Errorf("failed to open block %x: %w", block, err)
		}
		if _, werr := f.WriteAt(p[pos:pos+count], int64(off)); werr != nil {
			f.Close()
			return fmt.Errorf("failed to write block %x: %w", block, werr)
		}
		if cerr := f.Close(); cerr != nil {
			return fmt.Errorf("failed to close block %x: %w", block, cerr)
		}

		pos += count
		size -= count
		block++
		off = 0
	}

	d.stats.ProgCount++
	return nil
}

// Erase resets size bytes worth of erase blocks starting at the given
// block by deleting their backing files. Erasing an already-erased
// block is a no-op. off and size must be multiples of the erase
// granularity.
func (d *Device) Erase(block, off, size uint32) error {
	if err := d.checkRange(block, off, size, d.info.EraseSize); err != nil {
		return err
	}
	d.logger.Debug("erase", "block", block, "off", off, "size", size)

	block += off / d.info.EraseSize

	for size > 0 {
		path := d.blockPath(block)
		st, err := os.Stat(path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat block %x: %w", block, err)
		}
		if err == nil && st.Mode().IsRegular() {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to erase block %x: %w", block, err)
			}
		}

		size -= d.info.EraseSize
		block++
	}

	d.stats.EraseCount++
	return nil
}

// Sync rewrites the info and stats records under the device root. Both
// records are written on every call, whether or not they changed.
func (d *Device) Sync() error {
	info := infoRecord{
		ReadSize:  d.info.ReadSize,
		ProgSize:  d.info.ProgSize,
		EraseSize: d.info.EraseSize,
		TotalSize: d.info.TotalSize,
	}
	if err := writeRecord(filepath.Join(d.root, infoFileName), &info); err != nil {
		return err
	}
	stats := statsRecord{
		ReadCount:  d.stats.ReadCount,
		ProgCount:  d.stats.ProgCount,
		EraseCount: d.stats.EraseCount,
	}
	return writeRecord(filepath.Join(d.root, statsFileName), &stats)
}
