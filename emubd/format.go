package emubd

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kurisaW/littlefs-mirror/blockdevice"
)

// Well-known metadata files under the device root. Every other file in
// the root is a backing block file named by its hex block index.
const (
	infoFileName  = "info"
	statsFileName = "stats"
)

// infoRecord is the fixed 16-byte on-disk layout of the geometry,
// written little-endian by Sync and never read back by Create.
type infoRecord struct {
	ReadSize  uint32
	ProgSize  uint32
	EraseSize uint32
	TotalSize uint32
}

// statsRecord is the fixed 24-byte on-disk layout of the counters.
type statsRecord struct {
	ReadCount  uint64
	ProgCount  uint64
	EraseCount uint64
}

// writeRecord overwrites path with the little-endian encoding of rec.
func writeRecord(path string, rec any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := binary.Write(f, binary.LittleEndian, rec); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readRecord decodes the little-endian encoding of rec from path.
// A missing or short file is an error; there is no partial decode.
func readRecord(path string, rec any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	if err := binary.Read(f, binary.LittleEndian, rec); err != nil {
		f.Close()
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadPersistedInfo reads the geometry record last written to root by
// Sync. It exists for inspection tooling: Create never reloads geometry,
// it always starts from its configured defaults.
func ReadPersistedInfo(root string) (blockdevice.Info, error) {
	var rec infoRecord
	if err := readRecord(filepath.Join(root, infoFileName), &rec); err != nil {
		return blockdevice.Info{}, err
	}
	return blockdevice.Info{
		ReadSize:  rec.ReadSize,
		ProgSize:  rec.ProgSize,
		EraseSize: rec.EraseSize,
		TotalSize: rec.TotalSize,
	}, nil
}

// ReadPersistedStats reads the counter record last written to root by
// Sync or Close.
func ReadPersistedStats(root string) (Stats, error) {
	var rec statsRecord
	if err := readRecord(filepath.Join(root, statsFileName), &rec); err != nil {
		return Stats{}, err
	}
	return Stats{
		ReadCount:  rec.ReadCount,
		ProgCount:  rec.ProgCount,
		EraseCount: rec.EraseCount,
	}, nil
}

// Format creates the device root if needed and seeds zeroed info and
// stats records, so a subsequent Create against the root succeeds.
// Formatting an existing root resets its counters but leaves backing
// block files alone.
func Format(root string, optFns ...Option) error {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(o)
	}
	if err := validateGeometry(o.Info); err != nil {
		return err
	}

	if err := os.Mkdir(root, 0777); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create device root: %w", err)
	}

	info := infoRecord{
		ReadSize:  o.Info.ReadSize,
		ProgSize:  o.Info.ProgSize,
		EraseSize: o.Info.EraseSize,
		TotalSize: o.Info.TotalSize,
	}
	if err := writeRecord(filepath.Join(root, infoFileName), &info); err != nil {
		return err
	}
	return writeRecord(filepath.Join(root, statsFileName), &statsRecord{})
}

func validateGeometry(info blockdevice.Info) error {
	if info.ReadSize == 0 || info.ProgSize == 0 || info.EraseSize == 0 || info.TotalSize == 0 {
		return fmt.Errorf("%w: geometry sizes must be positive", ErrInvalidArgument)
	}
	if info.TotalSize%info.EraseSize != 0 {
		return fmt.Errorf("%w: total size %d is not a multiple of erase size %d",
			ErrInvalidArgument, info.TotalSize, info.EraseSize)
	}
	return nil
}
