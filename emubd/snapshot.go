package emubd

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

// Snapshot container: a fixed header carrying the geometry, followed by
// a zstd-compressed stream of block records. Each record is
// [block:4][length:4][payload]; two reserved block indices close the
// stream, one carrying the device counters and one carrying a CRC32
// (IEEE) of every preceding record.
var (
	snapMagic   = [4]byte{'L', 'F', 'S', '0'}
	snapVersion = uint16(1)
)

const (
	snapHeaderLen = 28 // magic + version + flags + geometry + reserved

	snapFlagCompressed = uint16(1)

	// Reserved record indices, outside any addressable block range.
	snapStatsBlock    = uint32(0xffffffff)
	snapChecksumBlock = uint32(0xfffffffe)
)

func writeSnapshotHeader(w io.Writer, info infoRecord) error {
	buf := make([]byte, 0, snapHeaderLen)
	buf = append(buf, snapMagic[:]...)
	var fixed [24]byte
	binary.LittleEndian.PutUint16(fixed[0:2], snapVersion)
	binary.LittleEndian.PutUint16(fixed[2:4], snapFlagCompressed)
	binary.LittleEndian.PutUint32(fixed[4:8], info.ReadSize)
	binary.LittleEndian.PutUint32(fixed[8:12], info.ProgSize)
	binary.LittleEndian.PutUint32(fixed[12:16], info.EraseSize)
	binary.LittleEndian.PutUint32(fixed[16:20], info.TotalSize)
	// fixed[20:24] reserved
	buf = append(buf, fixed[:]...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}
	return nil
}

func readSnapshotHeader(r io.Reader) (infoRecord, uint16, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return infoRecord{}, 0, fmt.Errorf("failed to read snapshot magic: %w", err)
	}
	if magic != snapMagic {
		return infoRecord{}, 0, ErrInvalidMagic
	}

	fixed := make([]byte, snapHeaderLen-4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return infoRecord{}, 0, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if version := binary.LittleEndian.Uint16(fixed[0:2]); version != snapVersion {
		return infoRecord{}, 0, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	flags := binary.LittleEndian.Uint16(fixed[2:4])
	info := infoRecord{
		ReadSize:  binary.LittleEndian.Uint32(fixed[4:8]),
		ProgSize:  binary.LittleEndian.Uint32(fixed[8:12]),
		EraseSize: binary.LittleEndian.Uint32(fixed[12:16]),
		TotalSize: binary.LittleEndian.Uint32(fixed[16:20]),
	}
	return info, flags, nil
}

func writeSnapRecord(w io.Writer, block uint32, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], block)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write snapshot record: %w", err)
	}
	return nil
}

// WriteSnapshot captures the device image — every programmed block plus
// the current counters — as a single compressed stream. The result can
// be replayed into a device of the same geometry with RestoreSnapshot.
func (d *Device) WriteSnapshot(w io.Writer) error {
	d.logger.Debug("snapshot", "root", d.root)

	info := infoRecord{
		ReadSize:  d.info.ReadSize,
		ProgSize:  d.info.ProgSize,
		EraseSize: d.info.EraseSize,
		TotalSize: d.info.TotalSize,
	}
	if err := writeSnapshotHeader(w, info); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create snapshot compressor: %w", err)
	}

	// Everything before the checksum record feeds the running CRC.
	crc := crc32.NewIEEE()
	body := io.MultiWriter(zw, crc)

	blocks, err := d.Programmed()
	if err != nil {
		zw.Close()
		return err
	}
	it := blocks.Iterator()
	for it.HasNext() {
		block := it.Next()
		data, err := os.ReadFile(d.blockPath(block))
		if err != nil {
			zw.Close()
			return fmt.Errorf("failed to read block %x: %w", block, err)
		}
		if err := writeSnapRecord(body, block, data); err != nil {
			zw.Close()
			return err
		}
	}

	var stats [24]byte
	binary.LittleEndian.PutUint64(stats[0:8], d.stats.ReadCount)
	binary.LittleEndian.PutUint64(stats[8:16], d.stats.ProgCount)
	binary.LittleEndian.PutUint64(stats[16:24], d.stats.EraseCount)
	if err := writeSnapRecord(body, snapStatsBlock, stats[:]); err != nil {
		zw.Close()
		return err
	}

	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	if err := writeSnapRecord(zw, snapChecksumBlock, sum[:]); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish snapshot: %w", err)
	}
	return nil
}

// RestoreSnapshot replays a snapshot into the device. The snapshot must
// have been captured from a device with the same geometry. All currently
// programmed blocks are erased first, then the snapshot's blocks are
// materialized and its counters adopted; a trailing Sync persists them.
//
// Restore offers no atomicity: on error the device root may hold a mix
// of old and new blocks, matching the device's own multi-block contract.
func (d *Device) RestoreSnapshot(r io.Reader) error {
	d.logger.Debug("restore", "root", d.root)

	info, flags, err := readSnapshotHeader(r)
	if err != nil {
		return err
	}
	if info.ReadSize != d.info.ReadSize || info.ProgSize != d.info.ProgSize ||
		info.EraseSize != d.info.EraseSize || info.TotalSize != d.info.TotalSize {
		return fmt.Errorf("%w: snapshot %d/%d/%d/%d device %d/%d/%d/%d",
			ErrGeometryMismatch,
			info.ReadSize, info.ProgSize, info.EraseSize, info.TotalSize,
			d.info.ReadSize, d.info.ProgSize, d.info.EraseSize, d.info.TotalSize)
	}

	src := r
	if flags&snapFlagCompressed != 0 {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to open snapshot compressor: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	// Clear the current image.
	blocks, err := d.Programmed()
	if err != nil {
		return err
	}
	it := blocks.Iterator()
	for it.HasNext() {
		if err := os.Remove(d.blockPath(it.Next())); err != nil {
			return fmt.Errorf("failed to clear block: %w", err)
		}
	}

	// Block files are independent, so materialize them concurrently.
	// Limit concurrency to avoid FD exhaustion.
	var g errgroup.Group
	g.SetLimit(16)

	crc := crc32.NewIEEE()
	var stats *Stats
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(src, hdr[:]); err != nil {
			g.Wait()
			return fmt.Errorf("failed to read snapshot record: %w", err)
		}
		block := binary.LittleEndian.Uint32(hdr[0:4])
		length := binary.LittleEndian.Uint32(hdr[4:8])

		if block == snapChecksumBlock {
			var sum [4]byte
			if length != uint32(len(sum)) {
				g.Wait()
				return fmt.Errorf("%w: bad checksum record length %d", ErrChecksumMismatch, length)
			}
			if _, err := io.ReadFull(src, sum[:]); err != nil {
				g.Wait()
				return fmt.Errorf("failed to read snapshot checksum: %w", err)
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if binary.LittleEndian.Uint32(sum[:]) != crc.Sum32() {
				return ErrChecksumMismatch
			}
			break
		}

		if length > info.EraseSize && block != snapStatsBlock {
			g.Wait()
			return fmt.Errorf("%w: block %x record length %d exceeds erase size",
				ErrChecksumMismatch, block, length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(src, payload); err != nil {
			g.Wait()
			return fmt.Errorf("failed to read snapshot record: %w", err)
		}
		crc.Write(hdr[:])
		crc.Write(payload)

		switch {
		case block == snapStatsBlock:
			if length != 24 {
				g.Wait()
				return fmt.Errorf("%w: bad stats record length %d", ErrChecksumMismatch, length)
			}
			stats = &Stats{
				ReadCount:  binary.LittleEndian.Uint64(payload[0:8]),
				ProgCount:  binary.LittleEndian.Uint64(payload[8:16]),
				EraseCount: binary.LittleEndian.Uint64(payload[16:24]),
			}
		case block >= d.info.BlockCount():
			g.Wait()
			return fmt.Errorf("%w: block %x out of range", ErrChecksumMismatch, block)
		default:
			path := d.blockPath(block)
			g.Go(func() error {
				if err := os.WriteFile(path, payload, 0666); err != nil {
					return fmt.Errorf("failed to write block: %w", err)
				}
				return nil
			})
		}
	}

	if stats != nil {
		d.stats = *stats
	}
	return d.Sync()
}
