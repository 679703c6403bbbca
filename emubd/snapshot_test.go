package emubd

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/kurisaW/littlefs-mirror/blockdevice"
)

func TestSnapshot_RoundTrip(t *testing.T) {
	src := newTestDevice(t)
	info := src.Info()

	blockA := pattern('a', int(info.EraseSize))
	blockB := pattern('b', int(info.ProgSize)) // partial block
	require.NoError(t, src.Prog(0, 0, blockA))
	require.NoError(t, src.Prog(9, 0, blockB))
	require.NoError(t, src.Erase(4, 0, info.EraseSize))
	wantStats := src.Stats()

	var img bytes.Buffer
	require.NoError(t, src.WriteSnapshot(&img))

	// The destination has leftover state that restore must clear.
	dst := newTestDevice(t)
	require.NoError(t, dst.Prog(2, 0, pattern('x', int(info.ProgSize))))

	require.NoError(t, dst.RestoreSnapshot(bytes.NewReader(img.Bytes())))
	require.Equal(t, wantStats, dst.Stats())

	blocks, err := dst.Programmed()
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 9}, blocks.ToArray())

	got := make([]byte, info.EraseSize)
	require.NoError(t, dst.Read(0, 0, got))
	require.Equal(t, blockA, got)

	got = make([]byte, info.ProgSize)
	require.NoError(t, dst.Read(9, 0, got))
	require.Equal(t, blockB, got)

	// Restore synced the adopted counters (plus the reads above were
	// counted on top of them in memory only until the next sync).
	persisted, err := ReadPersistedStats(dst.Root())
	require.NoError(t, err)
	require.Equal(t, wantStats, persisted)
}

func TestSnapshot_EmptyDevice(t *testing.T) {
	src := newTestDevice(t)

	var img bytes.Buffer
	require.NoError(t, src.WriteSnapshot(&img))

	dst := newTestDevice(t)
	require.NoError(t, dst.RestoreSnapshot(bytes.NewReader(img.Bytes())))

	blocks, err := dst.Programmed()
	require.NoError(t, err)
	require.True(t, blocks.IsEmpty())
}

func TestSnapshot_BadMagic(t *testing.T) {
	dev := newTestDevice(t)

	err := dev.RestoreSnapshot(bytes.NewReader(bytes.Repeat([]byte{0xde}, 64)))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestSnapshot_GeometryMismatch(t *testing.T) {
	custom := blockdevice.Info{
		ReadSize:  64,
		ProgSize:  64,
		EraseSize: 128,
		TotalSize: 64 * 1024,
	}
	root := filepath.Join(t.TempDir(), "flash")
	require.NoError(t, Format(root, WithGeometry(custom)))
	src, err := Create(root, WithGeometry(custom))
	require.NoError(t, err)
	defer src.Close()

	var img bytes.Buffer
	require.NoError(t, src.WriteSnapshot(&img))

	dst := newTestDevice(t)
	err = dst.RestoreSnapshot(bytes.NewReader(img.Bytes()))
	require.ErrorIs(t, err, ErrGeometryMismatch)
}

func TestSnapshot_ChecksumMismatch(t *testing.T) {
	dev := newTestDevice(t)
	info := dev.Info()

	// Hand-build a snapshot whose checksum record lies.
	var img bytes.Buffer
	require.NoError(t, writeSnapshotHeader(&img, infoRecord{
		ReadSize:  info.ReadSize,
		ProgSize:  info.ProgSize,
		EraseSize: info.EraseSize,
		TotalSize: info.TotalSize,
	}))

	zw, err := zstd.NewWriter(&img)
	require.NoError(t, err)

	crc := crc32.NewIEEE()
	require.NoError(t, writeSnapRecord(zw, 1, pattern('c', int(info.EraseSize))))
	// crc deliberately not fed, so the recorded sum cannot match.
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], crc.Sum32())
	require.NoError(t, writeSnapRecord(zw, snapChecksumBlock, sum[:]))
	require.NoError(t, zw.Close())

	err = dev.RestoreSnapshot(bytes.NewReader(img.Bytes()))
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestSnapshot_Truncated(t *testing.T) {
	src := newTestDevice(t)
	require.NoError(t, src.Prog(0, 0, pattern('t', int(src.Info().EraseSize))))

	var img bytes.Buffer
	require.NoError(t, src.WriteSnapshot(&img))

	dst := newTestDevice(t)
	err := dst.RestoreSnapshot(bytes.NewReader(img.Bytes()[:img.Len()/2]))
	require.Error(t, err)
}
