package emubd

import "errors"

var (
	// ErrInvalidArgument is returned when an offset or size is not a
	// multiple of the relevant granularity, or when the addressed range
	// reaches past the end of the device. No I/O has been performed and
	// no state has changed when it is returned.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidMagic is returned when a snapshot stream does not start
	// with the snapshot magic.
	ErrInvalidMagic = errors.New("invalid snapshot magic")

	// ErrInvalidVersion is returned for snapshot versions this build
	// cannot decode.
	ErrInvalidVersion = errors.New("unsupported snapshot version")

	// ErrGeometryMismatch is returned when a snapshot was captured from
	// a device with a different geometry than the restore target.
	ErrGeometryMismatch = errors.New("snapshot geometry mismatch")

	// ErrChecksumMismatch indicates snapshot payload corruption.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)
