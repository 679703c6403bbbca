// Package blockdevice defines the contract between a block-addressable
// storage backend and the filesystem code that consumes it.
//
// Device is the interface for driving a device by logical block address.
// Implementations must document their concurrency guarantees; the
// emulated backend in package emubd requires external serialization.
//
// # Custom Implementations
//
// Implement the Device interface to plug in a different backend (e.g. a
// real flash driver) without touching the consumer:
//
//	type Device interface {
//	    Read(block, off uint32, p []byte) error
//	    Prog(block, off uint32, p []byte) error
//	    Erase(block, off, size uint32) error
//	    Sync() error
//	    Info() Info
//	}
package blockdevice

// Info describes the geometry of a block device: the minimum aligned
// chunk for each operation and the total addressable size.
//
// All four fields are positive and TotalSize is a multiple of EraseSize.
// Geometry is fixed for the lifetime of a device handle.
type Info struct {
	ReadSize  uint32 // minimum read granularity in bytes
	ProgSize  uint32 // minimum program granularity in bytes
	EraseSize uint32 // erase granularity in bytes (the logical block size)
	TotalSize uint32 // total addressable size in bytes
}

// BlockCount returns the number of addressable erase blocks.
func (i Info) BlockCount() uint32 {
	if i.EraseSize == 0 {
		return 0
	}
	return i.TotalSize / i.EraseSize
}

// Device is the uniform operation surface over a block device.
//
// Read and Prog address a byte range starting at off within the given
// erase block; len(p) carries the transfer size. Erase clears size bytes
// worth of erase blocks. Sync flushes any device-side state to stable
// storage. Info returns a copy of the device geometry and cannot fail.
type Device interface {
	// Read copies len(p) bytes from the device into p.
	Read(block, off uint32, p []byte) error

	// Prog writes len(p) bytes from p to the device.
	Prog(block, off uint32, p []byte) error

	// Erase resets size bytes of the device to its erased state.
	Erase(block, off, size uint32) error

	// Sync flushes device state to stable storage.
	Sync() error

	// Info returns the device geometry.
	Info() Info
}
