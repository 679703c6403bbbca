// Package emubd emulates a raw block device on top of a directory of
// ordinary files, so filesystem code can be exercised and tested without
// flash hardware.
//
// Each programmed erase block is backed by one file in the device root,
// named by the block index in lowercase hex. Absence of the file is the
// erased state, which reads back as zeros. Geometry and operation
// counters are persisted as fixed-layout records in the well-known
// "info" and "stats" files under the root.
//
// # Lifecycle
//
//	_ = emubd.Format("./flash")            // seed a fresh device root
//	dev, _ := emubd.Create("./flash")      // geometry from options, stats from disk
//	defer dev.Close()                      // final sync
//
//	_ = dev.Prog(2, 0, data)
//	_ = dev.Read(2, 0, buf)
//	_ = dev.Erase(2, 0, dev.Info().EraseSize)
//
// A Device is not safe for concurrent use; callers serialize access or
// use one handle per worker.
package emubd
