package emubd

import (
	"log/slog"
	"os"

	"github.com/kurisaW/littlefs-mirror/blockdevice"
)

// Default geometry, matching the configuration the emulator is normally
// built with: 256-byte reads and programs, 512-byte erase blocks, 512KiB
// total.
const (
	DefaultReadSize  = 256
	DefaultProgSize  = 256
	DefaultEraseSize = 512
	DefaultTotalSize = 512 * 1024
)

// Options contains configuration for a Device.
type Options struct {
	// Info is the device geometry. Geometry is fixed at Create and is
	// never reloaded from a previously persisted info record.
	Info blockdevice.Info

	// Logger receives debug-level operation tracing. Defaults to a
	// logger that discards all output.
	Logger *slog.Logger
}

// Option configures Create and Format behavior.
type Option func(*Options)

// WithGeometry overrides the default device geometry.
func WithGeometry(info blockdevice.Info) Option {
	return func(o *Options) {
		o.Info = info
	}
}

// WithLogger configures structured logging for device operations.
//
// If nil is passed, the default discarding logger is kept.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

func defaultOptions() *Options {
	return &Options{
		Info: blockdevice.Info{
			ReadSize:  DefaultReadSize,
			ProgSize:  DefaultProgSize,
			EraseSize: DefaultEraseSize,
			TotalSize: DefaultTotalSize,
		},
		Logger: noopLogger(),
	}
}

// noopLogger returns a logger that discards all log output.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}
