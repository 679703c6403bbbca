// Command lfsemu formats, inspects, and images emulated block device
// roots.
//
//	lfsemu format --root ./flash --total-size 524288
//	lfsemu prog --root ./flash --block 2 data.bin
//	lfsemu read --root ./flash --block 2 --size 256
//	lfsemu map --root ./flash
//	lfsemu snapshot --root ./flash flash.img
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kurisaW/littlefs-mirror/blockdevice"
	"github.com/kurisaW/littlefs-mirror/emubd"
)

func main() {
	var (
		rootDir string
		verbose bool
	)

	root := &cobra.Command{
		Use:           "lfsemu",
		Short:         "File-backed block device emulator utility",
		Long:          "Format, drive, inspect, and image emulated flash device roots",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rootDir, "root", "./emubd", "device root directory")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "log every device operation")

	// openDevice opens a handle with the geometry persisted in the
	// root's info record, so per-command geometry flags are not needed.
	openDevice := func() (*emubd.Device, error) {
		info, err := emubd.ReadPersistedInfo(rootDir)
		if err != nil {
			return nil, fmt.Errorf("not a formatted device root (run lfsemu format): %w", err)
		}
		opts := []emubd.Option{emubd.WithGeometry(info)}
		if verbose {
			opts = append(opts, emubd.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}))))
		}
		return emubd.Create(rootDir, opts...)
	}

	var (
		readSize  uint32
		progSize  uint32
		eraseSize uint32
		totalSize uint32
	)
	formatCmd := &cobra.Command{
		Use:   "format",
		Short: "Create a device root and seed its info/stats records",
		RunE: func(_ *cobra.Command, _ []string) error {
			info := blockdevice.Info{
				ReadSize:  readSize,
				ProgSize:  progSize,
				EraseSize: eraseSize,
				TotalSize: totalSize,
			}
			if err := emubd.Format(rootDir, emubd.WithGeometry(info)); err != nil {
				return err
			}
			fmt.Printf("formatted %s: read=%d prog=%d erase=%d total=%d (%d blocks)\n",
				rootDir, info.ReadSize, info.ProgSize, info.EraseSize, info.TotalSize, info.BlockCount())
			return nil
		},
	}
	formatCmd.Flags().Uint32Var(&readSize, "read-size", emubd.DefaultReadSize, "read granularity in bytes")
	formatCmd.Flags().Uint32Var(&progSize, "prog-size", emubd.DefaultProgSize, "program granularity in bytes")
	formatCmd.Flags().Uint32Var(&eraseSize, "erase-size", emubd.DefaultEraseSize, "erase block size in bytes")
	formatCmd.Flags().Uint32Var(&totalSize, "total-size", emubd.DefaultTotalSize, "total device size in bytes")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print the geometry persisted in the device root",
		RunE: func(_ *cobra.Command, _ []string) error {
			info, err := emubd.ReadPersistedInfo(rootDir)
			if err != nil {
				return err
			}
			fmt.Printf("read size:  %d\n", info.ReadSize)
			fmt.Printf("prog size:  %d\n", info.ProgSize)
			fmt.Printf("erase size: %d\n", info.EraseSize)
			fmt.Printf("total size: %d (%d blocks)\n", info.TotalSize, info.BlockCount())
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the operation counters persisted in the device root",
		RunE: func(_ *cobra.Command, _ []string) error {
			stats, err := emubd.ReadPersistedStats(rootDir)
			if err != nil {
				return err
			}
			fmt.Printf("reads:    %d\n", stats.ReadCount)
			fmt.Printf("programs: %d\n", stats.ProgCount)
			fmt.Printf("erases:   %d\n", stats.EraseCount)
			return nil
		},
	}

	var (
		block uint32
		off   uint32
		size  uint32
	)
	readCmd := &cobra.Command{
		Use:   "read",
		Short: "Read a range and hex-dump it to stdout",
		RunE: func(_ *cobra.Command, _ []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			buf := make([]byte, size)
			if err := dev.Read(block, off, buf); err != nil {
				return err
			}
			dumper := hex.Dumper(os.Stdout)
			defer dumper.Close()
			_, err = dumper.Write(buf)
			return err
		},
	}
	readCmd.Flags().Uint32Var(&block, "block", 0, "erase block index")
	readCmd.Flags().Uint32Var(&off, "off", 0, "byte offset within the block")
	readCmd.Flags().Uint32Var(&size, "size", 0, "bytes to read")

	progCmd := &cobra.Command{
		Use:   "prog [file]",
		Short: "Program bytes from a file (or stdin) into a range",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			in := os.Stdin
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := dev.Prog(block, off, data); err != nil {
				return err
			}
			fmt.Printf("programmed %d bytes at block %d off %d\n", len(data), block, off)
			return nil
		},
	}
	progCmd.Flags().Uint32Var(&block, "block", 0, "erase block index")
	progCmd.Flags().Uint32Var(&off, "off", 0, "byte offset within the block")

	var count uint32
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase a run of blocks",
		RunE: func(_ *cobra.Command, _ []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			if err := dev.Erase(block, 0, count*dev.Info().EraseSize); err != nil {
				return err
			}
			fmt.Printf("erased %d block(s) from block %d\n", count, block)
			return nil
		},
	}
	eraseCmd.Flags().Uint32Var(&block, "block", 0, "first erase block index")
	eraseCmd.Flags().Uint32Var(&count, "count", 1, "number of erase blocks")

	mapCmd := &cobra.Command{
		Use:   "map",
		Short: "Show which blocks are currently programmed",
		RunE: func(_ *cobra.Command, _ []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			blocks, err := dev.Programmed()
			if err != nil {
				return err
			}
			total := dev.Info().BlockCount()
			fmt.Printf("%d of %d blocks programmed\n", blocks.GetCardinality(), total)
			if !blocks.IsEmpty() {
				fmt.Printf("blocks: %s\n", blocks.String())
			}
			return nil
		},
	}

	snapshotCmd := &cobra.Command{
		Use:   "snapshot <file>",
		Short: "Capture the device image to a compressed snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := dev.WriteSnapshot(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Printf("snapshot written to %s\n", args[0])
			return nil
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replay a snapshot file into the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if err := dev.RestoreSnapshot(f); err != nil {
				return err
			}
			fmt.Printf("restored %s into %s\n", args[0], rootDir)
			return nil
		},
	}

	root.AddCommand(formatCmd, infoCmd, statsCmd, readCmd, progCmd, eraseCmd, mapCmd, snapshotCmd, restoreCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
