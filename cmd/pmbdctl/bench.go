package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/device"
)

var (
	benchCapacity   uint64
	benchOptions    string
	benchIterations int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic sequential read/write benchmark against an ephemeral device.",
	RunE:  runBench,
}

func init() {
	rootCmd.AddCommand(benchCmd)
	benchCmd.Flags().Uint64Var(&benchCapacity, "capacity", 64<<20, "device capacity in bytes")
	benchCmd.Flags().StringVar(&benchOptions, "options", "", "comma-separated key=val device options")
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 1000, "number of block-sized operations per pass")
}

func runBench(cmd *cobra.Command, args []string) error {
	b, err := config.ParseOptions(benchOptions)
	if err != nil {
		return err
	}
	cfg, err := b.WithCapacity(benchCapacity).Build()
	if err != nil {
		return err
	}

	d, err := device.Activate("bench", cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	sectorsPerOp := cfg.BlockSize / cfg.SectorSize
	numSectors := cfg.Capacity / cfg.SectorSize
	span := numSectors - sectorsPerOp + 1

	payload := make([]byte, cfg.BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	scratch := make([]byte, cfg.BlockSize)

	writeStart := time.Now()
	for i := 0; i < benchIterations; i++ {
		sector := (uint64(i) * sectorsPerOp) % span
		if err := d.Write(sector, cfg.BlockSize, payload, 0); err != nil {
			return err
		}
	}
	writeElapsed := time.Since(writeStart)

	if err := d.Flush(); err != nil {
		return err
	}

	readStart := time.Now()
	for i := 0; i < benchIterations; i++ {
		sector := (uint64(i) * sectorsPerOp) % span
		if err := d.Read(sector, cfg.BlockSize, scratch); err != nil {
			return err
		}
	}
	readElapsed := time.Since(readStart)

	totalBytes := uint64(benchIterations) * cfg.BlockSize
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "write: %d ops, %d bytes, %s (%.2f MB/s)\n",
		benchIterations, totalBytes, writeElapsed, mbps(totalBytes, writeElapsed))
	fmt.Fprintf(out, "read:  %d ops, %d bytes, %s (%.2f MB/s)\n",
		benchIterations, totalBytes, readElapsed, mbps(totalBytes, readElapsed))

	return nil
}

func mbps(bytes uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / d.Seconds() / 1e6
}
