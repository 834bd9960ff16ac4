package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/sarchlab/pmbd/pmbderr"
)

// ParseOptions parses a comma-separated "key=val,key2=val2" options string
// into a Builder seeded with defaults, the way the original driver's
// module-parameter string was parsed. It leans on pflag the same way
// cobra's own flag parsing does, rather than hand-rolling a tokenizer.
func ParseOptions(options string) (Builder, error) {
	b := NewBuilder()

	fs := pflag.NewFlagSet("pmbd-options", pflag.ContinueOnError)
	fs.Usage = func() {}

	cache := fs.String("cache", "wb", "")
	nts := fs.Bool("nts", false, "")
	ntl := fs.Bool("ntl", false, "")
	clflush := fs.Bool("clflush", false, "")
	wb := fs.Bool("wb", false, "")
	fua := fs.Bool("fua", false, "")
	wrprot := fs.Bool("wrprot", false, "")
	wpmode := fs.String("wpmode", "pte", "")
	wrverify := fs.Bool("wrverify", false, "")
	checksum := fs.Bool("checksum", false, "")
	lock := fs.Bool("lock", true, "")
	subupdate := fs.Bool("subupdate", false, "")
	bufOn := fs.Bool("buf", false, "")
	bufSize := fs.Uint64("buf.size", MinBufSize, "")
	bufCount := fs.Int("buf.count", 1, "")
	bufStride := fs.Uint64("buf.stride", 1, "")
	bufBatch := fs.Int("buf.batch", 32, "")
	rdlat := fs.Uint64("rdlat", 0, "")
	wrlat := fs.Uint64("wrlat", 0, "")
	rdbw := fs.Uint64("rdbw", 0, "")
	wrbw := fs.Uint64("wrbw", 0, "")
	rdsx := fs.Uint64("rdsx", 0, "")
	wrsx := fs.Uint64("wrsx", 0, "")
	rdpause := fs.Uint64("rdpause", 0, "")
	wrpause := fs.Uint64("wrpause", 0, "")
	simmode := fs.Int("simmode", 0, "")
	blockSize := fs.Uint64("blocksize", DefaultBlockSize, "")
	capacity := fs.Uint64("capacity", 0, "")

	args, err := toFlagArgs(options)
	if err != nil {
		return Builder{}, err
	}
	if err := fs.Parse(args); err != nil {
		return Builder{}, fmt.Errorf("%w: %v", pmbderr.ErrBadConfig, err)
	}

	c, err := parseCacheability(*cache)
	if err != nil {
		return Builder{}, err
	}
	wpm, err := parseWPMode(*wpmode)
	if err != nil {
		return Builder{}, err
	}

	b = b.WithCache(c).
		WithNTS(*nts).
		WithClflush(*clflush).
		WithWriteBarrier(*wb).
		WithFUA(*fua).
		WithWrprot(*wrprot).
		WithWPMode(wpm).
		WithWrverify(*wrverify).
		WithChecksum(*checksum).
		WithLock(*lock).
		WithSubupdate(*subupdate).
		WithRdLat(*rdlat).
		WithWrLat(*wrlat).
		WithRdBW(*rdbw).
		WithWrBW(*wrbw).
		WithRdSX(*rdsx).
		WithWrSX(*wrsx).
		WithRdPause(*rdpause).
		WithWrPause(*wrpause).
		WithSimMode(SimMode(*simmode)).
		WithBlockSize(*blockSize).
		WithCapacity(*capacity)

	if *ntl {
		b = b.WithNTL(true)
	}
	if *bufOn {
		b = b.WithBuffer(*bufSize, *bufCount, *bufStride, *bufBatch)
	}

	return b, nil
}

// toFlagArgs turns "cache=wb,nts,buf.size=16777216" into pflag long-flag
// tokens ("--cache=wb", "--nts", "--buf.size=16777216"). A bare key with
// no "=val" is treated as a boolean flag set to true.
func toFlagArgs(options string) ([]string, error) {
	options = strings.TrimSpace(options)
	if options == "" {
		return nil, nil
	}

	fields := strings.Split(options, ",")
	args := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !strings.Contains(f, "=") {
			args = append(args, "--"+f)
			continue
		}
		args = append(args, "--"+f)
	}
	return args, nil
}

func parseCacheability(s string) (Cacheability, error) {
	switch strings.ToLower(s) {
	case "wb":
		return WB, nil
	case "wc":
		return WC, nil
	case "uc":
		return UC, nil
	case "uc-", "ucminus":
		return UCMinus, nil
	default:
		return 0, fmt.Errorf("%w: unknown cache mode %q", pmbderr.ErrBadConfig, s)
	}
}

func parseWPMode(s string) (WPMode, error) {
	switch strings.ToLower(s) {
	case "pte":
		return PTEMode, nil
	case "cr0":
		return CR0Mode, nil
	default:
		return 0, fmt.Errorf("%w: unknown wpmode %q", pmbderr.ErrBadConfig, s)
	}
}
