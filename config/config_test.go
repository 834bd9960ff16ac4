package config_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/pmbderr"
)

func TestBuilderDefaults(t *testing.T) {
	c, err := config.NewBuilder().WithCapacity(16 * config.DefaultBlockSize).Build()
	require.NoError(t, err)
	require.Equal(t, config.WB, c.Cache)
	require.Equal(t, config.PTEMode, c.WPMode)
	require.False(t, c.BufEnabled)
}

func TestBuilderRejectsUnalignedCapacity(t *testing.T) {
	_, err := config.NewBuilder().WithCapacity(4097).Build()
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrBadConfig))
}

func TestBuilderRejectsSmallBuffer(t *testing.T) {
	_, err := config.NewBuilder().
		WithCapacity(16 * config.DefaultBlockSize).
		WithBuffer(1<<20, 1, 1, 4).
		Build()
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrBadConfig))
}

func TestBuilderRejectsMultiBufferCR0(t *testing.T) {
	_, err := config.NewBuilder().
		WithCapacity(16 * config.DefaultBlockSize).
		WithWrprot(true).
		WithWPMode(config.CR0Mode).
		WithBuffer(config.MinBufSize, 2, 1, 4).
		Build()
	require.Error(t, err)
}

func TestBuilderNTLForcesWC(t *testing.T) {
	c, err := config.NewBuilder().
		WithCapacity(16 * config.DefaultBlockSize).
		WithNTL(true).
		Build()
	require.NoError(t, err)
	require.Equal(t, config.WC, c.Cache)
}

func TestParseOptions(t *testing.T) {
	b, err := config.ParseOptions("cache=wc,wrprot,checksum,buf,buf.size=16777216,buf.batch=8")
	require.NoError(t, err)

	c, err := b.WithCapacity(16 * config.DefaultBlockSize).Build()
	require.NoError(t, err)
	require.Equal(t, config.WC, c.Cache)
	require.True(t, c.Wrprot)
	require.True(t, c.Checksum)
	require.True(t, c.BufEnabled)
	require.EqualValues(t, 16777216, c.BufSize)
	require.Equal(t, 8, c.BufBatch)
}

func TestParseOptionsRejectsUnknownCache(t *testing.T) {
	_, err := config.ParseOptions("cache=bogus")
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrBadConfig))
}
