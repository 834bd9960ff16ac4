package copyops_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/copyops"
	"github.com/sarchlab/pmbd/region"
)

func TestStoreBasic(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	src := make([]byte, 4096)
	for i := range src {
		src[i] = 0xAA
	}

	dst := r.Bytes()[0:4096]
	require.NoError(t, copyops.Store(r, 0, dst, src, copyops.Policy{}))
	require.Equal(t, src, dst)
}

func TestStoreRejectsLengthMismatch(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	err = copyops.Store(r, 0, r.Bytes()[0:10], make([]byte, 5), copyops.Policy{})
	require.Error(t, err)
}

func TestStoreSubUpdateSkipsUnchangedLines(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	dst := r.Bytes()[0:128]
	for i := range dst {
		dst[i] = byte(i)
	}
	src := make([]byte, 128)
	copy(src, dst)
	// Change only the second cache line.
	src[70] = 0xFF

	require.NoError(t, copyops.Store(r, 0, dst, src, copyops.Policy{Subupdate: true}))
	require.Equal(t, byte(0xFF), dst[70])
	require.Equal(t, src, dst)
}

func TestAlignedForNonTemporal(t *testing.T) {
	require.True(t, copyops.AlignedForNonTemporal(0, 64))
	require.True(t, copyops.AlignedForNonTemporal(64, 128))
	require.False(t, copyops.AlignedForNonTemporal(1, 64))
	require.False(t, copyops.AlignedForNonTemporal(0, 63))
	require.False(t, copyops.AlignedForNonTemporal(0, 0))
}

func TestLoadRejectsLengthMismatch(t *testing.T) {
	err := copyops.Load(make([]byte, 4), make([]byte, 5), copyops.Policy{})
	require.Error(t, err)
}
