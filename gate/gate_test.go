package gate_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/gate"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
)

func TestPTEWindowRoundTrip(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	g := gate.New(r, true, config.PTEMode)
	require.NoError(t, g.Activate())

	w, err := g.Open(0, 4096)
	require.NoError(t, err)
	r.Bytes()[0] = 7
	require.NoError(t, w.Close())
	require.Equal(t, byte(7), r.Bytes()[0])
}

func TestWindowClosedTwiceIsInvariantError(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	g := gate.New(r, true, config.PTEMode)
	require.NoError(t, g.Activate())

	w, err := g.Open(0, 4096)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Close()
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrInternalInvariant))
}

func TestCR0WindowRoundTrip(t *testing.T) {
	r, err := region.Map(2*4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	g := gate.New(r, true, config.CR0Mode)
	require.NoError(t, g.Activate())

	w, err := g.Open(4096, 4096)
	require.NoError(t, err)
	r.Bytes()[4096] = 9
	require.NoError(t, w.Close())
	require.Equal(t, byte(9), r.Bytes()[4096])
}

func TestVerifyDetectsMismatch(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	copy(r.Bytes(), []byte{1, 2, 3, 4})
	err = gate.Verify(r, 0, []byte{1, 2, 3, 5})
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrWriteVerificationFailed))
}

func TestVerifyMatches(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	copy(r.Bytes(), []byte{1, 2, 3, 4})
	require.NoError(t, gate.Verify(r, 0, []byte{1, 2, 3, 4}))
}

func TestNoWrprotIsNoop(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	g := gate.New(r, false, config.PTEMode)
	require.NoError(t, g.Activate())
	w, err := g.Open(0, 4096)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}
