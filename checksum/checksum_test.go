package checksum_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/checksum"
	"github.com/sarchlab/pmbd/config"
	"github.com/sarchlab/pmbd/pmbderr"
	"github.com/sarchlab/pmbd/region"
)

func TestOnWriteThenOnReadMatches(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	for i := range r.Bytes() {
		r.Bytes()[i] = byte(i)
	}

	s := checksum.NewStore(1, 4096)
	require.NoError(t, s.OnWrite(r, 0))
	require.NoError(t, s.OnRead(r, 0))
}

func TestOnReadDetectsMismatch(t *testing.T) {
	r, err := region.Map(4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	s := checksum.NewStore(1, 4096)
	require.NoError(t, s.OnWrite(r, 0))

	r.Bytes()[10] ^= 0xFF
	err = s.OnRead(r, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, pmbderr.ErrChecksumMismatch))
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "checksums.db")

	r, err := region.Map(2*4096, config.WB)
	require.NoError(t, err)
	defer r.Unmap()

	for i := range r.Bytes() {
		r.Bytes()[i] = byte(i % 251)
	}

	s := checksum.NewStore(2, 4096)
	require.NoError(t, s.OnWrite(r, 0))
	require.NoError(t, s.OnWrite(r, 1))
	require.NoError(t, s.Persist(dbPath))

	restored := checksum.NewStore(2, 4096)
	require.NoError(t, restored.Restore(dbPath))
	require.Equal(t, s.Get(0), restored.Get(0))
	require.Equal(t, s.Get(1), restored.Get(1))
}
