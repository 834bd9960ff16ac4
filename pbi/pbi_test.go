package pbi_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/pbi"
)

func TestNewTableStartsUnbuffered(t *testing.T) {
	tbl := pbi.NewTable(4)
	require.EqualValues(t, 4, tbl.NumBlocks())

	e := tbl.Get(2)
	e.Lock()
	defer e.Unlock()
	require.False(t, e.Buffered())
	require.Equal(t, pbi.Unbuffered, e.BBN())
}

func TestSetAndUnlinkBBN(t *testing.T) {
	tbl := pbi.NewTable(1)
	e := tbl.Get(0)

	e.Lock()
	e.SetBBN(5)
	require.True(t, e.Buffered())
	require.EqualValues(t, 5, e.BBN())
	e.Unlink()
	require.False(t, e.Buffered())
	e.Unlock()
}

func TestGetOutOfRangePanics(t *testing.T) {
	tbl := pbi.NewTable(1)
	require.Panics(t, func() { tbl.Get(1) })
}
