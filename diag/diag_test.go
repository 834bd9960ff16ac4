package diag_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sarchlab/pmbd/diag"
)

func TestCountersRecordAndSnapshot(t *testing.T) {
	c := diag.NewCounters()
	c.RecordRead(8)
	c.RecordWrite(4)
	c.RecordBarrier()
	c.RecordFUA()

	snap := c.Snapshot()
	require.EqualValues(t, 8, snap.NumSectorsRead)
	require.EqualValues(t, 4, snap.NumSectorsWrite)
	require.EqualValues(t, 1, snap.NumRequestsRead)
	require.EqualValues(t, 1, snap.NumRequestsWrite)
	require.EqualValues(t, 1, snap.NumWriteBarrier)
	require.EqualValues(t, 1, snap.NumWriteFUA)
	require.NotZero(t, snap.LastAccessUnixNS)
}

func TestStageTimerRecordsBucket(t *testing.T) {
	st := diag.NewStageTimer()
	st.Record(0, diag.StageMemcpy, diag.Write, 5*time.Millisecond)
	st.Record(0, diag.StageMemcpy, diag.Write, 5*time.Millisecond)

	snaps := st.Snapshot()
	require.Len(t, snaps, 1)
	require.Equal(t, diag.StageMemcpy, snaps[0].Stage)
	require.Equal(t, "write", snaps[0].Direction)
	require.EqualValues(t, 2, snaps[0].Count)
	require.Equal(t, 10*time.Millisecond, snaps[0].Total)
}

func TestServerServesStats(t *testing.T) {
	c := diag.NewCounters()
	c.RecordRead(1)
	st := diag.NewStageTimer()

	srv := diag.NewServer(c, st, func() string { return "dump" })

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var snap diag.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.EqualValues(t, 1, snap.NumRequestsRead)
}

func TestServerServesDump(t *testing.T) {
	c := diag.NewCounters()
	st := diag.NewStageTimer()
	srv := diag.NewServer(c, st, func() string { return "hello dump" })

	req := httptest.NewRequest("GET", "/dump", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "hello dump")
}

func TestDumpIncludesName(t *testing.T) {
	out := diag.Dump(diag.State{Name: "pmbd0"})
	require.Contains(t, out, "pmbd0")
}
