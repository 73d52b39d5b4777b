package history

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pol2cat/internal/catalogue"
	"github.com/banshee-data/pol2cat/internal/starlink"
	"github.com/banshee-data/pol2cat/internal/timeutil"
)

// Compile-time check
var _ starlink.Recorder = (*Run)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	// Reopening an up-to-date database is not an error.
	path := filepath.Join(t.TempDir(), "again.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s2.Close())
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	clock.Step = 95 * time.Second
	s.clock = clock

	run, err := s.BeginRun("raw/*.sdf", "out.FIT", "")
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run IDs are UUIDs")

	run.RecordInvocation("$SMURF_DIR/calcqu in=raw fix", "", 1500*time.Millisecond, nil)
	run.RecordInvocation("$POLPACK_DIR/polvec cube cat=out.FIT", "!! bad", 20*time.Millisecond,
		errors.New("polvec failed"))

	vs := []catalogue.Vector{
		{X: 1, Y: 2, P: 3, Ang: 10, PI: 0.3, DPI: 0.05},
		{X: 4, Y: 5, P: math.NaN(), Ang: 20, PI: 0.4, DPI: 0.05},
	}
	require.NoError(t, run.SaveVectors(vs))
	require.NoError(t, run.Finish(Outcome{
		Subarrays: []string{"S4A", "S8B"},
		Summary:   catalogue.Summary{N: 2, MeanP: 3, Selected: 1},
	}))

	runs, err := s.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "raw/*.sdf", got.Input)
	assert.Equal(t, "local", got.Target)
	assert.Equal(t, StatusOK, got.Status)
	assert.Equal(t, []string{"S4A", "S8B"}, got.Subarrays)
	assert.Equal(t, 2, got.Vectors)
	assert.Equal(t, 1, got.Selected)
	assert.Equal(t, 3.0, got.MeanP)
	assert.Equal(t, 2, got.Invocations)
	assert.Equal(t, 95*time.Second, got.Duration())

	invs, err := s.Invocations(run.ID)
	require.NoError(t, err)
	require.Len(t, invs, 2)
	assert.Equal(t, "calcqu", invs[0].Tool)
	assert.Equal(t, 1500*time.Millisecond, invs[0].Elapsed)
	assert.False(t, invs[0].Failed)
	assert.Equal(t, "polvec", invs[1].Tool)
	assert.True(t, invs[1].Failed)
	assert.Equal(t, "polvec failed", invs[1].Error)

	n, err := s.VectorCount(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFailedRun(t *testing.T) {
	s := openTestStore(t)
	run, err := s.BeginRun("raw", "out.FIT", "jcmt")
	require.NoError(t, err)
	require.NoError(t, run.Finish(Outcome{Err: errors.New("wcsmosaic failed:\n!! no overlap")}))

	runs, err := s.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "jcmt", runs[0].Target)
	assert.True(t, math.IsNaN(runs[0].MeanP))
	assert.Nil(t, runs[0].Subarrays)
}

func TestListRuns_NewestFirstAndLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(base)
	clock.Step = time.Hour
	s.clock = clock
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := s.BeginRun("raw", "out.FIT", "")
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := s.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
	assert.Equal(t, time.Duration(0), runs[0].Duration(), "still running")

	all, err := s.ListRuns(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWriteRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	runs := []RunInfo{
		{
			ID:         "0f8fad5b-d9cb-469f-a165-70867728950e",
			StartedAt:  now.Add(-2 * time.Hour),
			FinishedAt: now.Add(-2*time.Hour + 90*time.Second),
			Status:     StatusOK,
			Subarrays:  []string{"S4A", "S8B"},
			Vectors:    1234,
			Selected:   56,
			MeanP:      4.256,
			Catalogue:  "out.FIT",
		},
		{
			ID:        "7c9e6679-7425-40de-944b-e07fc1f90ae7",
			StartedAt: now.Add(-3 * time.Hour),
			Status:    StatusFailed,
			Error:     "polvec failed:\n!! bad catalogue",
			MeanP:     math.NaN(),
			Catalogue: "x.FIT",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRuns(&buf, runs, now))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "STARTED")

	assert.Contains(t, lines[1], "0f8fad5b")
	assert.Contains(t, lines[1], "2 hours ago")
	assert.Contains(t, lines[1], "1m30s")
	assert.Contains(t, lines[1], "56/1,234")
	assert.Contains(t, lines[1], "4.26")
	assert.Contains(t, lines[1], "S4A,S8B")

	assert.Contains(t, lines[2], "failed: polvec failed:")
	assert.NotContains(t, lines[2], "bad catalogue")

	buf.Reset()
	require.NoError(t, WriteRuns(&buf, nil, now))
	assert.Equal(t, "No runs recorded.\n", buf.String())
}

func TestMeanPText(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{4.256, "4.26"},
		{7.128, "7.13"},
		{1.234, "1.23"},
		{math.NaN(), "-"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, meanPText(tc.in), "meanPText(%v)", tc.in)
	}
}
