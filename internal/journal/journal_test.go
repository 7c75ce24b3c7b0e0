package journal

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/safepi/internal/frameloop"
	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/stereo"
	"github.com/banshee-data/safepi/internal/testutil"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, Options{Preset: "outdoor"})
	require.NoError(t, err)
	return j, path
}

func reportedFrame(seq uint64, label string, cm float64, ranging *fusion.RangingSample) frameloop.Result {
	h := fusion.FusedCandidate{Label: label, DistanceCm: cm, Direction: fusion.Left, Source: fusion.FromDetection}
	return frameloop.Result{
		Seq: seq,
		At:  time.Date(2026, 5, 1, 9, 0, int(seq), 0, time.UTC),
		Decision: fusion.Decision{
			Candidates: []fusion.FusedCandidate{h},
			Hazard:     &h,
			Gate:       fusion.GateDecision{Outcome: fusion.Reported, Transmit: true},
			Message:    label + " to the left, 2.0 meters away",
		},
		Ranging: ranging,
		Summary: stereo.Summary{Min: -1, Max: 40, Mean: 3.5, Valid: 1600, Total: 8100},
		Timings: frameloop.Timings{Total: 25 * time.Millisecond},
	}
}

func waitWritten(t *testing.T, j *Journal, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		written, _, _ := j.Stats()
		return written == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOpen_AppliesMigrationsAndPragmas(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	version, dirty, err := j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	var mode string
	require.NoError(t, j.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	sessions, err := j.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, j.SessionID(), sessions[0].ID)
	assert.Equal(t, "outdoor", sessions[0].Preset)
	assert.Nil(t, sessions[0].Ended)
}

func TestMigrateDownAndUp(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	require.NoError(t, j.MigrateDown())
	version, _, err := j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, j.MigrateUp())
	version, _, err = j.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestObserve_RecordsFramesReportsAndRanging(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()

	j.Observe(reportedFrame(1, "person", 200, &fusion.RangingSample{DistanceCm: 195, Strength: 800, Temperature: 31.5}))
	suppressed := reportedFrame(2, "person", 190, nil)
	suppressed.Decision.Gate = fusion.GateDecision{Outcome: fusion.Suppressed}
	j.Observe(suppressed)
	j.Observe(frameloop.Result{Seq: 3, At: time.Now()})
	waitWritten(t, j, 3)

	n, err := j.FrameCount()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	reports, err := j.RecentReports(10)
	require.NoError(t, err)
	require.Len(t, reports, 1, "only reported hazards are journalled")
	r := reports[0]
	assert.Equal(t, uint64(1), r.Seq)
	assert.Equal(t, "person", r.Label)
	assert.InDelta(t, 200, r.DistanceCm, 1e-9)
	assert.Equal(t, "left", r.Direction)
	assert.Equal(t, "detection", r.Source)
	assert.True(t, r.Transmitted)
	assert.False(t, r.Overridden)
	assert.Equal(t, "person to the left, 2.0 meters away", r.Message)
	assert.Equal(t, int64(1), r.At.Unix()-time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC).Unix())

	rng, err := j.RecentRanging(10)
	require.NoError(t, err)
	require.Len(t, rng, 1)
	assert.Equal(t, 195, rng[0].DistanceCm)
	assert.Equal(t, 800, rng[0].Strength)
	assert.InDelta(t, 31.5, rng[0].Temperature, 1e-9)
}

func TestClose_DrainsAndEndsSession(t *testing.T) {
	j, path := openTestJournal(t)
	for i := uint64(1); i <= 5; i++ {
		j.Observe(reportedFrame(i, "car", 300, nil))
	}
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	j.Observe(reportedFrame(6, "car", 300, nil))
	written, dropped, _ := j.Stats()
	assert.Equal(t, uint64(5), written)
	assert.Equal(t, uint64(1), dropped)

	again, err := Open(path, Options{})
	require.NoError(t, err)
	defer again.Close()
	sessions, err := again.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	var ended int
	for _, s := range sessions {
		if s.Ended != nil {
			ended++
		}
	}
	assert.Equal(t, 1, ended)
	reports, err := again.RecentReports(2)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Equal(t, uint64(5), reports[0].Seq)
}

func TestAdminRoutes(t *testing.T) {
	j, _ := openTestJournal(t)
	defer j.Close()
	j.Observe(reportedFrame(1, "bicycle", 250, &fusion.RangingSample{DistanceCm: 240, Strength: 300}))
	waitWritten(t, j, 1)

	mux := http.NewServeMux()
	require.NoError(t, j.AttachAdminRoutes(mux))

	rec := testutil.Serve(mux, testutil.NewLocalRequest("GET", "/debug/journal?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session string   `json:"session"`
		Written uint64   `json:"written"`
		Reports []Report `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, j.SessionID(), body.Session)
	assert.Equal(t, uint64(1), body.Written)
	require.Len(t, body.Reports, 1)
	assert.Equal(t, "bicycle", body.Reports[0].Label)

	rec = testutil.Serve(mux, testutil.NewLocalRequest("GET", "/debug/journal-chart", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hazard distances")

	rec = testutil.Serve(mux, testutil.NewLocalRequest("GET", "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	header := make([]byte, 16)
	_, err = io.ReadFull(gz, header)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(header))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filename=journal-backup-")
}
