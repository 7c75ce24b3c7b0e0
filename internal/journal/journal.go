// Package journal records sessions, reports, frame statistics and ranging
// samples to a local sqlite database for later review.
package journal

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/safepi/internal/frameloop"
	"github.com/banshee-data/safepi/internal/fusion"
	"github.com/banshee-data/safepi/internal/version"
)

// DefaultQueueSize is the number of frames buffered ahead of the writer.
const DefaultQueueSize = 64

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Journal is a per-process session writer. It implements
// frameloop.Observer; frames are written on a background goroutine and
// dropped when the writer falls behind.
type Journal struct {
	db      *sql.DB
	path    string
	session string

	mu     sync.RWMutex
	closed bool
	queue  chan frameloop.Result
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// Options describe the session being recorded.
type Options struct {
	Preset    string
	QueueSize int
}

// Open opens (creating if needed) the journal at path, applies pending
// migrations and starts a new session.
func Open(path string, opts Options) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	j := &Journal{
		db:      db,
		path:    path,
		session: uuid.NewString(),
		queue:   make(chan frameloop.Result, size),
		done:    make(chan struct{}),
	}
	if err := j.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, started_unix, version, preset) VALUES (?, ?, ?, ?)`,
		j.session, unixSeconds(time.Now()), version.String(), opts.Preset,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	diagf("session %s started in %s", j.session, path)

	go j.writer()
	return j, nil
}

// SessionID identifies this process run in every table.
func (j *Journal) SessionID() string { return j.session }

// DB exposes the underlying handle for read-only tooling.
func (j *Journal) DB() *sql.DB { return j.db }

// Observe queues res for writing. It never blocks.
func (j *Journal) Observe(res frameloop.Result) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- res:
	default:
		j.dropped.Add(1)
		tracef("writer behind, dropped frame %d", res.Seq)
	}
}

func (j *Journal) writer() {
	defer close(j.done)
	for res := range j.queue {
		if err := j.write(res); err != nil {
			j.failed.Add(1)
			opsf("failed to record frame %d: %v", res.Seq, err)
			continue
		}
		j.written.Add(1)
	}
}

func (j *Journal) write(res frameloop.Result) error {
	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := unixSeconds(res.At)
	dec := res.Decision
	if _, err := tx.Exec(
		`INSERT INTO frames (
			session_id, seq, at_unix, candidates, outcome,
			disparity_min, disparity_max, disparity_mean, valid_px, total_px,
			capture_ms, infer_ms, fuse_ms, total_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.session, res.Seq, at, len(dec.Candidates), dec.Gate.Outcome.String(),
		res.Summary.Min, res.Summary.Max, res.Summary.Mean, res.Summary.Valid, res.Summary.Total,
		millis(res.Timings.Capture), millis(res.Timings.Infer), millis(res.Timings.Fuse), millis(res.Timings.Total),
	); err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}

	if r := res.Ranging; r != nil {
		if _, err := tx.Exec(
			`INSERT INTO ranging_samples (session_id, seq, at_unix, distance_cm, strength, temperature_c)
			VALUES (?, ?, ?, ?, ?, ?)`,
			j.session, res.Seq, at, r.DistanceCm, r.Strength, r.Temperature,
		); err != nil {
			return fmt.Errorf("insert ranging sample: %w", err)
		}
	}

	if h := dec.Hazard; h != nil && dec.Gate.Outcome == fusion.Reported {
		if _, err := tx.Exec(
			`INSERT INTO reports (
				session_id, seq, at_unix, label, distance_cm, direction, source,
				overridden, transmitted, message
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			j.session, res.Seq, at, h.Label, h.DistanceCm, h.Direction.String(), h.Source.String(),
			h.Overridden, dec.Gate.Transmit, dec.Message,
		); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
	}
	return tx.Commit()
}

// Stats returns the writer counters.
func (j *Journal) Stats() (written, dropped, failed uint64) {
	return j.written.Load(), j.dropped.Load(), j.failed.Load()
}

// Close drains the queue, marks the session ended and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	if _, err := j.db.Exec(`UPDATE sessions SET ended_unix = ? WHERE session_id = ?`,
		unixSeconds(time.Now()), j.session); err != nil {
		opsf("failed to close session %s: %v", j.session, err)
	}
	written, dropped, failed := j.Stats()
	diagf("session %s closed: %d frames written, %d dropped, %d failed", j.session, written, dropped, failed)
	return j.db.Close()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
