package journal

import (
	"database/sql"
	"time"
)

// Report is one recorded hazard report.
type Report struct {
	SessionID   string    `json:"session_id"`
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	Label       string    `json:"label"`
	DistanceCm  float64   `json:"distance_cm"`
	Direction   string    `json:"direction"`
	Source      string    `json:"source"`
	Overridden  bool      `json:"overridden"`
	Transmitted bool      `json:"transmitted"`
	Message     string    `json:"message"`
}

// Session is one process run.
type Session struct {
	ID      string     `json:"id"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Version string     `json:"version"`
	Preset  string     `json:"preset"`
}

// RangingRow is one recorded ranging sample.
type RangingRow struct {
	Seq         uint64    `json:"seq"`
	At          time.Time `json:"at"`
	DistanceCm  int       `json:"distance_cm"`
	Strength    int       `json:"strength"`
	Temperature float64   `json:"temperature_c"`
}

// RecentReports returns up to limit reports, newest first.
func (j *Journal) RecentReports(limit int) ([]Report, error) {
	rows, err := j.db.Query(`SELECT session_id, seq, at_unix, label, distance_cm, direction, source,
			overridden, transmitted, message
		FROM reports ORDER BY report_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var (
			r  Report
			at float64
		)
		if err := rows.Scan(&r.SessionID, &r.Seq, &at, &r.Label, &r.DistanceCm, &r.Direction, &r.Source,
			&r.Overridden, &r.Transmitted, &r.Message); err != nil {
			return nil, err
		}
		r.At = fromUnix(at)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// RecentRanging returns up to limit ranging samples from this session,
// newest first.
func (j *Journal) RecentRanging(limit int) ([]RangingRow, error) {
	rows, err := j.db.Query(`SELECT seq, at_unix, distance_cm, strength, temperature_c
		FROM ranging_samples WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, j.session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RangingRow
	for rows.Next() {
		var (
			r  RangingRow
			at float64
		)
		if err := rows.Scan(&r.Seq, &at, &r.DistanceCm, &r.Strength, &r.Temperature); err != nil {
			return nil, err
		}
		r.At = fromUnix(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions returns up to limit sessions, newest first.
func (j *Journal) Sessions(limit int) ([]Session, error) {
	rows, err := j.db.Query(`SELECT session_id, started_unix, ended_unix, version, preset
		FROM sessions ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s       Session
			started float64
			ended   sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Version, &s.Preset); err != nil {
			return nil, err
		}
		s.Started = fromUnix(started)
		if ended.Valid {
			t := fromUnix(ended.Float64)
			s.Ended = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FrameCount returns the number of frames recorded for this session.
func (j *Journal) FrameCount() (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM frames WHERE session_id = ?`, j.session).Scan(&n)
	return n, err
}

func fromUnix(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
