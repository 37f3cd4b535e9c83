package storage

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stereosphere/panorec/internal/geom"
)

// schema.sql contains the statements creating the session store schema.
//
//go:embed schema.sql
var schemaSQL string

// SessionStore persists recording sessions, per-frame assignments and
// correlation statistics for post-run analysis.
type SessionStore struct {
	db *sql.DB
}

// SessionFrame is one persisted frame record.
type SessionFrame struct {
	FrameID  int64
	TargetID *int64
	Gain     float64
	Adjusted geom.Mat4
}

// OpenSessionStore opens (or creates) the store at path and applies
// the schema.
func OpenSessionStore(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying session schema: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SessionStore) Close() error { return s.db.Close() }

// CreateSession inserts a new session row.
func (s *SessionStore) CreateSession(sessionID, graphMode string, targets int) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, started_at, graph_mode, targets) VALUES (?, ?, ?, ?)`,
		sessionID, time.Now().UTC().Format(time.RFC3339), graphMode, targets,
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sessionID, err)
	}
	return nil
}

// CompleteSession marks a session finished or cancelled.
func (s *SessionStore) CompleteSession(sessionID string, recorded int, cancelled bool) error {
	flag := 0
	if cancelled {
		flag = 1
	}
	_, err := s.db.Exec(
		`UPDATE sessions SET completed_at = ?, recorded = ?, cancelled = ? WHERE session_id = ?`,
		time.Now().UTC().Format(time.RFC3339), recorded, flag, sessionID,
	)
	if err != nil {
		return fmt.Errorf("completing session %s: %w", sessionID, err)
	}
	return nil
}

// InsertFrame records a frame's assignment, gain and adjusted pose.
func (s *SessionStore) InsertFrame(sessionID string, f SessionFrame) error {
	pose, err := json.Marshal(f.Adjusted[:])
	if err != nil {
		return err
	}
	var target any
	if f.TargetID != nil {
		target = *f.TargetID
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO session_frames (session_id, frame_id, target_id, gain, adjusted_pose)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, f.FrameID, target, f.Gain, string(pose),
	)
	if err != nil {
		return fmt.Errorf("inserting frame %d: %w", f.FrameID, err)
	}
	return nil
}

// RecordCorrelationStats upserts per-stage correlation counters.
func (s *SessionStore) RecordCorrelationStats(sessionID, stage string, valid, rejected int64) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO correlation_stats (session_id, stage, valid, rejected) VALUES (?, ?, ?, ?)`,
		sessionID, stage, valid, rejected,
	)
	return err
}

// SessionFrames returns the persisted frames of a session ordered by
// frame id.
func (s *SessionStore) SessionFrames(sessionID string) ([]SessionFrame, error) {
	rows, err := s.db.Query(
		`SELECT frame_id, target_id, gain, adjusted_pose FROM session_frames
		 WHERE session_id = ? ORDER BY frame_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionFrame
	for rows.Next() {
		var f SessionFrame
		var target sql.NullInt64
		var pose string
		if err := rows.Scan(&f.FrameID, &target, &f.Gain, &pose); err != nil {
			return nil, err
		}
		if target.Valid {
			v := target.Int64
			f.TargetID = &v
		}
		var vals []float64
		if err := json.Unmarshal([]byte(pose), &vals); err != nil {
			return nil, fmt.Errorf("frame %d pose: %w", f.FrameID, err)
		}
		copy(f.Adjusted[:], vals)
		out = append(out, f)
	}
	return out, rows.Err()
}
