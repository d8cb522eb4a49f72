package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/facecap/internal/mocap/protocol"
	"github.com/banshee-data/facecap/internal/mocap/retarget"
)

// ErrNoSession is returned when a session id is not in the database.
var ErrNoSession = errors.New("db: no such session")

// Session is one recorded run of the receiver.
type Session struct {
	ID           string    `json:"session_id"`
	StartedAt    time.Time `json:"started_at"`
	Port         int       `json:"port"`
	SenderFilter string    `json:"sender_filter,omitempty"`
	Note         string    `json:"note,omitempty"`
	Datagrams    int64     `json:"datagrams"`
}

// Calibration is a recorded calibration offset.
type Calibration struct {
	SessionID string         `json:"session_id"`
	At        time.Time      `json:"at"`
	Offset    retarget.Euler `json:"offset"`
}

// StartSession inserts a new session and returns it with a fresh id.
func (db *DB) StartSession(ctx context.Context, startedAt time.Time, port int, senderFilter, note string) (Session, error) {
	s := Session{
		ID:           uuid.NewString(),
		StartedAt:    startedAt,
		Port:         port,
		SenderFilter: senderFilter,
		Note:         note,
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at, port, sender_filter, note) VALUES (?, ?, ?, ?, ?)`,
		s.ID, startedAt.UnixNano(), port, senderFilter, note)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// RecordDatagrams appends msgs to the session in one transaction.
func (db *DB) RecordDatagrams(ctx context.Context, sessionID string, msgs []protocol.RawMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO datagrams (session_id, received_unix_nanos, sender, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if _, err := stmt.ExecContext(ctx, sessionID, m.Received.UnixNano(), m.Sender, m.Text); err != nil {
			return fmt.Errorf("insert datagram: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordCalibration stores a calibration offset taken during the session.
func (db *DB) RecordCalibration(ctx context.Context, sessionID string, at time.Time, offset retarget.Euler) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO calibrations (session_id, at_unix_nanos, pitch, yaw, roll) VALUES (?, ?, ?, ?, ?)`,
		sessionID, at.UnixNano(), offset.Pitch, offset.Yaw, offset.Roll)
	if err != nil {
		return fmt.Errorf("insert calibration: %w", err)
	}
	return nil
}

// Sessions lists sessions, newest first, with their datagram counts.
func (db *DB) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, s.port, s.sender_filter, s.note,
		       (SELECT COUNT(*) FROM datagrams d WHERE d.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns one session, or ErrNoSession.
func (db *DB) Session(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx, `
		SELECT s.session_id, s.started_at, s.port, s.sender_filter, s.note,
		       (SELECT COUNT(*) FROM datagrams d WHERE d.session_id = s.session_id)
		FROM sessions s
		WHERE s.session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var (
		s       Session
		started int64
	)
	if err := r.Scan(&s.ID, &started, &s.Port, &s.SenderFilter, &s.Note, &s.Datagrams); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	return s, nil
}

// SessionDatagrams returns the session's datagrams in arrival order.
func (db *DB) SessionDatagrams(ctx context.Context, id string) ([]protocol.RawMessage, error) {
	if _, err := db.Session(ctx, id); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT received_unix_nanos, sender, payload
		FROM datagrams
		WHERE session_id = ?
		ORDER BY received_unix_nanos, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []protocol.RawMessage
	for rows.Next() {
		var (
			m  protocol.RawMessage
			ns int64
		)
		if err := rows.Scan(&ns, &m.Sender, &m.Text); err != nil {
			return nil, err
		}
		m.Received = time.Unix(0, ns).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SessionCalibrations returns the calibrations taken during the session.
func (db *DB) SessionCalibrations(ctx context.Context, id string) ([]Calibration, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT at_unix_nanos, pitch, yaw, roll
		FROM calibrations
		WHERE session_id = ?
		ORDER BY at_unix_nanos, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Calibration
	for rows.Next() {
		c := Calibration{SessionID: id}
		var ns int64
		if err := rows.Scan(&ns, &c.Offset.Pitch, &c.Offset.Yaw, &c.Offset.Roll); err != nil {
			return nil, err
		}
		c.At = time.Unix(0, ns).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
