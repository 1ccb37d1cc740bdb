package capture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("capture session not found")

// Session is one connection run of the link.
type Session struct {
	ID            string
	TransportName string
	Target        string
	StartedAt     time.Time
	EndedAt       time.Time
}

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Begin creates a session with a fresh random id.
func (r *SessionRepo) Begin(ctx context.Context, transportName, target string, at time.Time) (Session, error) {
	s := Session{
		ID:            uuid.NewString(),
		TransportName: transportName,
		Target:        target,
		StartedAt:     at,
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions(id, transport, target, started_at)
		VALUES (?, ?, ?, ?)
	`, s.ID, s.TransportName, s.Target, toUnixMillis(s.StartedAt))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	return s, nil
}

func (r *SessionRepo) End(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, nullableMillis(at), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}

	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, transport, target, started_at, ended_at
		FROM sessions
		WHERE id = ?
	`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}

	return s, nil
}

// ListRecent returns up to limit sessions, newest first.
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transport, target, started_at, ended_at
		FROM sessions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Session, 0, limit)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s         Session
		startedAt int64
		endedAt   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.TransportName, &s.Target, &startedAt, &endedAt); err != nil {
		return Session{}, err
	}
	s.StartedAt = fromUnixMillis(startedAt)
	if endedAt.Valid {
		s.EndedAt = fromUnixMillis(endedAt.Int64)
	}

	return s, nil
}
