package capture

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FrameRecord is one captured frame, or one dropped frame with no payload.
type FrameRecord struct {
	ID        int64
	SessionID string
	Direction string
	Type      string
	Payload   []byte
	ErrKind   string
	Err       string
	At        time.Time
}

type FrameRepo struct {
	db *sql.DB
}

func NewFrameRepo(db *sql.DB) *FrameRepo {
	return &FrameRepo{db: db}
}

func (r *FrameRepo) Insert(ctx context.Context, rec FrameRecord) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO frames(session_id, direction, frame_type, payload, error_kind, error_text, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.SessionID, rec.Direction, rec.Type, rec.Payload, nullableString(rec.ErrKind), nullableString(rec.Err), toUnixMillis(rec.At))
	if err != nil {
		return 0, fmt.Errorf("insert frame: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read frame id: %w", err)
	}

	return id, nil
}

// ListBySession returns up to limit frames of a session in capture order.
func (r *FrameRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, direction, frame_type, payload, error_kind, error_text, at
		FROM frames
		WHERE session_id = ?
		ORDER BY id ASC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FrameRecord
	for rows.Next() {
		var (
			rec     FrameRecord
			errKind sql.NullString
			errText sql.NullString
			at      int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Direction, &rec.Type, &rec.Payload, &errKind, &errText, &at); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		rec.ErrKind = errKind.String
		rec.Err = errText.String
		rec.At = fromUnixMillis(at)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frames: %w", err)
	}

	return out, nil
}

func (r *FrameRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}

	return n, nil
}
