package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/slipmux/internal/bus"
	"github.com/skobkin/slipmux/internal/connectors"
)

func openTestDB(t *testing.T) (context.Context, *SessionRepo, *FrameRepo) {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return ctx, NewSessionRepo(db), NewFrameRepo(db)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "capture.db")

	for i := 0; i < 2; i++ {
		db, err := Open(ctx, path)
		if err != nil {
			t.Fatalf("open db attempt %d: %v", i+1, err)
		}
		var version int
		if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&version); err != nil {
			t.Fatalf("read user_version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected schema version %d, got %d", len(migrations), version)
		}
		_ = db.Close()
	}
}

func TestSessionRepoBeginEndGet(t *testing.T) {
	ctx, sessions, _ := openTestDB(t)
	started := time.Now().UTC().Truncate(time.Millisecond)

	s, err := sessions.Begin(ctx, "serial", "/dev/ttyACM0@115200", started)
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Fatalf("expected uuid session id, got %q: %v", s.ID, err)
	}

	ended := started.Add(5 * time.Second)
	if err := sessions.End(ctx, s.ID, ended); err != nil {
		t.Fatalf("end session: %v", err)
	}

	got, err := sessions.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.TransportName != "serial" || got.Target != "/dev/ttyACM0@115200" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.StartedAt.Equal(started) || !got.EndedAt.Equal(ended) {
		t.Fatalf("unexpected session times: %+v", got)
	}

	if _, err := sessions.Get(ctx, uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := sessions.End(ctx, uuid.NewString(), ended); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found on end, got %v", err)
	}
}

func TestSessionRepoListRecentNewestFirst(t *testing.T) {
	ctx, sessions, _ := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	older, err := sessions.Begin(ctx, "tcp", "a:20000", base)
	if err != nil {
		t.Fatalf("begin older: %v", err)
	}
	newer, err := sessions.Begin(ctx, "tcp", "b:20000", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("begin newer: %v", err)
	}

	list, err := sessions.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != newer.ID || list[1].ID != older.ID {
		t.Fatalf("unexpected session order: %+v", list)
	}
}

func TestFrameRepoInsertAndList(t *testing.T) {
	ctx, sessions, frames := openTestDB(t)
	s, err := sessions.Begin(ctx, "tcp", "127.0.0.1:20000", time.Now())
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	records := []FrameRecord{
		{SessionID: s.ID, Direction: "in", Type: "configuration", Payload: []byte{0x01, 0xC0}, At: at},
		{SessionID: s.ID, Direction: "in", Type: "ip", ErrKind: "overflow", Err: "frame exceeds buffer", At: at},
		{SessionID: s.ID, Direction: "out", Type: "diagnostic", Payload: []byte("hi"), At: at.Add(time.Millisecond)},
	}
	for _, rec := range records {
		if _, err := frames.Insert(ctx, rec); err != nil {
			t.Fatalf("insert frame: %v", err)
		}
	}

	got, err := frames.ListBySession(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d frames, got %d", len(records), len(got))
	}
	for i := range records {
		if got[i].Type != records[i].Type || got[i].Direction != records[i].Direction {
			t.Fatalf("frame %d: unexpected record %+v", i, got[i])
		}
		if !bytes.Equal(got[i].Payload, records[i].Payload) {
			t.Fatalf("frame %d: expected payload % X, got % X", i, records[i].Payload, got[i].Payload)
		}
		if got[i].ErrKind != records[i].ErrKind || got[i].Err != records[i].Err {
			t.Fatalf("frame %d: unexpected error fields %+v", i, got[i])
		}
		if !got[i].At.Equal(records[i].At) {
			t.Fatalf("frame %d: expected time %s, got %s", i, records[i].At, got[i].At)
		}
	}
}

func TestFrameRepoRejectsUnknownSession(t *testing.T) {
	ctx, _, frames := openTestDB(t)

	if _, err := frames.Insert(ctx, FrameRecord{SessionID: "missing", Direction: "in", Type: "ip", At: time.Now()}); err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestClearCaptureRemovesEverything(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "capture.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sessions := NewSessionRepo(db)
	frames := NewFrameRepo(db)
	s, err := sessions.Begin(ctx, "tcp", "x", time.Now())
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if _, err := frames.Insert(ctx, FrameRecord{SessionID: s.ID, Direction: "in", Type: "ip", At: time.Now()}); err != nil {
		t.Fatalf("insert frame: %v", err)
	}

	if err := ClearCapture(ctx, db); err != nil {
		t.Fatalf("clear capture: %v", err)
	}
	list, err := sessions.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no sessions after clear, got %d", len(list))
	}
	if n, err := frames.CountBySession(ctx, s.ID); err != nil || n != 0 {
		t.Fatalf("expected no frames after clear, got %d (%v)", n, err)
	}
}

func TestStartSyncRecordsBusEvents(t *testing.T) {
	ctx, sessions, frames := openTestDB(t)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s, err := sessions.Begin(ctx, "tcp", "127.0.0.1:20000", time.Now())
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(logger)
	queue := NewWriterQueue(logger, 16)
	queue.Start(runCtx)
	StartSync(runCtx, b, queue, frames, s.ID)

	now := time.Now()
	b.Publish(connectors.TopicRawFrameIn, connectors.RawFrame{Direction: connectors.DirectionIn, Type: "configuration", Payload: []byte{0x01}, Len: 1, At: now})
	b.Publish(connectors.TopicRawFrameOut, connectors.RawFrame{Direction: connectors.DirectionOut, Type: "ip", Payload: []byte{0x60}, Len: 1, At: now})
	b.Publish(connectors.TopicFrameDropped, connectors.FrameDropped{Type: "ip", Kind: "busy", Err: "receiver busy", At: now})
	b.Publish(connectors.TopicDiagnosticLine, connectors.DiagnosticLine{Text: "ignored", At: now})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := queue.Flush(runCtx); err != nil {
			t.Fatalf("flush queue: %v", err)
		}
		n, err := frames.CountBySession(ctx, s.ID)
		if err != nil {
			t.Fatalf("count frames: %v", err)
		}
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 captured frames, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	got, err := frames.ListBySession(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("list frames: %v", err)
	}
	if got[2].ErrKind != "busy" || got[2].Payload != nil {
		t.Fatalf("expected dropped frame record without payload, got %+v", got[2])
	}
}

func TestWriterQueueRetriesFailedWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewWriterQueue(slog.New(slog.NewTextHandler(io.Discard, nil)), 4)
	queue.Start(ctx)

	attempts := 0
	queue.Enqueue("flaky", func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err := queue.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
