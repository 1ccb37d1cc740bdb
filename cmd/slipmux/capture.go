package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skobkin/slipmux/internal/capture"
)

const defaultCaptureLimit = 50

type captureQuery struct {
	listSessions bool
	dumpSession  string
	limit        int
}

func (q captureQuery) active() bool {
	return q.listSessions || strings.TrimSpace(q.dumpSession) != ""
}

// runCaptureQuery prints stored sessions or one session's frames without starting
// the link.
func runCaptureQuery(ctx context.Context, dbPath string, out io.Writer, q captureQuery) error {
	db, err := capture.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sessions := capture.NewSessionRepo(db)
	frames := capture.NewFrameRepo(db)
	if q.listSessions {
		if err := printSessions(ctx, out, sessions, frames, q.limit); err != nil {
			return err
		}
	}
	if id := strings.TrimSpace(q.dumpSession); id != "" {
		if err := printSession(ctx, out, sessions, frames, id, q.limit); err != nil {
			return err
		}
	}

	return nil
}

func printSessions(ctx context.Context, out io.Writer, sessions *capture.SessionRepo, frames *capture.FrameRepo, limit int) error {
	list, err := sessions.ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(out, "no capture sessions")
		return nil
	}
	for _, s := range list {
		n, err := frames.CountBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s  %s  %-6s %-24s frames=%d\n", s.ID, sessionSpan(s), s.TransportName, s.Target, n)
	}

	return nil
}

func printSession(ctx context.Context, out io.Writer, sessions *capture.SessionRepo, frames *capture.FrameRepo, id string, limit int) error {
	s, err := sessions.Get(ctx, id)
	if errors.Is(err, capture.ErrSessionNotFound) {
		return fmt.Errorf("capture session %q not found", id)
	}
	if err != nil {
		return err
	}
	total, err := frames.CountBySession(ctx, id)
	if err != nil {
		return err
	}
	records, err := frames.ListBySession(ctx, id, limit)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "session %s %s %s %s frames=%d\n", s.ID, s.TransportName, s.Target, sessionSpan(s), total)
	for _, rec := range records {
		_, _ = fmt.Fprintln(out, formatFrameRecord(rec))
	}
	if total > len(records) {
		_, _ = fmt.Fprintf(out, "... %d more\n", total-len(records))
	}

	return nil
}

func sessionSpan(s capture.Session) string {
	start := s.StartedAt.Local().Format(time.DateTime)
	if s.EndedAt.IsZero() {
		return start + " (open)"
	}

	return start + " +" + s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
}

func formatFrameRecord(rec capture.FrameRecord) string {
	line := fmt.Sprintf("%s %-3s %-13s len=%-4d %X",
		rec.At.Local().Format("15:04:05.000"), rec.Direction, rec.Type, len(rec.Payload), rec.Payload)
	switch {
	case rec.ErrKind != "":
		line += " dropped=" + rec.ErrKind
	case rec.Err != "":
		line += " error=" + rec.Err
	}

	return strings.TrimRight(line, " ")
}
