package capture

import (
	"context"

	"github.com/skobkin/slipmux/internal/bus"
	"github.com/skobkin/slipmux/internal/connectors"
)

// StartSync records raw frames in both directions and dropped-frame reports for
// sessionID until ctx is done. Writes go through queue.
func StartSync(ctx context.Context, b bus.MessageBus, queue *WriterQueue, frames *FrameRepo, sessionID string) {
	topics := []string{connectors.TopicRawFrameIn, connectors.TopicRawFrameOut, connectors.TopicFrameDropped}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				rec, ok := recordFromEvent(sessionID, raw)
				if !ok {
					continue
				}
				queue.Enqueue("insert_frame", func(writeCtx context.Context) error {
					_, err := frames.Insert(writeCtx, rec)
					return err
				})
			}
		}
	}()
}

func recordFromEvent(sessionID string, raw any) (FrameRecord, bool) {
	switch ev := raw.(type) {
	case connectors.RawFrame:
		return FrameRecord{
			SessionID: sessionID,
			Direction: string(ev.Direction),
			Type:      ev.Type,
			Payload:   ev.Payload,
			Err:       ev.Err,
			At:        ev.At,
		}, true
	case connectors.FrameDropped:
		return FrameRecord{
			SessionID: sessionID,
			Direction: string(connectors.DirectionIn),
			Type:      ev.Type,
			ErrKind:   ev.Kind,
			Err:       ev.Err,
			At:        ev.At,
		}, true
	default:
		return FrameRecord{}, false
	}
}
