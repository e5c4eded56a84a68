package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel is a gotd update handler and raw stream implementation.
type GotdUpdateChannel struct {
	buffer  int
	updates chan any
}

// NewGotdUpdateChannel creates a stream bridge between gotd updates and the adapter source.
func NewGotdUpdateChannel(buffer int) (*GotdUpdateChannel, error) {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{
		buffer:  buffer,
		updates: make(chan any, buffer),
	}, nil
}

// Updates returns the active stream channel.
func (s *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gotd update channel: nil context")
	}
	if s.updates == nil {
		return nil, fmt.Errorf("gotd update channel: not initialized")
	}

	return s.updates, nil
}

// Handle flattens gotd update batches and forwards each unit to the active stream.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		if err := s.publish(ctx, item); err != nil {
			return fmt.Errorf("handle gotd updates publish: %w", err)
		}
	}

	return nil
}

func (s *GotdUpdateChannel) publish(ctx context.Context, item gotdUpdateEnvelope) error {
	if s.updates == nil {
		return fmt.Errorf("publish gotd update: stream not initialized")
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish gotd update: %w", ctx.Err())
	case s.updates <- item:
		return nil
	}
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date, typed.Users), nil
	case *tg.UpdateShort:
		return flattenGotdBatch([]tg.UpdateClass{typed.Update}, typed.Date, nil), nil
	case *tg.UpdateShortMessage:
		return []gotdUpdateEnvelope{flattenShortMessage(typed)}, nil
	case *tg.UpdateShortChatMessage, *tg.UpdatesTooLong, *tg.UpdateShortSentMessage:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(updates []tg.UpdateClass, date int, users []tg.UserClass) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)
	usersByID := indexGotdUsers(users)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		if update == nil {
			continue
		}
		batch = append(batch, gotdUpdateEnvelope{
			update:      update,
			occurredAt:  occurredAt,
			usersByID:   usersByID,
			updateClass: update.TypeName(),
		})
	}

	return batch
}

// flattenShortMessage expands the compact private message form. The sender's
// access hash is absent here, so the mapper falls back to the peer cache.
func flattenShortMessage(update *tg.UpdateShortMessage) gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      update.ID,
		Out:     update.Out,
		PeerID:  &tg.PeerUser{UserID: update.UserID},
		Date:    update.Date,
		Message: update.Message,
	}
	message.SetFromID(&tg.PeerUser{UserID: update.UserID})

	return gotdUpdateEnvelope{
		update: &tg.UpdateNewMessage{
			Message:  message,
			Pts:      update.Pts,
			PtsCount: update.PtsCount,
		},
		occurredAt:  intToTimeUTC(update.Date),
		updateClass: update.TypeName(),
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(value), 0).UTC()
}
