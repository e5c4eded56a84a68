package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"npa-monitor/pkg/npa"

	"github.com/gotd/td/tg"
)

// DefaultGotdUpdateMapper maps gotd updates into adapter DTO updates.
//
// Only private text messages and inline keyboard presses are accepted; every
// other update class is skipped.
type DefaultGotdUpdateMapper struct {
	peerCache *PeerCache
}

// GotdUpdateMapperOption mutates DefaultGotdUpdateMapper behavior.
type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache records user peers for outbound dispatch and peer tokens.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peerCache = cache
		}
	}
}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map converts a gotd raw update value into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	select {
	case <-ctx.Done():
		return Update{}, false, fmt.Errorf("map gotd update context: %w", ctx.Err())
	default:
	}

	envelope, err := normalizeGotdRaw(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}
	if m.peerCache != nil {
		m.peerCache.RememberEnvelope(envelope)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		message, ok := update.Message.(*tg.Message)
		if !ok {
			return Update{}, false, nil
		}
		return m.mapMessage(message, envelope)
	case *tg.UpdateBotCallbackQuery:
		return m.mapCallback(update, envelope)
	default:
		return Update{}, false, nil
	}
}

func normalizeGotdRaw(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil update class")
		}
		return gotdUpdateEnvelope{
			update:      typed,
			occurredAt:  time.Now().UTC(),
			updateClass: typed.TypeName(),
		}, nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw type %T", raw)
	}
}

func (m DefaultGotdUpdateMapper) mapMessage(message *tg.Message, envelope gotdUpdateEnvelope) (Update, bool, error) {
	if message == nil {
		return Update{}, false, fmt.Errorf("map message: nil message")
	}
	if message.Out || strings.TrimSpace(message.Message) == "" {
		return Update{}, false, nil
	}
	peer, ok := message.PeerID.(*tg.PeerUser)
	if !ok {
		return Update{}, false, nil
	}

	actor := m.resolveActor(peer.UserID, envelope)
	occurredAt := intToTimeUTC(message.Date)
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}
	messageID := strconv.Itoa(message.ID)

	return Update{
		ID:         composeUpdateID(UpdateTypeMessage, actor.ID, messageID),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       privateChat(actor),
		Actor:      actor,
		Message: &MessagePayload{
			ID:   messageID,
			Text: message.Message,
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapCallback(
	update *tg.UpdateBotCallbackQuery,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if update == nil {
		return Update{}, false, fmt.Errorf("map callback: nil update")
	}
	data, ok := update.GetData()
	if !ok {
		return Update{}, false, nil
	}
	if peer, isUser := update.Peer.(*tg.PeerUser); !isUser || peer.UserID != update.UserID {
		return Update{}, false, nil
	}

	actor := m.resolveActor(update.UserID, envelope)
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	queryID := strconv.FormatInt(update.QueryID, 10)

	return Update{
		ID:         composeUpdateID(UpdateTypeCallback, actor.ID, queryID),
		Type:       UpdateTypeCallback,
		OccurredAt: occurredAt,
		Chat:       privateChat(actor),
		Actor:      actor,
		Callback: &CallbackPayload{
			QueryID:   queryID,
			MessageID: strconv.Itoa(update.MsgID),
			Data:      string(data),
		},
		Metadata: newGotdMetadata(envelope),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) resolveActor(userID int64, envelope gotdUpdateEnvelope) ActorRef {
	id := strconv.FormatInt(userID, 10)
	actor := ActorRef{ID: id, DisplayName: id}

	if user, ok := envelope.usersByID[userID]; ok && user != nil {
		username, _ := user.GetUsername()
		firstName, _ := user.GetFirstName()
		lastName, _ := user.GetLastName()

		actor.Username = username
		actor.IsBot = user.Bot
		if displayName := strings.TrimSpace(firstName + " " + lastName); displayName != "" {
			actor.DisplayName = displayName
		} else if username != "" {
			actor.DisplayName = username
		}
		if hash, ok := user.GetAccessHash(); ok && !user.Min {
			actor.PeerToken = FormatPeerToken(userID, hash)
		}
	}
	if actor.PeerToken == "" {
		actor.PeerToken, _ = m.peerCache.Token(userID)
	}

	return actor
}

func privateChat(actor ActorRef) ChatRef {
	return ChatRef{
		ID:    actor.ID,
		Type:  npa.ConversationTypePrivate,
		Title: actor.DisplayName,
	}
}

type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	usersByID   map[int64]*tg.User
	updateClass string
}

func indexGotdUsers(users []tg.UserClass) map[int64]*tg.User {
	if len(users) == 0 {
		return nil
	}

	out := make(map[int64]*tg.User, len(users))
	for _, user := range users {
		if user == nil {
			continue
		}
		notEmpty, ok := user.AsNotEmpty()
		if !ok || notEmpty == nil {
			continue
		}
		out[notEmpty.ID] = notEmpty
	}

	return out
}

func composeUpdateID(updateType UpdateType, chatID string, parts ...string) string {
	values := []string{"tg", string(updateType)}
	if chatID != "" {
		values = append(values, chatID)
	}
	for _, part := range parts {
		if part != "" {
			values = append(values, part)
		}
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}
	return map[string]string{
		"gotd_update": envelope.updateClass,
	}
}
