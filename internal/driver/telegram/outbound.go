package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"npa-monitor/pkg/npa"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout configures a timeout bound for each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// SinkDispatcher adapts neutral outbound operations to Telegram RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

var _ npa.SinkDispatcher = (*SinkDispatcher)(nil)

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{rpcTimeout: defaultOutboundTimeout}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// SendMessage publishes a text message to a Telegram conversation.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request npa.SendMessageRequest,
) (*npa.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target)
	if err != nil {
		return nil, fmt.Errorf("send message resolve peer: %w", err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return nil, fmt.Errorf("send message entities: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendText(rpcCtx, &tg.MessagesSendMessageRequest{
		Peer:        peer,
		Message:     request.Text,
		NoWebpage:   request.DisableLinkPreview,
		Entities:    entities,
		ReplyMarkup: mapKeyboard(request.Keyboard),
	})
	if err != nil {
		return nil, fmt.Errorf(
			"send message to %s: %w",
			request.Target.Conversation.ID,
			mapTelegramOutboundError(npa.OutboundOperationSendMessage, err),
		)
	}

	d.logOutbound(
		ctx,
		npa.OutboundOperationSendMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
	)

	return &npa.OutboundMessage{
		ID:     strconv.Itoa(id),
		Target: request.Target,
	}, nil
}

// EditMessage replaces text and keyboard of an existing Telegram message.
// An edit that changes nothing is treated as success.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request npa.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target)
	if err != nil {
		return fmt.Errorf("edit message resolve peer: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message parse id %s: %w", request.MessageID, err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return fmt.Errorf("edit message entities: %w", err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err = d.telegram.EditText(rpcCtx, &tg.MessagesEditMessageRequest{
		Peer:        peer,
		ID:          messageID,
		Message:     request.Text,
		NoWebpage:   request.DisableLinkPreview,
		Entities:    entities,
		ReplyMarkup: mapKeyboard(request.Keyboard),
	})
	if err != nil && !tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		return fmt.Errorf(
			"edit message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(npa.OutboundOperationEditMessage, err),
		)
	}

	d.logOutbound(
		ctx,
		npa.OutboundOperationEditMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

// AnswerCallback acknowledges an inline keyboard press, optionally with a toast.
func (d *SinkDispatcher) AnswerCallback(ctx context.Context, request npa.AnswerCallbackRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("answer callback validate: %w", err)
	}
	queryID, err := strconv.ParseInt(strings.TrimSpace(request.QueryID), 10, 64)
	if err != nil {
		return fmt.Errorf("answer callback: %w: invalid query id %q", npa.ErrInvalidOutboundRequest, request.QueryID)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	answer := &tg.MessagesSetBotCallbackAnswerRequest{QueryID: queryID}
	if request.Text != "" {
		answer.SetMessage(request.Text)
	}
	if err := d.telegram.AnswerCallback(rpcCtx, answer); err != nil {
		return fmt.Errorf(
			"answer callback %s: %w",
			request.QueryID,
			mapTelegramOutboundError(npa.OutboundOperationAnswerCallback, err),
		)
	}

	d.logOutbound(ctx, npa.OutboundOperationAnswerCallback, "query_id", request.QueryID)

	return nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation npa.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 2+len(attrs))
	values = append(values, "operation", operation, "platform", DriverPlatform)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", npa.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", npa.ErrInvalidOutboundRequest)
	}

	return value, nil
}

func mapKeyboard(keyboard *npa.Keyboard) tg.ReplyMarkupClass {
	if keyboard == nil || len(keyboard.Rows) == 0 {
		return nil
	}

	rows := make([]tg.KeyboardButtonRow, 0, len(keyboard.Rows))
	for _, row := range keyboard.Rows {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, button := range row {
			if button.URL != "" {
				buttons = append(buttons, &tg.KeyboardButtonURL{Text: button.Text, URL: button.URL})
				continue
			}
			buttons = append(buttons, &tg.KeyboardButtonCallback{Text: button.Text, Data: []byte(button.Data)})
		}
		rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
	}

	return &tg.ReplyInlineMarkup{Rows: rows}
}

// mapOutboundTextEntities converts rune-based entities into the UTF-16 code
// unit offsets Telegram expects.
func mapOutboundTextEntities(text string, entities []npa.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	utf16Offsets := buildUTF16Offsets(text)
	converted := make([]tg.MessageEntityClass, 0, len(entities))
	for index, entity := range entities {
		start := entity.Offset
		end := entity.Offset + entity.Length
		if start < 0 || end < start || end >= len(utf16Offsets) {
			return nil, fmt.Errorf(
				"entity[%d] invalid range [%d,%d) for text runes %d",
				index,
				start,
				end,
				len(utf16Offsets)-1,
			)
		}

		offset := utf16Offsets[start]
		length := utf16Offsets[end] - utf16Offsets[start]
		switch entity.Type {
		case npa.TextEntityBold:
			converted = append(converted, &tg.MessageEntityBold{Offset: offset, Length: length})
		case npa.TextEntityItalic:
			converted = append(converted, &tg.MessageEntityItalic{Offset: offset, Length: length})
		case npa.TextEntityCode:
			converted = append(converted, &tg.MessageEntityCode{Offset: offset, Length: length})
		case npa.TextEntityTextLink:
			converted = append(converted, &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL})
		default:
			return nil, fmt.Errorf("entity[%d]: %w: type %q", index, npa.ErrOutboundUnsupported, entity.Type)
		}
	}

	return converted, nil
}

func buildUTF16Offsets(text string) []int {
	offsets := make([]int, 1, len(text)+1)
	current := 0
	for _, value := range text {
		current += utf16RuneLength(value)
		offsets = append(offsets, current)
	}

	return offsets
}

func utf16RuneLength(value rune) int {
	if value >= 0x10000 && value <= 0x10FFFF {
		return 2
	}

	return 1
}

type outboundRPC interface {
	SendText(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error)
	EditText(ctx context.Context, request *tg.MessagesEditMessageRequest) error
	AnswerCallback(ctx context.Context, request *tg.MessagesSetBotCallbackAnswerRequest) error
}

type gotdOutboundRPC struct {
	raw  *tg.Client
	rand io.Reader
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	return gotdOutboundRPC{
		raw:  client.API(),
		rand: crypto.DefaultRand(),
	}
}

func (r gotdOutboundRPC) SendText(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send text random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send text: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditText(ctx context.Context, request *tg.MessagesEditMessageRequest) error {
	if _, err := r.raw.MessagesEditMessage(ctx, request); err != nil {
		return fmt.Errorf("edit text: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) AnswerCallback(ctx context.Context, request *tg.MessagesSetBotCallbackAnswerRequest) error {
	if _, err := r.raw.MessagesSetBotCallbackAnswer(ctx, request); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}

	return nil
}
