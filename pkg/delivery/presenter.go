// Package delivery renders screens to chat targets and absorbs outbound rate
// limits.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"npa-monitor/pkg/npa"
)

// Result classifies one outbound delivery for metrics.
type Result string

const (
	// ResultSent means the platform accepted the message.
	ResultSent Result = "sent"
	// ResultRateLimited means the platform asked to wait before resending.
	ResultRateLimited Result = "rate_limited"
	// ResultSkipped means the resend after a rate limit failed too.
	ResultSkipped Result = "skipped"
	// ResultFailed means the platform rejected the message outright.
	ResultFailed Result = "failed"
)

// DefaultReplyTimeout bounds a reply sent after the handler context expired.
const DefaultReplyTimeout = 15 * time.Second

// ReplyContext returns ctx while it is live. Once ctx is done it returns a
// fresh context that keeps the values of ctx and expires after timeout.
func ReplyContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Recorder receives delivery outcomes.
type Recorder interface {
	RecordDelivery(result Result)
}

// Screen is one rendered view: text with formatting and an optional keyboard.
type Screen struct {
	Text     string
	Entities []npa.TextEntity
	Keyboard *npa.Keyboard
	// Toast is shown when the screen answers a keyboard press.
	Toast string
}

// NewScreen builds a screen from accumulated text.
func NewScreen(text *npa.Text, keyboard *npa.Keyboard) Screen {
	if text == nil {
		return Screen{Keyboard: keyboard}
	}

	return Screen{
		Text:     text.String(),
		Entities: text.Entities(),
		Keyboard: keyboard,
	}
}

// PlainScreen builds an unformatted screen.
func PlainScreen(text string, keyboard *npa.Keyboard) Screen {
	return Screen{Text: text, Keyboard: keyboard}
}

// Option mutates presenter configuration.
type Option func(*Presenter)

// WithLogger sets the presenter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(presenter *Presenter) {
		if logger != nil {
			presenter.logger = logger
		}
	}
}

// WithRecorder reports delivery outcomes to recorder.
func WithRecorder(recorder Recorder) Option {
	return func(presenter *Presenter) {
		presenter.recorder = recorder
	}
}

// WithMaxMessageLength overrides the chunk size in UTF-16 code units.
func WithMaxMessageLength(limit int) Option {
	return func(presenter *Presenter) {
		if limit > 0 {
			presenter.maxLength = limit
		}
	}
}

func withSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(presenter *Presenter) {
		if sleep != nil {
			presenter.sleep = sleep
		}
	}
}

// Presenter delivers screens through a sink dispatcher.
type Presenter struct {
	dispatcher npa.SinkDispatcher
	logger     *slog.Logger
	recorder   Recorder
	maxLength  int
	sleep      func(context.Context, time.Duration) error
}

// NewPresenter creates a presenter over dispatcher.
func NewPresenter(dispatcher npa.SinkDispatcher, options ...Option) *Presenter {
	presenter := &Presenter{
		dispatcher: dispatcher,
		logger:     slog.Default(),
		maxLength:  MaxMessageLength,
		sleep:      sleepWithContext,
	}
	for _, option := range options {
		option(presenter)
	}

	return presenter
}

// Present renders screen to target.
//
// A DirectMessage receives every chunk as a new message. A CallbackQuery is
// answered unless its QueryID is empty, its message is edited with the first
// chunk and remaining chunks follow as new messages. The keyboard always rides
// on the last chunk.
//
// When a rate-limited resend fails too, the error wraps npa.ErrRecipientSkipped.
func (p *Presenter) Present(ctx context.Context, target npa.SendTarget, screen Screen) error {
	if p.dispatcher == nil {
		return fmt.Errorf("present: nil dispatcher")
	}
	chunks := Split(screen.Text, screen.Entities, p.maxLength)
	if len(chunks) == 0 {
		return fmt.Errorf("present: %w: empty screen", npa.ErrInvalidOutboundRequest)
	}

	switch typed := target.(type) {
	case npa.DirectMessage:
		return p.sendChunks(ctx, typed.Chat, chunks, screen.Keyboard)
	case npa.CallbackQuery:
		return p.presentCallback(ctx, typed, chunks, screen)
	default:
		return fmt.Errorf("present: %w: unsupported target %T", npa.ErrInvalidOutboundRequest, target)
	}
}

// Notify answers a keyboard press with a toast only, leaving the message as is.
func (p *Presenter) Notify(ctx context.Context, query npa.CallbackQuery, toast string) error {
	return p.deliver(ctx, "answer callback", func(ctx context.Context) error {
		return p.dispatcher.AnswerCallback(ctx, npa.AnswerCallbackRequest{QueryID: query.QueryID, Text: toast})
	})
}

func (p *Presenter) presentCallback(
	ctx context.Context,
	query npa.CallbackQuery,
	chunks []Chunk,
	screen Screen,
) error {
	if query.QueryID != "" {
		if err := p.Notify(ctx, query, screen.Toast); err != nil {
			p.logger.WarnContext(ctx, "answer callback failed",
				"query_id", query.QueryID,
				"error", err,
			)
		}
	}

	first := chunks[0]
	keyboard := keyboardFor(0, len(chunks), screen.Keyboard)
	editErr := p.deliver(ctx, "edit message", func(ctx context.Context) error {
		return p.dispatcher.EditMessage(ctx, npa.EditMessageRequest{
			Target:             query.Chat,
			MessageID:          query.MessageID,
			Text:               first.Text,
			Entities:           first.Entities,
			Keyboard:           keyboard,
			DisableLinkPreview: true,
		})
	})
	switch {
	case editErr == nil:
		return p.sendChunks(ctx, query.Chat, chunks[1:], screen.Keyboard)
	case errors.Is(editErr, npa.ErrRecipientSkipped):
		return editErr
	default:
		p.logger.WarnContext(ctx, "edit failed, sending new message",
			"message_id", query.MessageID,
			"error", editErr,
		)
		return p.sendChunks(ctx, query.Chat, chunks, screen.Keyboard)
	}
}

func (p *Presenter) sendChunks(ctx context.Context, chat npa.OutboundTarget, chunks []Chunk, keyboard *npa.Keyboard) error {
	for index, chunk := range chunks {
		request := npa.SendMessageRequest{
			Target:             chat,
			Text:               chunk.Text,
			Entities:           chunk.Entities,
			Keyboard:           keyboardFor(index, len(chunks), keyboard),
			DisableLinkPreview: true,
		}
		if err := p.deliver(ctx, "send message", func(ctx context.Context) error {
			_, err := p.dispatcher.SendMessage(ctx, request)
			return err
		}); err != nil {
			return fmt.Errorf("send chunk %d/%d to %s: %w", index+1, len(chunks), chat.Conversation.ID, err)
		}
	}

	return nil
}

// deliver runs op and, when the platform signals a rate limit, waits the
// requested time and runs it once more.
func (p *Presenter) deliver(ctx context.Context, operation string, op func(context.Context) error) error {
	err := op(ctx)
	if err == nil {
		p.record(ResultSent)
		return nil
	}

	retryAfter, limited := npa.AsOutboundRateLimit(err)
	if !limited {
		p.record(ResultFailed)
		return fmt.Errorf("%s: %w", operation, err)
	}

	p.record(ResultRateLimited)
	p.logger.WarnContext(ctx, "outbound rate limited",
		"operation", operation,
		"retry_after", retryAfter,
	)
	if waitErr := p.sleep(ctx, retryAfter); waitErr != nil {
		p.record(ResultSkipped)
		return fmt.Errorf("%s: %w: %w", operation, npa.ErrRecipientSkipped, errors.Join(err, waitErr))
	}

	if err := op(ctx); err != nil {
		p.record(ResultSkipped)
		return fmt.Errorf("%s: %w: %w", operation, npa.ErrRecipientSkipped, err)
	}
	p.record(ResultSent)

	return nil
}

func (p *Presenter) record(result Result) {
	if p.recorder != nil {
		p.recorder.RecordDelivery(result)
	}
}

func keyboardFor(index int, total int, keyboard *npa.Keyboard) *npa.Keyboard {
	if index == total-1 {
		return keyboard
	}

	return nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep with context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
