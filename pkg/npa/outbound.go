package npa

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// SinkDispatcher sends neutral outbound operations to the chat platform.
type SinkDispatcher interface {
	// SendMessage publishes a new outbound message to a destination conversation.
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	// EditMessage replaces the text and keyboard of an existing bot message.
	EditMessage(ctx context.Context, request EditMessageRequest) error
	// AnswerCallback acknowledges an inline keyboard press.
	AnswerCallback(ctx context.Context, request AnswerCallbackRequest) error
}

// OutboundTarget identifies where an outbound operation should be delivered.
type OutboundTarget struct {
	// Conversation identifies the destination conversation.
	Conversation Conversation
	// PeerToken optionally carries the driver token needed to reach the peer
	// when no inbound update from it has been seen in this process.
	PeerToken string
}

// Validate checks target identity fields used for outbound routing.
func (t OutboundTarget) Validate() error {
	if t.Conversation.ID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	}
	if t.Conversation.Type == "" {
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent derives a destination target from an inbound event.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}
	target := OutboundTarget{
		Conversation: event.Conversation,
		PeerToken:    event.Actor.PeerToken,
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// SendTarget is where a rendered screen goes: a fresh direct message or an
// in-place update of the message whose keyboard was pressed.
//
// The set of implementations is closed: DirectMessage and CallbackQuery.
type SendTarget interface {
	// Destination returns the conversation that receives the output.
	Destination() OutboundTarget
	isSendTarget()
}

// DirectMessage sends output as new messages.
type DirectMessage struct {
	Chat OutboundTarget
}

// Destination returns the direct message conversation.
func (d DirectMessage) Destination() OutboundTarget { return d.Chat }

func (DirectMessage) isSendTarget() {}

// CallbackQuery answers a keyboard press and edits the pressed message.
type CallbackQuery struct {
	// QueryID identifies the callback query to acknowledge.
	QueryID string
	// Chat identifies the conversation holding the pressed message.
	Chat OutboundTarget
	// MessageID identifies the message to edit.
	MessageID string
}

// Destination returns the conversation holding the pressed message.
func (c CallbackQuery) Destination() OutboundTarget { return c.Chat }

func (CallbackQuery) isSendTarget() {}

// SendTargetFromEvent picks CallbackQuery for keyboard presses and DirectMessage otherwise.
func SendTargetFromEvent(event *Event) (SendTarget, error) {
	target, err := OutboundTargetFromEvent(event)
	if err != nil {
		return nil, err
	}
	if event.Kind == EventKindCallbackReceived && event.Callback != nil {
		return CallbackQuery{
			QueryID:   event.Callback.QueryID,
			Chat:      target,
			MessageID: event.Callback.MessageID,
		}, nil
	}

	return DirectMessage{Chat: target}, nil
}

// Button is one inline keyboard button. Exactly one of Data or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Keyboard is an inline keyboard attached to a message.
type Keyboard struct {
	Rows [][]Button
}

// Validate checks that every button has a label and exactly one action.
func (k *Keyboard) Validate() error {
	if k == nil {
		return nil
	}
	for rowIndex, row := range k.Rows {
		for index, button := range row {
			if button.Text == "" {
				return fmt.Errorf("%w: keyboard button [%d][%d] missing text", ErrInvalidOutboundRequest, rowIndex, index)
			}
			if (button.Data == "") == (button.URL == "") {
				return fmt.Errorf("%w: keyboard button %q needs exactly one of data or url", ErrInvalidOutboundRequest, button.Text)
			}
			// Telegram rejects callback data above 64 bytes.
			if len(button.Data) > 64 {
				return fmt.Errorf("%w: keyboard button %q data exceeds 64 bytes", ErrInvalidOutboundRequest, button.Text)
			}
		}
	}

	return nil
}

// OutboundMessage identifies a message successfully emitted by the dispatcher.
type OutboundMessage struct {
	// ID is the destination-platform message identifier.
	ID string
	// Target is the destination where this message was delivered.
	Target OutboundTarget
}

// SendMessageRequest describes a new outbound text message.
type SendMessageRequest struct {
	Target   OutboundTarget
	Text     string
	Entities []TextEntity
	Keyboard *Keyboard
	// DisableLinkPreview disables link previews when supported by the platform.
	DisableLinkPreview bool
}

// Validate checks the request envelope before dispatch.
func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}
	if err := ValidateTextEntities(r.Text, r.Entities); err != nil {
		return fmt.Errorf("%w: validate send message entities: %w", ErrInvalidOutboundRequest, err)
	}
	if err := r.Keyboard.Validate(); err != nil {
		return fmt.Errorf("validate send message keyboard: %w", err)
	}

	return nil
}

// EditMessageRequest describes a text edit for an existing message.
type EditMessageRequest struct {
	Target             OutboundTarget
	MessageID          string
	Text               string
	Entities           []TextEntity
	Keyboard           *Keyboard
	DisableLinkPreview bool
}

// Validate checks the request envelope before dispatch.
func (r EditMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate edit message target: %w", err)
	}
	if r.MessageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}
	if err := ValidateTextEntities(r.Text, r.Entities); err != nil {
		return fmt.Errorf("%w: validate edit message entities: %w", ErrInvalidOutboundRequest, err)
	}
	if err := r.Keyboard.Validate(); err != nil {
		return fmt.Errorf("validate edit message keyboard: %w", err)
	}

	return nil
}

// AnswerCallbackRequest acknowledges one callback query.
type AnswerCallbackRequest struct {
	QueryID string
	// Text is an optional toast shown to the user.
	Text string
}

// Validate checks the request envelope before dispatch.
func (r AnswerCallbackRequest) Validate() error {
	if r.QueryID == "" {
		return fmt.Errorf("%w: missing callback query id", ErrInvalidOutboundRequest)
	}
	if utf8.RuneCountInString(r.Text) > 200 {
		return fmt.Errorf("%w: callback answer longer than 200 characters", ErrInvalidOutboundRequest)
	}

	return nil
}
