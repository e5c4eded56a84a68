package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

func TestGotdUpdateChannelUpdatesNilContext(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(8)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}

	var nilCtx context.Context
	if _, err := stream.Updates(nilCtx); err == nil {
		t.Fatal("expected nil context error")
	}
}

func TestGotdUpdateChannelHandleFlattensBatch(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(16)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := stream.Updates(ctx)
	if err != nil {
		t.Fatalf("open updates stream failed: %v", err)
	}

	callback := &tg.UpdateBotCallbackQuery{
		QueryID: 9001,
		UserID:  42,
		Peer:    &tg.PeerUser{UserID: 42},
		MsgID:   15,
	}
	callback.SetData([]byte("menu_current"))

	batch := &tg.Updates{
		Date: 1_700_000_010,
		Updates: []tg.UpdateClass{
			&tg.UpdateNewMessage{Message: &tg.Message{ID: 1, PeerID: &tg.PeerUser{UserID: 42}, Message: "/start"}},
			callback,
		},
		Users: []tg.UserClass{newTGUser(42, "alice", "Alice", "", false)},
	}
	if err := stream.Handle(ctx, batch); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	wantClasses := []string{"updateNewMessage", "updateBotCallbackQuery"}
	for index, wantClass := range wantClasses {
		envelope := receiveEnvelope(t, updates)
		if envelope.updateClass != wantClass {
			t.Fatalf("envelope[%d] class = %s, want %s", index, envelope.updateClass, wantClass)
		}
		if !envelope.occurredAt.Equal(time.Unix(1_700_000_010, 0).UTC()) {
			t.Fatalf("envelope[%d] occurredAt = %v", index, envelope.occurredAt)
		}
		if envelope.usersByID[42] == nil {
			t.Fatalf("envelope[%d] missing indexed user 42", index)
		}
	}
}

func TestGotdUpdateChannelHandleShortMessage(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(4)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}
	ctx := context.Background()
	updates, err := stream.Updates(ctx)
	if err != nil {
		t.Fatalf("open updates stream failed: %v", err)
	}

	if err := stream.Handle(ctx, &tg.UpdateShortMessage{
		ID:      31,
		UserID:  42,
		Message: "/help",
		Date:    1_700_000_020,
	}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	envelope := receiveEnvelope(t, updates)
	newMessage, ok := envelope.update.(*tg.UpdateNewMessage)
	if !ok {
		t.Fatalf("update type = %T, want *tg.UpdateNewMessage", envelope.update)
	}
	message, ok := newMessage.Message.(*tg.Message)
	if !ok {
		t.Fatalf("message type = %T, want *tg.Message", newMessage.Message)
	}
	if message.Message != "/help" || message.ID != 31 {
		t.Fatalf("message = %+v, want id 31 text /help", message)
	}
	peer, ok := message.PeerID.(*tg.PeerUser)
	if !ok || peer.UserID != 42 {
		t.Fatalf("peer = %#v, want user 42", message.PeerID)
	}
}

func TestGotdUpdateChannelIgnoresUnsupportedContainers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		updates tg.UpdatesClass
	}{
		{name: "too long", updates: &tg.UpdatesTooLong{}},
		{name: "group short message", updates: &tg.UpdateShortChatMessage{ID: 1, FromID: 2, ChatID: 3, Message: "hi"}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			batch, err := flattenGotdUpdates(testCase.updates)
			if err != nil {
				t.Fatalf("flatten failed: %v", err)
			}
			if len(batch) != 0 {
				t.Fatalf("batch len = %d, want 0", len(batch))
			}
		})
	}
}

func TestGotdUpdateChannelHandleRespectsContext(t *testing.T) {
	t.Parallel()

	stream, err := NewGotdUpdateChannel(1)
	if err != nil {
		t.Fatalf("new gotd update channel failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewMessage{Message: &tg.Message{ID: 1}},
		&tg.UpdateNewMessage{Message: &tg.Message{ID: 2}},
	}}
	if err := stream.Handle(ctx, batch); err == nil {
		t.Fatal("expected context error once the buffer is full")
	}
}

func receiveEnvelope(t *testing.T, updates <-chan any) gotdUpdateEnvelope {
	t.Helper()

	select {
	case raw := <-updates:
		envelope, ok := raw.(gotdUpdateEnvelope)
		if !ok {
			t.Fatalf("raw type = %T, want gotdUpdateEnvelope", raw)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return gotdUpdateEnvelope{}
	}
}
