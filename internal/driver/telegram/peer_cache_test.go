package telegram

import (
	"errors"
	"testing"

	"npa-monitor/pkg/npa"

	"github.com/gotd/td/tg"
)

func TestPeerCacheResolve(t *testing.T) {
	t.Parallel()

	known := &tg.User{ID: 7}
	known.SetAccessHash(77)
	minUser := &tg.User{ID: 8, Min: true}
	minUser.SetAccessHash(88)

	cache := NewPeerCache()
	cache.RememberEnvelope(gotdUpdateEnvelope{
		usersByID: map[int64]*tg.User{7: known, 8: minUser},
	})

	tests := []struct {
		name        string
		target      npa.OutboundTarget
		wantUser    int64
		wantHash    int64
		wantErr     bool
		unsupported bool
	}{
		{
			name:     "cached user",
			target:   privateTarget("7", ""),
			wantUser: 7,
			wantHash: 77,
		},
		{
			name:     "token fallback",
			target:   privateTarget("9", "user:9:99"),
			wantUser: 9,
			wantHash: 99,
		},
		{
			name:    "min users are not cached",
			target:  privateTarget("8", ""),
			wantErr: true,
		},
		{
			name:    "token for another user",
			target:  privateTarget("10", "user:11:1"),
			wantErr: true,
		},
		{
			name:    "malformed token",
			target:  privateTarget("12", "chat:12"),
			wantErr: true,
		},
		{
			name:    "non numeric conversation",
			target:  privateTarget("abc", ""),
			wantErr: true,
		},
		{
			name: "group conversation",
			target: npa.OutboundTarget{
				Conversation: npa.Conversation{ID: "100", Type: npa.ConversationTypeGroup},
			},
			wantErr:     true,
			unsupported: true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			peer, err := cache.Resolve(testCase.target)
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error, got peer %#v", peer)
				}
				if testCase.unsupported && !errors.Is(err, npa.ErrOutboundUnsupported) {
					t.Fatalf("error = %v, want ErrOutboundUnsupported", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			user, ok := peer.(*tg.InputPeerUser)
			if !ok {
				t.Fatalf("peer type = %T, want *tg.InputPeerUser", peer)
			}
			if user.UserID != testCase.wantUser || user.AccessHash != testCase.wantHash {
				t.Fatalf("peer = %+v, want user %d hash %d", user, testCase.wantUser, testCase.wantHash)
			}
		})
	}
}

func TestPeerCacheTokenFallbackIsRemembered(t *testing.T) {
	t.Parallel()

	cache := NewPeerCache()
	if _, err := cache.Resolve(privateTarget("5", "user:5:-12")); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	token, ok := cache.Token(5)
	if !ok || token != "user:5:-12" {
		t.Fatalf("token = (%q, %v), want user:5:-12", token, ok)
	}
}

func TestPeerTokenRoundTrip(t *testing.T) {
	t.Parallel()

	token := FormatPeerToken(42, -9_000_000_000)
	peer, err := ParsePeerToken(token)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if peer.UserID != 42 || peer.AccessHash != -9_000_000_000 {
		t.Fatalf("peer = %+v", peer)
	}

	for _, invalid := range []string{"", "user:", "user:42", "user:0:1", "user:x:1", "user:42:y"} {
		if _, err := ParsePeerToken(invalid); err == nil {
			t.Fatalf("ParsePeerToken(%q) expected error", invalid)
		}
	}
}

func privateTarget(id, token string) npa.OutboundTarget {
	return npa.OutboundTarget{
		Conversation: npa.Conversation{ID: id, Type: npa.ConversationTypePrivate},
		PeerToken:    token,
	}
}
