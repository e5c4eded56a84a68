package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"npa-monitor/pkg/npa"

	"github.com/gotd/td/tg"
)

const peerTokenPrefix = "user:"

// FormatPeerToken encodes a user peer as "user:<id>:<access_hash>" so it can
// be stored and used to reach the user after a restart.
func FormatPeerToken(userID, accessHash int64) string {
	return peerTokenPrefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(accessHash, 10)
}

// ParsePeerToken decodes a token produced by FormatPeerToken.
func ParsePeerToken(token string) (*tg.InputPeerUser, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(token), peerTokenPrefix)
	if !ok {
		return nil, fmt.Errorf("parse peer token %q: missing %q prefix", token, peerTokenPrefix)
	}
	rawID, rawHash, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, fmt.Errorf("parse peer token %q: missing access hash", token)
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("parse peer token %q: invalid user id", token)
	}
	accessHash, err := strconv.ParseInt(rawHash, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse peer token %q: invalid access hash: %w", token, err)
	}

	return &tg.InputPeerUser{UserID: userID, AccessHash: accessHash}, nil
}

// PeerCache stores Telegram user peers discovered from inbound updates.
//
// Outbound dispatch resolves private conversations through it, falling back
// to the peer token carried by the target.
type PeerCache struct {
	mu     sync.RWMutex
	byUser map[int64]tg.InputPeerUser
}

// NewPeerCache creates an empty, concurrency-safe Telegram peer cache.
func NewPeerCache() *PeerCache {
	return &PeerCache{
		byUser: make(map[int64]tg.InputPeerUser),
	}
}

// RememberEnvelope ingests user entities attached to one gotd update envelope.
func (c *PeerCache) RememberEnvelope(envelope gotdUpdateEnvelope) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for userID, user := range envelope.usersByID {
		if user == nil || user.Min {
			continue
		}
		hash, ok := user.GetAccessHash()
		if !ok {
			continue
		}
		c.byUser[userID] = tg.InputPeerUser{UserID: userID, AccessHash: hash}
	}
}

// Remember stores one explicit user peer.
func (c *PeerCache) Remember(peer *tg.InputPeerUser) {
	if c == nil || peer == nil || peer.UserID == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[peer.UserID] = *peer
}

// Token returns the peer token for a cached user.
func (c *PeerCache) Token(userID int64) (string, bool) {
	if c == nil {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	peer, ok := c.byUser[userID]
	if !ok {
		return "", false
	}

	return FormatPeerToken(peer.UserID, peer.AccessHash), true
}

// Resolve returns an input peer for an outbound target. Only private
// conversations are supported.
func (c *PeerCache) Resolve(target npa.OutboundTarget) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	conversation := target.Conversation
	if conversation.Type != npa.ConversationTypePrivate {
		return nil, fmt.Errorf("%w: conversation type %q", npa.ErrOutboundUnsupported, conversation.Type)
	}
	userID, err := strconv.ParseInt(conversation.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("resolve peer: invalid conversation id %q", conversation.ID)
	}

	c.mu.RLock()
	peer, ok := c.byUser[userID]
	c.mu.RUnlock()
	if ok {
		return &peer, nil
	}

	if target.PeerToken == "" {
		return nil, fmt.Errorf("resolve peer: conversation %s not found", conversation.ID)
	}
	parsed, err := ParsePeerToken(target.PeerToken)
	if err != nil {
		return nil, fmt.Errorf("resolve peer: %w", err)
	}
	if parsed.UserID != userID {
		return nil, fmt.Errorf("resolve peer: token user %d does not match conversation %s", parsed.UserID, conversation.ID)
	}
	c.Remember(parsed)

	copyPeer := *parsed
	return &copyPeer, nil
}
