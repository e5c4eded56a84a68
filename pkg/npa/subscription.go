package npa

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role selects how digests are rendered for a user.
type Role string

const (
	// RoleAnalyst receives short digests. It is the default role.
	RoleAnalyst Role = "analyst"
	// RoleLawyer receives full filing details.
	RoleLawyer Role = "lawyer"
	// RoleProduct receives per-topic summaries.
	RoleProduct Role = "product"
)

// DefaultRole is assigned to new and unknown users.
const DefaultRole = RoleAnalyst

// AllRoles returns every role in display order.
func AllRoles() []Role {
	return []Role{RoleAnalyst, RoleLawyer, RoleProduct}
}

// ParseRole validates a role code.
func ParseRole(code string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(code)))
	switch role {
	case RoleAnalyst, RoleLawyer, RoleProduct:
		return role, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, code)
	}
}

// Label returns the display name of the role.
func (r Role) Label() string {
	switch r {
	case RoleAnalyst:
		return "📊 Аналитик"
	case RoleLawyer:
		return "⚖️ Юрист"
	case RoleProduct:
		return "📈 Product-менеджер"
	default:
		return string(r)
	}
}

// Description explains what the role receives.
func (r Role) Description() string {
	switch r {
	case RoleAnalyst:
		return "Краткие уведомления о новых проектах"
	case RoleLawyer:
		return "Полный обзор проектов НПА"
	case RoleProduct:
		return "Сводка по темам"
	default:
		return ""
	}
}

// User is a registered bot user.
type User struct {
	ID           int64
	Username     string
	FirstName    string
	LastName     string
	Role         Role
	PeerToken    string
	RegisteredAt time.Time
}

// SubscriptionStore persists users and their topic subscriptions.
//
// Callers treat failures as "no data": a failed lookup renders as an empty
// subscription list rather than an error screen.
type SubscriptionStore interface {
	// AddUser registers a user or refreshes its profile. The role of an
	// existing user is kept.
	AddUser(ctx context.Context, user User) error
	// Subscriptions lists the user's topics.
	Subscriptions(ctx context.Context, userID int64) ([]TopicTag, error)
	// Subscribe returns false when the user is unknown or already subscribed.
	Subscribe(ctx context.Context, userID int64, topic TopicTag) (bool, error)
	// Unsubscribe returns false when no subscription was removed.
	Unsubscribe(ctx context.Context, userID int64, topic TopicTag) (bool, error)
	// Users lists every registered user with its role.
	Users(ctx context.Context) ([]User, error)
	// UserRole returns DefaultRole for unknown users.
	UserRole(ctx context.Context, userID int64) (Role, error)
	// SetUserRole returns false when the user is unknown.
	SetUserRole(ctx context.Context, userID int64, role Role) (bool, error)
}

// NotificationLog records which filings were delivered to which users.
type NotificationLog interface {
	WasNotified(ctx context.Context, userID int64, filingID string) (bool, error)
	MarkNotified(ctx context.Context, userID int64, filingIDs []string) error
}
