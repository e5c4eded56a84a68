package store

import (
	"context"
	"fmt"

	"npa-monitor/pkg/npa"
)

// Subscriptions lists the user's topics in display order.
func (s *Store) Subscriptions(ctx context.Context, userID int64) ([]npa.TopicTag, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT topic FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions of %d: %w", userID, err)
	}
	defer rows.Close()

	var tags []npa.TopicTag
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("list subscriptions of %d: %w", userID, err)
		}
		tags = append(tags, npa.TopicTag(code))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions of %d: %w", userID, err)
	}

	return npa.NewTopicSet(tags...), nil
}

// Subscribe returns false when the user is unknown or already subscribed.
func (s *Store) Subscribe(ctx context.Context, userID int64, topic npa.TopicTag) (bool, error) {
	if !topic.Valid() {
		return false, fmt.Errorf("subscribe %d: %w: %q", userID, npa.ErrUnknownTopic, topic)
	}

	result, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, topic, subscribed_at)
		SELECT telegram_id, ?, ? FROM users WHERE telegram_id = ?
		ON CONFLICT(user_id, topic) DO NOTHING
	`, string(topic), s.now(), userID)
	if err != nil {
		return false, fmt.Errorf("subscribe %d to %s: %w", userID, topic, err)
	}

	return affected(result)
}

// Unsubscribe returns false when no subscription was removed.
func (s *Store) Unsubscribe(ctx context.Context, userID int64, topic npa.TopicTag) (bool, error) {
	if !topic.Valid() {
		return false, fmt.Errorf("unsubscribe %d: %w: %q", userID, npa.ErrUnknownTopic, topic)
	}

	result, err := s.writeDB.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND topic = ?`,
		userID, string(topic),
	)
	if err != nil {
		return false, fmt.Errorf("unsubscribe %d from %s: %w", userID, topic, err)
	}

	return affected(result)
}

// UsersByTopic lists the IDs of users subscribed to topic.
func (s *Store) UsersByTopic(ctx context.Context, topic npa.TopicTag) ([]int64, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("list subscribers: %w: %q", npa.ErrUnknownTopic, topic)
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT u.telegram_id
		FROM users u
		JOIN subscriptions s ON s.user_id = u.telegram_id
		WHERE s.topic = ?
		ORDER BY u.telegram_id
	`, string(topic))
	if err != nil {
		return nil, fmt.Errorf("list subscribers of %s: %w", topic, err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("list subscribers of %s: %w", topic, err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list subscribers of %s: %w", topic, err)
	}

	return userIDs, nil
}
