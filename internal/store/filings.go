package store

import (
	"context"
	"fmt"
	"strings"

	"npa-monitor/pkg/npa"
)

// SaveFilings records classified filings. Already known filings are left
// untouched.
func (s *Store) SaveFilings(ctx context.Context, filings []npa.Filing) error {
	if len(filings) == 0 {
		return nil
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save filings: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO filings (external_id, title, department, publication_date, topics, saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("save filings: %w", err)
	}
	defer stmt.Close()

	savedAt := s.now()
	for _, filing := range filings {
		var published any
		if filing.HasDate() {
			published = filing.EffectiveDate().UTC()
		}
		topics := make([]string, 0, len(filing.Topics))
		for _, topic := range filing.Topics {
			topics = append(topics, string(topic))
		}

		if _, err := stmt.ExecContext(ctx,
			filing.ID,
			filing.Title,
			filing.Department,
			published,
			strings.Join(topics, ","),
			savedAt,
		); err != nil {
			return fmt.Errorf("save filing %s: %w", filing.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save filings: %w", err)
	}

	return nil
}

// FilingCount returns the number of recorded filings.
func (s *Store) FilingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.readDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM filings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count filings: %w", err)
	}

	return count, nil
}

// WasNotified reports whether filingID was already delivered to userID.
func (s *Store) WasNotified(ctx context.Context, userID int64, filingID string) (bool, error) {
	var exists int
	err := s.readDB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications_log WHERE user_id = ? AND filing_id = ?)
	`, userID, filingID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check notification %d/%s: %w", userID, filingID, err)
	}

	return exists == 1, nil
}

// MarkNotified records delivered filings. Repeated marks are ignored.
func (s *Store) MarkNotified(ctx context.Context, userID int64, filingIDs []string) error {
	if len(filingIDs) == 0 {
		return nil
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark notified %d: %w", userID, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notifications_log (user_id, filing_id, sent_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, filing_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("mark notified %d: %w", userID, err)
	}
	defer stmt.Close()

	sentAt := s.now()
	for _, filingID := range filingIDs {
		if _, err := stmt.ExecContext(ctx, userID, filingID, sentAt); err != nil {
			return fmt.Errorf("mark notified %d/%s: %w", userID, filingID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark notified %d: %w", userID, err)
	}

	return nil
}
