package digest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"npa-monitor/pkg/npa"
)

// ErrListingUnavailable reports that yesterday's listing could not be fetched.
var ErrListingUnavailable = errors.New("digest: listing unavailable")

// Report summarizes one digest run.
type Report struct {
	Day             time.Time
	Filings         int
	Users           int
	Sent            int
	Skipped         int
	Failed          int
	AlreadyNotified int
}

func (m *Module) run(ctx context.Context) (Report, error) {
	if err := m.ready(); err != nil {
		return Report{}, fmt.Errorf("digest run: %w", err)
	}

	started := m.clock()
	day := m.yesterday()
	report := Report{Day: day}
	m.logger.InfoContext(ctx, "digest run started", "day", day.Format(time.DateOnly))

	filings, ok := m.catalog.Daily(ctx, day)
	if !ok {
		return report, fmt.Errorf("digest run for %s: %w", day.Format(time.DateOnly), ErrListingUnavailable)
	}
	classified := classifiedOnDay(filings, day)
	report.Filings = len(classified)

	users, err := m.store.Users(ctx)
	if err != nil {
		return report, fmt.Errorf("digest list users: %w", err)
	}
	if len(users) == 0 {
		m.logger.InfoContext(ctx, "digest has no users")
		return report, nil
	}

	pending := false
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("digest run interrupted: %w", err)
		}

		topics := m.catalog.Subscriptions(ctx, user.ID)
		if len(topics) == 0 {
			continue
		}
		report.Users++

		matched := npa.FilterByTopics(classified, topics)
		fresh, delivered := m.unnotified(ctx, user.ID, day, matched)
		if delivered {
			report.AlreadyNotified++
			continue
		}

		if pending {
			if err := m.sleep(ctx, m.sendInterval); err != nil {
				return report, fmt.Errorf("digest pause between recipients: %w", err)
			}
		}
		pending = true

		err := m.presenter.Present(ctx, npa.DirectMessage{Chat: userTarget(user)}, render(user.Role, day, topics, fresh))
		switch {
		case err == nil:
			report.Sent++
			m.markNotified(ctx, user.ID, day, fresh)
			m.logger.InfoContext(ctx, "digest sent",
				"user_id", user.ID,
				"role", string(user.Role),
				"filings", len(fresh),
			)
		case errors.Is(err, npa.ErrRecipientSkipped):
			report.Skipped++
			m.logger.WarnContext(ctx, "digest recipient skipped",
				"user_id", user.ID,
				"error", err,
			)
		default:
			report.Failed++
			m.logger.ErrorContext(ctx, "digest send failed",
				"user_id", user.ID,
				"error", err,
			)
		}
	}

	m.logger.InfoContext(ctx, "digest run finished",
		"day", day.Format(time.DateOnly),
		"filings", report.Filings,
		"users", report.Users,
		"sent", report.Sent,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"already_notified", report.AlreadyNotified,
		"elapsed", m.clock().Sub(started),
	)

	return report, nil
}

// unnotified drops filings the user already received. delivered is true when
// nothing new is left for a user who was already sent this day's digest.
func (m *Module) unnotified(ctx context.Context, userID int64, day time.Time, filings []npa.Filing) (fresh []npa.Filing, delivered bool) {
	if m.log == nil {
		return filings, false
	}

	if len(filings) == 0 {
		notified, err := m.log.WasNotified(ctx, userID, emptyDigestKey(day))
		if err != nil {
			m.logger.WarnContext(ctx, "read notification log failed",
				"user_id", userID,
				"error", err,
			)
			return nil, false
		}
		return nil, notified
	}

	fresh = make([]npa.Filing, 0, len(filings))
	for _, filing := range filings {
		notified, err := m.log.WasNotified(ctx, userID, filing.ID)
		if err != nil {
			m.logger.WarnContext(ctx, "read notification log failed",
				"user_id", userID,
				"filing_id", filing.ID,
				"error", err,
			)
			notified = false
		}
		if !notified {
			fresh = append(fresh, filing)
		}
	}

	return fresh, len(fresh) == 0
}

func (m *Module) markNotified(ctx context.Context, userID int64, day time.Time, filings []npa.Filing) {
	if m.log == nil {
		return
	}

	ids := make([]string, 0, len(filings))
	for _, filing := range filings {
		ids = append(ids, filing.ID)
	}
	if len(ids) == 0 {
		ids = append(ids, emptyDigestKey(day))
	}
	if err := m.log.MarkNotified(ctx, userID, ids); err != nil {
		m.logger.WarnContext(ctx, "write notification log failed",
			"user_id", userID,
			"error", err,
		)
	}
}

// emptyDigestKey stands in for a filing ID when a user got the "nothing new"
// digest of day.
func emptyDigestKey(day time.Time) string {
	return "digest:empty:" + day.Format(time.DateOnly)
}

// classifiedOnDay keeps filings dated on day that belong to at least one topic.
func classifiedOnDay(filings []npa.Filing, day time.Time) []npa.Filing {
	matched := make([]npa.Filing, 0, len(filings))
	for _, filing := range npa.FilterOnDay(filings, day) {
		if len(filing.Topics) > 0 {
			matched = append(matched, filing)
		}
	}

	return matched
}

func userTarget(user npa.User) npa.OutboundTarget {
	return npa.OutboundTarget{
		Conversation: npa.Conversation{
			ID:   strconv.FormatInt(user.ID, 10),
			Type: npa.ConversationTypePrivate,
		},
		PeerToken: user.PeerToken,
	}
}
