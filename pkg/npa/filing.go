package npa

import (
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTitle replaces a missing filing title.
	DefaultTitle = "Без названия"
	// DefaultDepartment replaces a missing developing department.
	DefaultDepartment = "Не указано"
	// NoDateLabel is rendered for filings without any usable date.
	NoDateLabel = "Нет даты"

	filingURLPrefix = "https://regulation.gov.ru/projects#npa="
)

// PublicationZone is the zone the listing publishes in. Offset-less upstream
// timestamps are read in it, and calendar days default to it.
var PublicationZone = time.FixedZone("MSK", 3*60*60)

// Reference is an upstream id/description pair such as a project type.
type Reference struct {
	ID          string
	Description string
}

// Period is a date range. Either bound may be zero.
type Period struct {
	Start time.Time
	End   time.Time
}

// Complete reports whether both bounds are set.
func (p Period) Complete() bool {
	return !p.Start.IsZero() && !p.End.IsZero()
}

// Filing is one draft regulation as published by the listing API.
//
// Filings are validated once when they cross the fetch boundary, so consumers
// never see an empty ID, title or department.
type Filing struct {
	ID                 string
	Title              string
	Department         string
	ProjectType        Reference
	Procedure          Reference
	Stage              string
	Status             string
	CreationDate       time.Time
	PublicationDate    time.Time
	PublicDiscussion   Period
	ParallelDiscussion Period
	Deadline           time.Time
	Topics             TopicSet
}

// EffectiveDate returns the publication date, falling back to the creation date.
func (f Filing) EffectiveDate() time.Time {
	if !f.PublicationDate.IsZero() {
		return f.PublicationDate
	}

	return f.CreationDate
}

// HasDate reports whether the filing carries any usable date.
func (f Filing) HasDate() bool {
	return !f.EffectiveDate().IsZero()
}

// DateLabel renders the effective date as YYYY-MM-DD or NoDateLabel.
func (f Filing) DateLabel() string {
	if !f.HasDate() {
		return NoDateLabel
	}

	return f.EffectiveDate().Format(time.DateOnly)
}

// URL returns the public page of the filing.
func (f Filing) URL() string {
	return filingURLPrefix + f.ID
}

// OnDay reports whether the effective date falls on the calendar day of day,
// compared in day's location.
func (f Filing) OnDay(day time.Time) bool {
	if !f.HasDate() {
		return false
	}
	y1, m1, d1 := f.EffectiveDate().In(day.Location()).Date()
	y2, m2, d2 := day.Date()

	return y1 == y2 && m1 == m2 && d1 == d2
}

// FilterByTopics keeps filings classified into at least one of topics.
func FilterByTopics(filings []Filing, topics []TopicTag) []Filing {
	if len(topics) == 0 {
		return nil
	}
	matched := make([]Filing, 0, len(filings))
	for _, filing := range filings {
		if filing.Topics.Intersects(topics) {
			matched = append(matched, filing)
		}
	}

	return matched
}

// FilterOnDay keeps filings dated on the calendar day of day.
func FilterOnDay(filings []Filing, day time.Time) []Filing {
	matched := make([]Filing, 0, len(filings))
	for _, filing := range filings {
		if filing.OnDay(day) {
			matched = append(matched, filing)
		}
	}

	return matched
}

// SortNewestFirst orders filings by effective date, newest first. Undated
// filings sort last; ties keep their input order.
func SortNewestFirst(filings []Filing) {
	sort.SliceStable(filings, func(i, j int) bool {
		return filings[i].EffectiveDate().After(filings[j].EffectiveDate())
	})
}

// Truncate shortens value to at most limit runes, appending an ellipsis when cut.
func Truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}

	return strings.TrimSpace(string(runes[:limit])) + "…"
}
