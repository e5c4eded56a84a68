package delivery

import (
	"time"

	"npa-monitor/pkg/npa"
)

const (
	// Separator divides filing entries in list screens.
	Separator = "━━━━━━━━━━━━━━━━━━━━"
	// UntaggedLabel heads entries for filings outside every topic.
	UntaggedLabel = "📋 Без темы"
)

// EntryStyle controls how much of a filing one list entry shows.
type EntryStyle struct {
	// Heading replaces the topic labels in the entry header when set.
	Heading string
	// TitleLimit truncates the title to this many runes. Zero keeps it whole.
	TitleLimit int
	// Stage adds type, stage, status, procedure and discussion dates.
	Stage bool
	// StatusEmoji prefixes the header with the status marker.
	StatusEmoji bool
	// Date adds the effective date line.
	Date bool
}

// WriteFilingEntry appends one numbered filing entry followed by a separator.
func WriteFilingEntry(text *npa.Text, number int, filing npa.Filing, style EntryStyle) {
	heading := style.Heading
	if heading == "" {
		heading = filing.Topics.ShortLabels()
	}
	if heading == "" {
		heading = UntaggedLabel
	}

	text.Plainf("%d. ", number)
	if style.StatusEmoji {
		text.Plain(filing.StatusEmoji() + " ")
	}
	text.Bold(heading).Line()
	text.Plain("   📌 " + npa.Truncate(filing.Title, style.TitleLimit)).Line()
	text.Plain("   🏢 " + filing.Department).Line()
	if style.Stage {
		WriteFilingStage(text, filing, "   ")
	}
	if style.Date {
		text.Plain("   📅 " + filing.DateLabel()).Line()
	}
	text.Plain("   🔗 ").Link(filing.URL(), filing.URL()).Line()
	text.Plain(Separator).Line()
}

// WriteFilingStage appends the procedural details of filing, one per line.
func WriteFilingStage(text *npa.Text, filing npa.Filing, indent string) {
	if filing.ProjectType.ID != "" {
		stageLine(text, indent, "📌 ", "Тип:", filing.ProjectTypeLabel())
	}
	if filing.Stage != "" {
		stageLine(text, indent, "📍 ", "Этап:", filing.StageLabel())
	}
	if filing.Status != "" {
		stageLine(text, indent, "⚡ ", "Статус:", filing.StatusLabel())
	}
	if filing.Procedure.ID != "" {
		stageLine(text, indent, "🔄 ", "Процедура:", filing.ProcedureLabel())
	}
	if filing.PublicDiscussion.Complete() {
		stageLine(text, indent, "🗓 ", "Публичное обсуждение:", periodLabel(filing.PublicDiscussion))
	}
	if filing.ParallelDiscussion.Complete() {
		stageLine(text, indent, "🔄 ", "Параллельное обсуждение:", periodLabel(filing.ParallelDiscussion))
	}
	if !filing.Deadline.IsZero() {
		stageLine(text, indent, "⏰ ", "Крайний срок:", filing.Deadline.Format(time.DateOnly))
	}
}

func stageLine(text *npa.Text, indent string, icon string, label string, value string) {
	text.Plain(indent + icon).Bold(label).Plain(" " + value).Line()
}

func periodLabel(period npa.Period) string {
	return period.Start.Format(time.DateOnly) + " - " + period.End.Format(time.DateOnly)
}
