package npa

import (
	"fmt"
	"strings"
)

// TopicTag is one code from the closed set of monitored topics.
type TopicTag string

const (
	TopicKEDO      TopicTag = "kedo"
	TopicMCHD      TopicTag = "mchd"
	TopicEPD       TopicTag = "epd"
	TopicEP        TopicTag = "ep"
	TopicOFD       TopicTag = "ofd"
	TopicReporting TopicTag = "reporting"
	TopicEDOB2B    TopicTag = "edo_b2b"
	TopicEcosystem TopicTag = "ecosystem"
)

type topicLabels struct {
	short string
	full  string
}

var topicOrder = []TopicTag{
	TopicKEDO,
	TopicMCHD,
	TopicEPD,
	TopicEP,
	TopicOFD,
	TopicReporting,
	TopicEDOB2B,
	TopicEcosystem,
}

var topicCatalog = map[TopicTag]topicLabels{
	TopicKEDO:      {short: "👥 КЭДО", full: "👥 КЭДО (кадровый электронный документооборот)"},
	TopicMCHD:      {short: "📄 МЧД", full: "📄 МЧД (машиночитаемые доверенности)"},
	TopicEPD:       {short: "🚛 ЭПД", full: "🚛 ЭПД (электронные перевозочные документы)"},
	TopicEP:        {short: "✍️ ЭП", full: "✍️ ЭП (электронная подпись)"},
	TopicOFD:       {short: "🧾 ОФД", full: "🧾 ОФД (операторы фискальных данных)"},
	TopicReporting: {short: "📊 Отчетность", full: "📊 Отчетность (электронная отчетность)"},
	TopicEDOB2B:    {short: "🔄 B2B ЭДО", full: "🔄 B2B ЭДО (коммерческий документооборот)"},
	TopicEcosystem: {short: "🌐 Экосистема", full: "🌐 Экосистема / 152-ФЗ"},
}

// AllTopics returns every topic in display order.
func AllTopics() []TopicTag {
	return append([]TopicTag(nil), topicOrder...)
}

// ParseTopic validates a topic code.
func ParseTopic(code string) (TopicTag, error) {
	topic := TopicTag(strings.ToLower(strings.TrimSpace(code)))
	if _, ok := topicCatalog[topic]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopic, code)
	}

	return topic, nil
}

// Valid reports whether t belongs to the closed topic set.
func (t TopicTag) Valid() bool {
	_, ok := topicCatalog[t]
	return ok
}

// ShortLabel returns the compact label used in lists and buttons.
func (t TopicTag) ShortLabel() string {
	if labels, ok := topicCatalog[t]; ok {
		return labels.short
	}

	return string(t)
}

// Label returns the descriptive label used in topic pickers.
func (t TopicTag) Label() string {
	if labels, ok := topicCatalog[t]; ok {
		return labels.full
	}

	return string(t)
}

// TopicSet is a duplicate-free set of topics kept in display order.
type TopicSet []TopicTag

// NewTopicSet builds a set from tags, dropping unknown codes and duplicates.
func NewTopicSet(tags ...TopicTag) TopicSet {
	present := make(map[TopicTag]struct{}, len(tags))
	for _, tag := range tags {
		if tag.Valid() {
			present[tag] = struct{}{}
		}
	}
	if len(present) == 0 {
		return nil
	}

	set := make(TopicSet, 0, len(present))
	for _, tag := range topicOrder {
		if _, ok := present[tag]; ok {
			set = append(set, tag)
		}
	}

	return set
}

// Has reports whether tag is in the set.
func (s TopicSet) Has(tag TopicTag) bool {
	for _, candidate := range s {
		if candidate == tag {
			return true
		}
	}

	return false
}

// Intersects reports whether the set shares at least one topic with tags.
func (s TopicSet) Intersects(tags []TopicTag) bool {
	for _, tag := range tags {
		if s.Has(tag) {
			return true
		}
	}

	return false
}

// ShortLabels joins the short labels of every topic in the set.
func (s TopicSet) ShortLabels() string {
	labels := make([]string, 0, len(s))
	for _, tag := range s {
		labels = append(labels, tag.ShortLabel())
	}

	return strings.Join(labels, ", ")
}

// Classifier maps a filing title to the topics it concerns.
//
// Implementations are pure: the same title always yields the same set.
type Classifier interface {
	Classify(title string) TopicSet
}
