// Package classify assigns topic tags to filing titles with keyword rules.
package classify

import (
	"strings"
	"unicode"

	"npa-monitor/pkg/npa"
)

// rule matches a topic when any keyword matches and no exclusion does.
//
// words match whole tokens, stems match anywhere in the normalized title and
// every stem of an allOf group must be present.
type rule struct {
	topic   npa.TopicTag
	words   []string
	stems   []string
	allOf   [][]string
	exclude []string
}

var defaultRules = []rule{
	{
		topic: npa.TopicKEDO,
		words: []string{"кэдо"},
		allOf: [][]string{
			{"кадров", "электронн"},
			{"трудов", "книжк", "электронн"},
			{"работодател", "работник", "электронн"},
		},
	},
	{
		topic: npa.TopicMCHD,
		words: []string{"мчд"},
		allOf: [][]string{
			{"машиночитаем", "доверенност"},
			{"доверенност", "электронн"},
		},
	},
	{
		topic: npa.TopicEPD,
		words: []string{"эпд", "этрн"},
		allOf: [][]string{
			{"перевозочн", "электронн"},
			{"транспортн", "накладн", "электронн"},
			{"путев", "лист", "электронн"},
		},
	},
	{
		topic: npa.TopicEP,
		words: []string{"эп", "кэп", "нэп", "пэп", "уэцп"},
		allOf: [][]string{
			{"электронн", "подпис"},
			{"удостоверяющ", "центр"},
		},
	},
	{
		topic: npa.TopicOFD,
		words: []string{"офд", "ккт"},
		stems: []string{"фискальн", "контрольно-кассов"},
		allOf: [][]string{
			{"кассов", "техник"},
		},
	},
	{
		topic: npa.TopicReporting,
		allOf: [][]string{
			{"отчетност", "электронн"},
			{"бухгалтерск", "отчетност"},
			{"налогов", "отчетност"},
			{"налогов", "деклараци", "электронн"},
			{"статистическ", "отчетност"},
		},
	},
	{
		topic: npa.TopicEDOB2B,
		words: []string{"эдо", "упд"},
		allOf: [][]string{
			{"электронн", "документооборот"},
			{"счет", "фактур", "электронн"},
			{"универсальн", "передаточн"},
		},
		exclude: []string{"кадров"},
	},
	{
		topic: npa.TopicEcosystem,
		words: []string{"152-фз"},
		stems: []string{"экосистем"},
		allOf: [][]string{
			{"персональн", "данн"},
			{"цифров", "платформ"},
		},
	},
}

// Match names the keyword that put a title into a topic.
type Match struct {
	Topic   npa.TopicTag
	Keyword string
}

// Classifier applies a fixed rule set. The zero value uses the default rules.
type Classifier struct {
	rules []rule
}

// New returns a classifier with the default rules.
func New() *Classifier {
	return &Classifier{rules: defaultRules}
}

// Classify returns every topic whose rules match title.
func (c *Classifier) Classify(title string) npa.TopicSet {
	matches := c.Explain(title)
	if len(matches) == 0 {
		return nil
	}

	tags := make([]npa.TopicTag, 0, len(matches))
	for _, match := range matches {
		tags = append(tags, match.Topic)
	}

	return npa.NewTopicSet(tags...)
}

// Explain returns the first matching keyword of every matched topic.
func (c *Classifier) Explain(title string) []Match {
	text := normalize(title)
	if text == "" {
		return nil
	}
	tokens := tokenSet(text)

	rules := defaultRules
	if c != nil && c.rules != nil {
		rules = c.rules
	}

	var matches []Match
	for _, candidate := range rules {
		if keyword, ok := candidate.match(text, tokens); ok {
			matches = append(matches, Match{Topic: candidate.topic, Keyword: keyword})
		}
	}

	return matches
}

func (r rule) match(text string, tokens map[string]struct{}) (string, bool) {
	for _, stem := range r.exclude {
		if strings.Contains(text, stem) {
			return "", false
		}
	}
	for _, word := range r.words {
		if _, ok := tokens[word]; ok {
			return word, true
		}
	}
	for _, stem := range r.stems {
		if strings.Contains(text, stem) {
			return stem, true
		}
	}
	for _, group := range r.allOf {
		if containsAll(text, group) {
			return strings.Join(group, "+"), true
		}
	}

	return "", false
}

func containsAll(text string, stems []string) bool {
	for _, stem := range stems {
		if !strings.Contains(text, stem) {
			return false
		}
	}

	return len(stems) > 0
}

func normalize(title string) string {
	text := strings.ToLower(strings.TrimSpace(title))

	return strings.ReplaceAll(text, "ё", "е")
}

// tokenSet splits on everything except letters, digits and hyphens so that
// law references like "152-фз" stay whole.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, "-")
		if field != "" {
			tokens[field] = struct{}{}
		}
	}

	return tokens
}
