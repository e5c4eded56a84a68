package npa

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TextEntityType identifies the formatting applied to a text range.
type TextEntityType string

const (
	// TextEntityBold renders the range in bold.
	TextEntityBold TextEntityType = "bold"
	// TextEntityItalic renders the range in italics.
	TextEntityItalic TextEntityType = "italic"
	// TextEntityCode renders the range as inline code.
	TextEntityCode TextEntityType = "code"
	// TextEntityTextLink turns the range into a hyperlink to URL.
	TextEntityTextLink TextEntityType = "text_link"
)

// TextEntity marks a formatted fragment. Offset and Length count runes.
type TextEntity struct {
	Type   TextEntityType
	Offset int
	Length int
	URL    string
}

// ValidateTextEntities checks that every entity fits inside text.
func ValidateTextEntities(text string, entities []TextEntity) error {
	total := utf8.RuneCountInString(text)
	for index, entity := range entities {
		switch entity.Type {
		case TextEntityBold, TextEntityItalic, TextEntityCode:
		case TextEntityTextLink:
			if entity.URL == "" {
				return fmt.Errorf("entity[%d]: text_link without url", index)
			}
		default:
			return fmt.Errorf("entity[%d]: unsupported type %q", index, entity.Type)
		}
		if entity.Offset < 0 || entity.Length <= 0 {
			return fmt.Errorf("entity[%d]: invalid range offset=%d length=%d", index, entity.Offset, entity.Length)
		}
		if entity.Offset+entity.Length > total {
			return fmt.Errorf("entity[%d]: range %d+%d exceeds text length %d", index, entity.Offset, entity.Length, total)
		}
	}

	return nil
}

// Text accumulates message text and its formatting entities.
//
// The zero value is ready to use.
type Text struct {
	builder  strings.Builder
	runes    int
	entities []TextEntity
}

// Plain appends unformatted text.
func (t *Text) Plain(value string) *Text {
	t.builder.WriteString(value)
	t.runes += utf8.RuneCountInString(value)

	return t
}

// Plainf appends formatted unformatted text.
func (t *Text) Plainf(format string, args ...any) *Text {
	return t.Plain(fmt.Sprintf(format, args...))
}

// Bold appends bold text.
func (t *Text) Bold(value string) *Text {
	return t.styled(TextEntity{Type: TextEntityBold}, value)
}

// Boldf appends formatted bold text.
func (t *Text) Boldf(format string, args ...any) *Text {
	return t.Bold(fmt.Sprintf(format, args...))
}

// Italic appends italic text.
func (t *Text) Italic(value string) *Text {
	return t.styled(TextEntity{Type: TextEntityItalic}, value)
}

// Link appends value as a hyperlink to url.
func (t *Text) Link(value, url string) *Text {
	return t.styled(TextEntity{Type: TextEntityTextLink, URL: url}, value)
}

// Line ends the current line.
func (t *Text) Line() *Text {
	return t.Plain("\n")
}

// Len returns the accumulated length in runes.
func (t *Text) Len() int {
	return t.runes
}

// String returns the accumulated text.
func (t *Text) String() string {
	return t.builder.String()
}

// Entities returns a copy of the accumulated entities.
func (t *Text) Entities() []TextEntity {
	return append([]TextEntity(nil), t.entities...)
}

func (t *Text) styled(entity TextEntity, value string) *Text {
	length := utf8.RuneCountInString(value)
	if length > 0 {
		entity.Offset = t.runes
		entity.Length = length
		t.entities = append(t.entities, entity)
	}

	return t.Plain(value)
}
