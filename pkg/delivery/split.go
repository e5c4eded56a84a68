package delivery

import (
	"unicode/utf16"

	"npa-monitor/pkg/npa"
)

// MaxMessageLength is the Telegram message limit in UTF-16 code units.
const MaxMessageLength = 4096

// Chunk is one message-sized piece of a longer text.
type Chunk struct {
	Text     string
	Entities []npa.TextEntity
}

// Split cuts text into chunks of at most limit UTF-16 code units, breaking
// after the last newline that fits and hard-cutting lines that never fit.
// Newlines at chunk edges are dropped. Entities are clipped to every chunk
// they overlap and re-offset to it.
func Split(text string, entities []npa.TextEntity, limit int) []Chunk {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
		if start >= len(runes) {
			break
		}

		end, width, lastBreak := start, 0, -1
		for end < len(runes) {
			runeWidth := utf16Width(runes[end])
			if width+runeWidth > limit {
				break
			}
			width += runeWidth
			if runes[end] == '\n' {
				lastBreak = end
			}
			end++
		}
		if end < len(runes) && runes[end] != '\n' && lastBreak > start {
			end = lastBreak
		}
		if end == start {
			// A single rune wider than the limit.
			end = start + 1
		}

		textEnd := end
		for textEnd > start && runes[textEnd-1] == '\n' {
			textEnd--
		}
		if textEnd > start {
			chunks = append(chunks, Chunk{
				Text:     string(runes[start:textEnd]),
				Entities: clipEntities(entities, start, textEnd),
			})
		}
		start = end
	}

	return chunks
}

func clipEntities(entities []npa.TextEntity, start int, end int) []npa.TextEntity {
	var clipped []npa.TextEntity
	for _, entity := range entities {
		entityStart := max(entity.Offset, start)
		entityEnd := min(entity.Offset+entity.Length, end)
		if entityEnd <= entityStart {
			continue
		}
		entity.Offset = entityStart - start
		entity.Length = entityEnd - entityStart
		clipped = append(clipped, entity)
	}

	return clipped
}

func utf16Width(r rune) int {
	if width := utf16.RuneLen(r); width > 0 {
		return width
	}

	return 1
}
