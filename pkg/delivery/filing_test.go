package delivery

import (
	"strings"
	"testing"
	"time"

	"npa-monitor/pkg/npa"
)

func TestWriteFilingEntry(t *testing.T) {
	t.Parallel()

	filing := npa.Filing{
		ID:              "151234",
		Title:           "О применении усиленной квалифицированной электронной подписи",
		Department:      "Минцифры России",
		ProjectType:     npa.Reference{ID: "1"},
		Stage:           "Discussion",
		Status:          "Published",
		Procedure:       npa.Reference{ID: "2"},
		PublicationDate: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		PublicDiscussion: npa.Period{
			Start: time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 4, 4, 0, 0, 0, 0, time.UTC),
		},
		Topics: npa.NewTopicSet(npa.TopicEP),
	}

	tests := []struct {
		name        string
		style       EntryStyle
		wantContain []string
		wantMissing []string
	}{
		{
			name:  "short entry",
			style: EntryStyle{TitleLimit: 22},
			wantContain: []string{
				"3. ✍️ ЭП\n",
				"📌 О применении усиленной…",
				"🏢 Минцифры России",
				"🔗 https://regulation.gov.ru/projects#npa=151234",
			},
			wantMissing: []string{"Этап:", "📅", "📢 ✍️"},
		},
		{
			name:  "full entry",
			style: EntryStyle{Heading: "Подпись", Stage: true, StatusEmoji: true, Date: true},
			wantContain: []string{
				"3. 📢 Подпись\n",
				"Тип: 📜 Проект федерального закона",
				"Этап: 💬 Обсуждение",
				"Статус: 📢 Опубликован",
				"Процедура: 💬 Публичное обсуждение",
				"Публичное обсуждение: 2025-03-14 - 2025-04-04",
				"📅 2025-03-14",
			},
			wantMissing: []string{"Крайний срок", "Параллельное"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var text npa.Text
			WriteFilingEntry(&text, 3, filing, testCase.style)
			rendered := text.String()

			for _, want := range testCase.wantContain {
				if !strings.Contains(rendered, want) {
					t.Fatalf("entry = %q, missing %q", rendered, want)
				}
			}
			for _, unwanted := range testCase.wantMissing {
				if strings.Contains(rendered, unwanted) {
					t.Fatalf("entry = %q, unexpected %q", rendered, unwanted)
				}
			}
			if !strings.HasSuffix(rendered, Separator+"\n") {
				t.Fatalf("entry = %q, want separator suffix", rendered)
			}
			if err := npa.ValidateTextEntities(rendered, text.Entities()); err != nil {
				t.Fatalf("entities invalid: %v", err)
			}
		})
	}
}
