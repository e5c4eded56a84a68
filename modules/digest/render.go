package digest

import (
	"time"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

const (
	analystListLimit = 5
	productListLimit = 3
	shortTitleLimit  = 100
)

// render builds the digest of day for one user. filings are already limited
// to the user's topics.
func render(role npa.Role, day time.Time, topics []npa.TopicTag, filings []npa.Filing) delivery.Screen {
	if len(filings) == 0 {
		return renderEmpty(day, topics)
	}

	var text npa.Text
	text.Plain("📅 ").Bold("Дайджест за " + day.Format("02.01.2006")).Line()
	text.Italic(role.Label()).Line().Line()

	switch role {
	case npa.RoleLawyer:
		renderLawyer(&text, topics, filings)
	case npa.RoleProduct:
		renderProduct(&text, topics, filings)
	default:
		renderAnalyst(&text, topics, filings)
	}

	text.Line().Plain(delivery.Separator).Line()
	text.Plain("🔔 ").Bold("Управление подписками:").Plain(" /start")

	return delivery.NewScreen(&text, nil)
}

func renderAnalyst(text *npa.Text, topics []npa.TopicTag, filings []npa.Filing) {
	writeTopicStats(text, "Статистика по вашим подпискам:", topics, filings)
	text.Line()
	text.Plain("🔍 ").Bold("Новые проекты:").Line().Line()
	writeShortList(text, filings, analystListLimit)
}

func renderLawyer(text *npa.Text, topics []npa.TopicTag, filings []npa.Filing) {
	writeTopicStats(text, "Статистика по вашим подпискам:", topics, filings)
	text.Line()
	text.Plain("⚖️ ").Bold("Полный обзор проектов:").Line().Line()
	for index, filing := range filings {
		delivery.WriteFilingEntry(text, index+1, filing, delivery.EntryStyle{
			Stage:       true,
			StatusEmoji: true,
			Date:        true,
		})
	}
}

func renderProduct(text *npa.Text, topics []npa.TopicTag, filings []npa.Filing) {
	writeTopicStats(text, "Сводка по темам:", topics, filings)
	text.Plainf("Всего новых проектов: %d", len(filings)).Line().Line()
	text.Plain("🔝 ").Bold("Главное:").Line().Line()
	writeShortList(text, filings, productListLimit)
}

func writeTopicStats(text *npa.Text, title string, topics []npa.TopicTag, filings []npa.Filing) {
	text.Plain("📊 ").Bold(title).Line()
	for _, topic := range topics {
		count := 0
		for _, filing := range filings {
			if filing.Topics.Has(topic) {
				count++
			}
		}
		marker := "✅"
		if count == 0 {
			marker = "❌"
		}
		text.Plainf("%s %s: ", marker, topic.ShortLabel()).Boldf("%d", count).Plain(" проектов").Line()
	}
}

func writeShortList(text *npa.Text, filings []npa.Filing, limit int) {
	for index, filing := range filings[:min(len(filings), limit)] {
		delivery.WriteFilingEntry(text, index+1, filing, delivery.EntryStyle{TitleLimit: shortTitleLimit})
	}
	if hidden := len(filings) - limit; hidden > 0 {
		text.Plainf("... и еще %d проектов", hidden).Line()
	}
}

func renderEmpty(day time.Time, topics []npa.TopicTag) delivery.Screen {
	var text npa.Text
	text.Plain("📅 ").Bold("Дайджест за " + day.Format("02.01.2006")).Line().Line()
	text.Plain("😴 ").Bold("За вчера не вышло ни одного проекта").Plain(" по вашим темам:").Line().Line()
	for _, topic := range topics {
		text.Plain("• " + topic.ShortLabel()).Line()
	}
	text.Line()
	text.Plain("📊 ").Bold("Общая статистика:").Line()
	text.Plain("• Отслеживается тем: ").Boldf("%d", len(topics)).Line().Line()
	text.Plain("💡 ").Bold("Совет:").Line()
	text.Plain("Вы можете добавить новые темы через меню '🔍 Поиск по темам'").Line().Line()
	text.Plain("🔔 ").Bold("Управление подписками:").Plain(" через меню '📌 Мои подписки'")

	return delivery.NewScreen(&text, nil)
}

func noSubscriptionsScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ У вас нет подписок. Сначала подпишитесь на темы!",
		&npa.Keyboard{Rows: [][]npa.Button{{{Text: "🔍 Перейти к подписке", Data: "menu_search"}}}},
	)
}

func fetchFailedScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ Не удалось загрузить проекты.\nПопробуйте позже.",
		&npa.Keyboard{Rows: [][]npa.Button{{{Text: "◀️ В главное меню", Data: "back_to_main"}}}},
	)
}
