package menu

import (
	"fmt"
	"time"

	"npa-monitor/pkg/delivery"
	"npa-monitor/pkg/npa"
)

const (
	archiveListLimit = 30
	titleLimit       = 150
)

func button(text string, data string) npa.Button {
	return npa.Button{Text: text, Data: data}
}

func keyboard(rows ...[]npa.Button) *npa.Keyboard {
	return &npa.Keyboard{Rows: rows}
}

func backToMainRow() []npa.Button {
	return []npa.Button{button("◀️ Назад в меню", dataBackToMain)}
}

func mainKeyboard() *npa.Keyboard {
	return keyboard(
		[]npa.Button{button("📋 Текущие проекты", dataCurrent)},
		[]npa.Button{button("🔍 Поиск по темам", dataSearch)},
		[]npa.Button{button("📌 Мои подписки", dataSubscriptions)},
		[]npa.Button{button("🗂 Архив", dataArchive)},
		[]npa.Button{button("⚙️ Настройки", dataSettings)},
		[]npa.Button{button("❓ Помощь", dataHelp)},
		[]npa.Button{button("📅 Последние обновления", dataLast)},
	)
}

// topicKeyboard lays out every topic two per row with a trailing back row.
func topicKeyboard(prefix string) *npa.Keyboard {
	topics := npa.AllTopics()
	rows := make([][]npa.Button, 0, len(topics)/2+2)
	for start := 0; start < len(topics); start += 2 {
		end := min(start+2, len(topics))
		row := make([]npa.Button, 0, 2)
		for _, topic := range topics[start:end] {
			row = append(row, button(topic.Label(), prefix+string(topic)))
		}
		rows = append(rows, row)
	}
	rows = append(rows, backToMainRow())

	return keyboard(rows...)
}

func welcomeScreen(firstName string) delivery.Screen {
	var text npa.Text
	if firstName == "" {
		text.Plain("👋 Привет! 🎉")
	} else {
		text.Plainf("👋 Привет, %s! 🎉", firstName)
	}
	text.Line().Line().Plain("📋 ").Bold("Выберите пункт меню:")

	return delivery.NewScreen(&text, mainKeyboard())
}

func mainMenuScreen() delivery.Screen {
	var text npa.Text
	text.Plain("📋 ").Bold("Выберите пункт меню:")

	return delivery.NewScreen(&text, mainKeyboard())
}

func searchScreen() delivery.Screen {
	var text npa.Text
	text.Plain("📋 ").Bold("Выберите темы для подписки:").Line()
	text.Plain("(можно подписаться на несколько)")

	return delivery.NewScreen(&text, topicKeyboard(prefixSubscribe))
}

func archiveTopicsScreen() delivery.Screen {
	var text npa.Text
	text.Plain("🗂 ").Bold("Архив проектов за 30 дней").Line().Line()
	text.Plain("Выберите тему для просмотра:")

	return delivery.NewScreen(&text, topicKeyboard(prefixArchive))
}

func noSubscriptionsScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ У вас нет активных подписок.\n\nХотите подписаться?",
		keyboard(
			[]npa.Button{button("📋 Перейти к подписке", dataSearch)},
			backToMainRow(),
		),
	)
}

func subscriptionsScreen(topics []npa.TopicTag) delivery.Screen {
	if len(topics) == 0 {
		return noSubscriptionsScreen()
	}

	var text npa.Text
	text.Plain("📌 ").Bold("Ваши подписки:").Line().Line()
	rows := make([][]npa.Button, 0, len(topics)+2)
	for _, topic := range topics {
		text.Plain("• " + topic.ShortLabel()).Line()
		rows = append(rows, []npa.Button{
			button("❌ Отписаться от "+topic.ShortLabel(), prefixUnsubscribe+string(topic)),
		})
	}
	rows = append(rows,
		[]npa.Button{button("➕ Добавить подписки", dataSearch)},
		backToMainRow(),
	)

	return delivery.NewScreen(&text, keyboard(rows...))
}

func fetchFailedScreen(backData string, backLabel string) delivery.Screen {
	return delivery.PlainScreen(
		"❌ Не удалось загрузить проекты.\nПопробуйте позже.",
		keyboard([]npa.Button{button(backLabel, backData)}),
	)
}

func currentScreen(filings []npa.Filing) delivery.Screen {
	if len(filings) == 0 {
		return delivery.PlainScreen(
			"❌ Нет проектов по вашим подпискам.\n\nИспользуйте '🔍 Поиск по темам' чтобы подписаться на новые темы.",
			keyboard(backToMainRow()),
		)
	}

	var text npa.Text
	text.Plain("📋 ").Bold("Текущие проекты (по вашим подпискам):").Line().Line()
	for index, filing := range filings {
		delivery.WriteFilingEntry(&text, index+1, filing, delivery.EntryStyle{
			TitleLimit:  100,
			Stage:       true,
			StatusEmoji: true,
			Date:        true,
		})
	}

	return delivery.NewScreen(&text, keyboard(backToMainRow()))
}

func lastScreen(filings []npa.Filing) delivery.Screen {
	if len(filings) == 0 {
		return delivery.PlainScreen("📅 За вчера проектов нет", keyboard(backToMainRow()))
	}

	var text npa.Text
	text.Plain("📅 ").Bold("Последние проекты:").Line().Line()
	for index, filing := range filings {
		delivery.WriteFilingEntry(&text, index+1, filing, delivery.EntryStyle{
			TitleLimit:  200,
			Stage:       true,
			StatusEmoji: true,
			Date:        true,
		})
	}

	return delivery.NewScreen(&text, keyboard(backToMainRow()))
}

func archiveScreen(topic npa.TopicTag, filings []npa.Filing, now time.Time) delivery.Screen {
	backToTopics := []npa.Button{button("◀️ Назад к темам", dataArchive)}
	if len(filings) == 0 {
		return delivery.PlainScreen(
			fmt.Sprintf("❌ Нет проектов по теме %s за последние 30 дней", topic.ShortLabel()),
			keyboard(backToTopics),
		)
	}

	var text npa.Text
	text.Plain("🗂 ").Bold(fmt.Sprintf("Архив %s за 30 дней", topic.ShortLabel())).Line().Line()
	text.Plainf("📅 Период: %s - %s", now.AddDate(0, 0, -30).Format("02.01.2006"), now.Format("02.01.2006")).Line().Line()
	text.Plainf("📊 Найдено проектов: %d", len(filings)).Line().Line()
	text.Plain(delivery.Separator).Line()

	for index, filing := range filings[:min(len(filings), archiveListLimit)] {
		delivery.WriteFilingEntry(&text, index+1, filing, delivery.EntryStyle{
			Heading:     topic.ShortLabel(),
			TitleLimit:  titleLimit,
			Stage:       true,
			StatusEmoji: true,
			Date:        true,
		})
	}
	if hidden := len(filings) - archiveListLimit; hidden > 0 {
		text.Line().Plainf("... и еще %d проектов", hidden)
	}

	return delivery.NewScreen(&text, keyboard(
		backToTopics,
		[]npa.Button{button("◀️ В главное меню", dataBackToMain)},
	))
}

func subscribedScreen(topic npa.TopicTag) delivery.Screen {
	return delivery.Screen{
		Text:     "✅ Вы подписались на тему " + topic.ShortLabel(),
		Keyboard: keyboard(backToMainRow()),
		Toast:    "Подписка оформлена",
	}
}

func subscribeFailedScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ Ошибка подписки.\nВозможно, вы уже подписаны на эту тему",
		keyboard([]npa.Button{button("◀️ Назад", dataSearch)}),
	)
}

func unsubscribedScreen(topic npa.TopicTag) delivery.Screen {
	return delivery.Screen{
		Text:     "✅ Вы отписались от темы " + topic.ShortLabel(),
		Keyboard: keyboard(backToMainRow()),
		Toast:    "Подписка отменена",
	}
}

func unsubscribeFailedScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ Ошибка отписки.\nВозможно, вы не были подписаны на эту тему",
		keyboard([]npa.Button{button("◀️ Назад", dataSubscriptions)}),
	)
}

func settingsScreen(role npa.Role, stats []npa.CacheStats) delivery.Screen {
	var text npa.Text
	text.Plain("⚙️ ").Bold("Настройки").Line().Line()
	text.Plain("🎭 Роль: ").Bold(role.Label()).Line()
	text.Plain(role.Description()).Line().Line()
	text.Plain("📊 ").Bold("Статистика кеша:").Line()
	for _, stat := range stats {
		text.Plainf("%s: %d/%d", cacheLabel(stat.Name), stat.Size, stat.MaxSize).Line()
	}

	return delivery.NewScreen(&text, keyboard(
		[]npa.Button{button("🎭 Сменить роль", dataRole)},
		[]npa.Button{button("🗑 Очистить кеш", dataClearCache)},
		backToMainRow(),
	))
}

func cacheLabel(name string) string {
	switch name {
	case "filings":
		return "Проекты"
	case "archive":
		return "Архив"
	case "subscriptions":
		return "Подписки"
	default:
		return name
	}
}

func cacheClearedScreen() delivery.Screen {
	return delivery.Screen{
		Text:     "✅ Кеш успешно очищен!",
		Keyboard: keyboard(backToMainRow()),
		Toast:    "Кеш очищен",
	}
}

func roleScreen(current npa.Role) delivery.Screen {
	var text npa.Text
	text.Plain("🎭 ").Bold("Выберите роль:").Line().Line()
	rows := make([][]npa.Button, 0, len(npa.AllRoles())+1)
	for _, role := range npa.AllRoles() {
		marker := "▫️"
		if role == current {
			marker = "✅"
		}
		text.Plain(marker+" ").Bold(role.Label()).Line()
		text.Plain("   " + role.Description()).Line()
		rows = append(rows, []npa.Button{button(role.Label(), prefixRole+string(role))})
	}
	rows = append(rows, []npa.Button{button("◀️ Назад", dataSettings)})

	return delivery.NewScreen(&text, keyboard(rows...))
}

func roleChangedScreen(role npa.Role) delivery.Screen {
	var text npa.Text
	text.Plain("✅ Роль изменена: ").Bold(role.Label()).Line().Line()
	text.Plain(role.Description())

	screen := delivery.NewScreen(&text, keyboard(backToMainRow()))
	screen.Toast = "Роль изменена"

	return screen
}

func roleFailedScreen() delivery.Screen {
	return delivery.PlainScreen(
		"❌ Не удалось сменить роль.\nОтправьте /start и попробуйте снова",
		keyboard(backToMainRow()),
	)
}

func helpScreen() delivery.Screen {
	var text npa.Text
	text.Plain("📚 ").Bold("СПРАВКА").Line().Line()

	text.Plain("📌 ").Bold("О ТЕМАХ МОНИТОРИНГА:").Line()
	for _, topic := range npa.AllTopics() {
		text.Bold(topic.Label()).Line()
	}
	text.Line()

	text.Plain("📊 ").Bold("ЭТАПЫ ПРОЕКТОВ:").Line()
	for _, stage := range []string{"Text", "Discussion", "Evaluation", "Expertise", "Approval", "Signing", "Registration", "Publication"} {
		text.Bold(stage).Plain(" - " + npa.Filing{Stage: stage}.StageLabel()).Line()
	}
	text.Line()

	text.Plain("ℹ️ ").Bold("Как это работает:").Line()
	text.Plain("1. Нажмите '🔍 Поиск по темам'").Line()
	text.Plain("2. Выберите интересующие темы").Line()
	text.Plain("3. Бот покажет проекты по вашим подпискам").Line()
	text.Plain("4. Каждое утро приходит дайджест за вчера").Line().Line()

	text.Plain("📋 ").Bold("Кнопки меню:").Line()
	text.Plain("• 📋 Текущие проекты - только по вашим подпискам").Line()
	text.Plain("• 📅 Последние обновления - проекты за вчера").Line()
	text.Plain("• 🔍 Поиск по темам - подписаться на темы").Line()
	text.Plain("• 📌 Мои подписки - управление подписками").Line()
	text.Plain("• 🗂 Архив - проекты за 30 дней по теме").Line()
	text.Plain("• ⚙️ Настройки - роль и формат дайджеста")

	return delivery.NewScreen(&text, keyboard(backToMainRow()))
}
