package npa

var stageLabels = map[string]string{
	"Text":         "📝 Текст проекта",
	"Discussion":   "💬 Обсуждение",
	"Evaluation":   "📊 Оценка регулирующего воздействия",
	"Expertise":    "🔍 Экспертиза",
	"Approval":     "✅ Согласование",
	"Signing":      "✍️ Подписание",
	"Registration": "📋 Регистрация",
	"Publication":  "📢 Опубликован",
	"Cancelled":    "❌ Отменен",
	"Completed":    "✔️ Завершен",
}

var statusLabels = map[string]string{
	"Developing":      "🔄 Разработка",
	"Discussion":      "💬 Публичное обсуждение",
	"Evaluation":      "📊 Оценка регулирующего воздействия",
	"Conclusion":      "📝 Подготовка заключения",
	"Approval":        "✅ Согласование",
	"Signing":         "✍️ Подписание",
	"Registered":      "📋 Зарегистрирован",
	"Published":       "📢 Опубликован",
	"Cancelled":       "❌ Отменен",
	"EndDiscussion":   "✅ Обсуждение завершено",
	"StartDiscussion": "🆕 Начало обсуждения",
	"OnApprove":       "⏳ На согласовании",
	"Rejected":        "❌ Отклонен",
	"Draft":           "📝 Черновик",
}

var statusEmoji = map[string]string{
	"Developing": "🔄",
	"Discussion": "💬",
	"Evaluation": "📊",
	"Conclusion": "📝",
	"Approval":   "✅",
	"Signing":    "✍️",
	"Registered": "📋",
	"Published":  "📢",
	"Cancelled":  "❌",
}

var procedureLabels = map[string]string{
	"1": "📢 Раскрытие информации о подготовке проектов",
	"2": "💬 Публичное обсуждение",
	"3": "📊 Оценка регулирующего воздействия",
	"4": "🔍 Экспертиза",
	"5": "✅ Согласование",
}

var projectTypeLabels = map[string]string{
	"1": "📜 Проект федерального закона",
	"2": "📋 Проект ведомственного акта",
	"3": "📌 Проект указа Президента РФ",
	"4": "📑 Проект постановления Правительства РФ",
	"5": "📄 Проект распоряжения Правительства РФ",
}

// StageLabel returns a readable stage name, or the raw code when unknown.
func (f Filing) StageLabel() string {
	return labelOr(stageLabels, f.Stage, f.Stage)
}

// StatusLabel returns a readable status name, or the raw code when unknown.
func (f Filing) StatusLabel() string {
	return labelOr(statusLabels, f.Status, f.Status)
}

// StatusEmoji returns the marker emoji for the filing status.
func (f Filing) StatusEmoji() string {
	return labelOr(statusEmoji, f.Status, "⚡")
}

// ProcedureLabel returns a readable procedure name.
func (f Filing) ProcedureLabel() string {
	return labelOr(procedureLabels, f.Procedure.ID, nonEmpty(f.Procedure.Description, "Неизвестная процедура"))
}

// ProjectTypeLabel returns a readable project type name.
func (f Filing) ProjectTypeLabel() string {
	return labelOr(projectTypeLabels, f.ProjectType.ID, nonEmpty(f.ProjectType.Description, "Неизвестный тип"))
}

func labelOr(labels map[string]string, key string, fallback string) string {
	if label, ok := labels[key]; ok {
		return label
	}

	return fallback
}

func nonEmpty(value string, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
