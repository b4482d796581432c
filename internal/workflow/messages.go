package workflow

// User-facing texts shared by several flows.
const (
	MsgStateError   = "Ошибка состояния. Начните заново."
	MsgCommitFailed = "Не удалось сохранить изменения: %v. Данные не записаны, начните заново."
	MsgNotActive    = "Доступ только для подтверждённых пользователей. Зарегистрируйтесь и дождитесь подтверждения администратора."
	MsgUnitNotFound = "Блок не найден."
	MsgCancelled    = "Отменено."

	msgNumberEmpty   = "Номер не должен быть пустым. Введите номер ещё раз:"
	msgNumberMissing = "Блоки с таким номером не найдены. Введите другой номер:"
	msgPickRetry     = "Ошибка выбора. Повторите ввод номера."

	dateLayout = "02-01-2006 15:04"
	dash       = "—"
)

const skipLabel = "⏭️ Пропустить"

// machineChoices offers RA1..RA3 and a skip button under prefix.
func machineChoices(prefix string) [][]Choice {
	rows := make([][]Choice, 0, 4)
	for _, m := range []string{"RA1", "RA2", "RA3"} {
		rows = append(rows, []Choice{{Label: machineLabel(m), Token: prefix + ":" + m}})
	}
	return append(rows, []Choice{{Label: skipLabel, Token: prefix + ":skip"}})
}

func skipChoices(token string) [][]Choice {
	return [][]Choice{{{Label: skipLabel, Token: token}}}
}

func confirmChoices(prefix, yes string) [][]Choice {
	return [][]Choice{
		{{Label: yes, Token: prefix + ":confirm:yes"}},
		{{Label: "❌ Отмена", Token: prefix + ":confirm:no"}},
	}
}

// machineLabel shows a machine code the way the floor writes it.
func machineLabel(m string) string {
	switch m {
	case "RA1":
		return "РА1"
	case "RA2":
		return "РА2"
	case "RA3":
		return "РА3"
	}
	return m
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return dash
	}
	return *s
}

func machineOrDash(s *string) string {
	if s == nil || *s == "" {
		return dash
	}
	return machineLabel(*s)
}
