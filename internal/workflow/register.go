package workflow

import (
	"strings"

	"github.com/zulandar/blockyard/internal/identity"
)

// FlowRegister records the user's full name and files them for approval.
const FlowRegister = "register"

func registerFlow() *Flow {
	return newFlow(FlowRegister, "full_name", false,
		textStep("full_name", "Введите вашу Фамилию и Имя (например: Иванов Иван):",
			"Пожалуйста, укажите Фамилию и Имя через пробел.", commitRegister),
	)
}

func commitRegister(c *Ctx, fullName string) Result {
	if len(strings.Fields(fullName)) < 2 {
		return reprompt(text("Пожалуйста, укажите Фамилию и Имя через пробел."))
	}
	id := c.Input.Identity
	u, err := identity.Register(c.DB, id, fullName, c.engine.isAdmin(id.Key()))
	if err != nil {
		return commitFailed(FlowRegister, err)
	}
	if u.Role == identity.RoleAdmin && u.Status == identity.StatusActive {
		return finish(text("Вы зарегистрированы как администратор и активированы."))
	}
	if u.Status == identity.StatusActive {
		return finish(text("Данные обновлены. Ваша учётная запись активна."))
	}
	return finish(text("Заявка на регистрацию отправлена администратору. Ожидайте подтверждения."))
}
