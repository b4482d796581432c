package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

// FlowReceive takes a unit into the warehouse.
const FlowReceive = "receive"

var conditionButtons = map[string]string{
	unit.ConditionOK:       "✅ Исправный",
	unit.ConditionBad:      "❌ Не исправный",
	unit.ConditionWarranty: "🛡 Гарантийный",
	unit.ConditionCheck:    "🧪 На проверку",
}

func conditionChoices() [][]Choice {
	rows := make([][]Choice, 0, len(unit.Conditions))
	for _, c := range unit.Conditions {
		rows = append(rows, []Choice{{Label: conditionButtons[c], Token: "recv:cond:" + c}})
	}
	return rows
}

func receiveFlow() *Flow {
	return newFlow(FlowReceive, "number", true,
		textStep("number", "Введите номер блока:", msgNumberEmpty, func(c *Ctx, v string) Result {
			c.Set("number", v)
			return advance("name_choice")
		}),
		referenceStep("name", "recv:name", "Название блока:", "Введите название блока:",
			"Ошибка выбора. Введите название вручную:", unit.DistinctNames, "type_choice"),
		textStep("name_manual", "Введите название блока:", "Название не должно быть пустым. Введите ещё раз:",
			func(c *Ctx, v string) Result {
				c.Set("name", v)
				return advance("type_choice")
			}),
		referenceStep("type", "recv:type", "Тип блока:", "Введите тип блока:",
			"Ошибка выбора. Введите тип вручную:", unit.DistinctTypes, "condition"),
		textStep("type_manual", "Введите тип блока:", "Тип не должен быть пустым. Введите ещё раз:",
			func(c *Ctx, v string) Result {
				c.Set("type", v)
				return advance("condition")
			}),
		&Step{
			Name:    "condition",
			Accepts: AcceptChoice,
			Enter:   func(*Ctx) Result { return reprompt(ask("Статус блока:", conditionChoices())) },
			Handle: func(c *Ctx, in Input) Result {
				v, ok := strings.CutPrefix(in.Choice, "recv:cond:")
				if !ok || !unit.IsCondition(v) {
					return reprompt(ask("Статус блока:", conditionChoices()))
				}
				c.Set("condition", v)
				return advance("machine")
			},
		},
		machineStep("machine", "recv:ra", "Указать машину (РА1/РА2/РА3) или пропустить:", "machine", "machine_number"),
		optionalTextStep("machine_number", "Указать номер машины (например: 105-01) или пропустить:",
			"recv:skip", "machine_number", commitReceive),
	)
}

// referenceStep offers the distinct historical values of one field with a
// manual-entry escape. Without history it goes straight to manual entry.
func referenceStep(field, prefix, prompt, manualPrompt, pickErr string,
	load func(*gorm.DB) ([]string, error), next string) *Step {
	manual := field + "_manual"
	listKey := field + "s_all"
	return pickStep(pickOpts{
		name:    field + "_choice",
		prefix:  prefix,
		listKey: listKey,
		prompt:  prompt,
		load: func(c *Ctx) (Result, bool) {
			values, err := load(c.DB)
			if err != nil {
				return failed(c, "load "+field+"s", err), true
			}
			if len(values) == 0 {
				return advance(manual), true
			}
			c.Set(listKey, values)
			return Result{}, false
		},
		onPick: func(c *Ctx, idx int) Result {
			c.Set(field, c.Session.Strings(listKey)[idx])
			return advance(next)
		},
		onManual: func(*Ctx) Result { return advanceQuiet(manual, text(manualPrompt)) },
		onError:  func(*Ctx) Result { return advanceQuiet(manual, text(pickErr)) },
	})
}

func commitReceive(c *Ctx) Result {
	s := c.Session
	a, err := actor(c)
	if err != nil {
		return commitFailed(FlowReceive, err)
	}
	u, err := unit.Receive(c.DB, unit.ReceiveOpts{
		Number:        s.String("number"),
		Name:          s.String("name"),
		Type:          s.String("type"),
		Condition:     s.StringPtr("condition"),
		Machine:       s.StringPtr("machine"),
		MachineNumber: s.StringPtr("machine_number"),
		Actor:         a,
	})
	if errors.Is(err, unit.ErrInvalid) {
		return finish(text(MsgStateError))
	}
	if err != nil {
		return commitFailed(FlowReceive, err)
	}
	return finish(text(receiptCard(u)))
}

func receiptCard(u *models.Unit) string {
	cond := dash
	if u.Condition != nil {
		cond = unit.ConditionLabel(*u.Condition)
	}
	accepted := ""
	if u.AcceptedAt != nil {
		accepted = u.AcceptedAt.Format(dateLayout)
	}
	return fmt.Sprintf("Блок принят на склад:\nНомер: %s\nНазвание: %s\nТип: %s\nСтатус: %s\nМашина: %s\nНомер машины: %s\nДата приёмки: %s\nПринимал: %s",
		u.Number, u.Name, u.Type, cond, machineOrDash(u.Machine), orDash(u.MachineNumber), accepted, orDash(u.MasterSurname))
}
