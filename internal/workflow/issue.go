package workflow

import (
	"fmt"
	"strings"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
)

// FlowIssue hands a repaired unit out to a machine.
const FlowIssue = "issue"

// IssueFromCard is the first step when the unit is already known.
const IssueFromCard = "check"

func issueFlow() *Flow {
	return newFlow(FlowIssue, "number", true,
		lookupStep("Укажите номер блока для выдачи:", "unit_choice", func(u models.Unit) string {
			return fmt.Sprintf("%s | %s | %s", orDash(&u.Name), orDash(&u.Type), unit.StatusLabel(u.Status))
		}),
		unitPickStep("issue:unit", "Выберите блок для выдачи:", "check"),
		&Step{
			Name: "check",
			// Gate only; Enter always leaves the step.
			Enter: func(c *Ctx) Result {
				id, ok := c.Session.Uint("unit_id")
				if !ok {
					return finish(text(MsgStateError))
				}
				if _, err := unit.CheckIssuable(c.DB, id); err != nil {
					if res, ok := unitError(err); ok {
						return res
					}
					return failed(c, "check", err)
				}
				return advance("destination_machine")
			},
			Handle: func(*Ctx, Input) Result { return finish(text(MsgStateError)) },
		},
		machineStep("destination_machine", "issue:ra", "Укажите место назначения (РА1/РА2/РА3) или пропустите:",
			"dest_machine", "destination_number"),
		optionalTextStep("destination_number", "Укажите номер машины (например, 105-01) или пропустите:",
			"issue:skip", "dest_number", func(*Ctx) Result { return advance("confirm") }),
		&Step{
			Name:    "confirm",
			Accepts: AcceptChoice,
			Enter: func(c *Ctx) Result {
				return reprompt(ask(issueConfirmText(c.Session), confirmChoices("issue", "✅ Выдать")))
			},
			Handle: func(c *Ctx, in Input) Result {
				switch in.Choice {
				case "issue:confirm:no":
					return finish(text(MsgCancelled))
				case "issue:confirm:yes":
					return commitIssue(c)
				}
				return reprompt(ask(issueConfirmText(c.Session), confirmChoices("issue", "✅ Выдать")))
			},
		},
	)
}

func destination(s *Session) string {
	return strings.TrimSpace(machineOrDash(s.StringPtr("dest_machine")) + " " + s.String("dest_number"))
}

func issueConfirmText(s *Session) string {
	return "Подтвердите выдачу. Назначение: " + destination(s)
}

func commitIssue(c *Ctx) Result {
	s := c.Session
	id, ok := s.Uint("unit_id")
	if !ok {
		return finish(text(MsgStateError))
	}
	a, err := actor(c)
	if err != nil {
		return commitFailed(FlowIssue, err)
	}
	u, err := unit.Issue(c.DB, id, unit.IssueOpts{
		DestinationMachine:       s.StringPtr("dest_machine"),
		DestinationMachineNumber: s.StringPtr("dest_number"),
		Actor:                    a,
	})
	if err != nil {
		if res, ok := unitError(err); ok {
			return res
		}
		return commitFailed(FlowIssue, err)
	}
	lines := []string{
		"Выдача оформлена:",
		"Название: " + u.Name,
		"Тип: " + u.Type,
		"Номер: " + u.Number,
		"Статус: " + unit.StatusLabel(u.Status),
		"Куда: " + destination(s),
		"Кто выдал: " + orDash(a.Name),
		"Время: " + now().Format(dateLayout),
	}
	return finish(text(strings.Join(lines, "\n")))
}
