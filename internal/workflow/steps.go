package workflow

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
)

// pickOpts configures a step that shows a paged list kept in session data.
type pickOpts struct {
	name    string
	prefix  string
	listKey string
	prompt  string
	// load fills listKey on Enter. done=true returns res instead of a page.
	load     func(c *Ctx) (res Result, done bool)
	onPick   func(c *Ctx, idx int) Result
	onManual func(c *Ctx) Result
	onError  func(c *Ctx) Result
}

func pickStep(o pickOpts) *Step {
	page := func(c *Ctx, p int) Result {
		pg := Paginate(c.Session.Strings(o.listKey), o.prefix, p, DefaultPageSize)
		return reprompt(ask(o.prompt, pg.Choices()))
	}
	return &Step{
		Name:    o.name,
		Accepts: AcceptChoice,
		Enter: func(c *Ctx) Result {
			if o.load != nil {
				if res, done := o.load(c); done {
					return res
				}
			}
			return page(c, 0)
		},
		Handle: func(c *Ctx, in Input) Result {
			values := c.Session.Strings(o.listKey)
			action, n := ParsePagerToken(o.prefix, in.Choice)
			switch action {
			case PagerPage:
				return page(c, n)
			case PagerManual:
				return o.onManual(c)
			case PagerPick:
				if n < 0 || n >= len(values) {
					return o.onError(c)
				}
				return o.onPick(c, n)
			}
			return page(c, 0)
		},
	}
}

// textStep asks prompt and hands trimmed text to fn. Empty text re-prompts
// with emptyMsg unless emptyMsg is "".
func textStep(name, prompt, emptyMsg string, fn func(c *Ctx, v string) Result) *Step {
	return &Step{
		Name:    name,
		Accepts: AcceptText,
		Enter:   func(*Ctx) Result { return reprompt(text(prompt)) },
		Handle: func(c *Ctx, in Input) Result {
			v := strings.TrimSpace(in.Text)
			if v == "" && emptyMsg != "" {
				return reprompt(text(emptyMsg))
			}
			return fn(c, v)
		},
	}
}

// machineStep offers RA1..RA3 or skip and stores the pick under key.
func machineStep(name, prefix, prompt, key, next string) *Step {
	return &Step{
		Name:    name,
		Accepts: AcceptChoice,
		Enter:   func(*Ctx) Result { return reprompt(ask(prompt, machineChoices(prefix))) },
		Handle: func(c *Ctx, in Input) Result {
			v, ok := strings.CutPrefix(in.Choice, prefix+":")
			switch {
			case ok && v == "skip":
				delete(c.Session.Data, key)
			case ok && unit.IsMachine(v):
				c.Set(key, v)
			default:
				return reprompt(ask(prompt, machineChoices(prefix)))
			}
			return advance(next)
		},
	}
}

// optionalTextStep accepts free text or a skip button; both lead to fn.
func optionalTextStep(name, prompt, skipToken, key string, fn func(c *Ctx) Result) *Step {
	return &Step{
		Name:    name,
		Accepts: AcceptText | AcceptChoice,
		Enter:   func(*Ctx) Result { return reprompt(ask(prompt, skipChoices(skipToken))) },
		Handle: func(c *Ctx, in Input) Result {
			if in.Choice != "" {
				if in.Choice != skipToken {
					return reprompt(ask(prompt, skipChoices(skipToken)))
				}
				delete(c.Session.Data, key)
				return fn(c)
			}
			if v := strings.TrimSpace(in.Text); v != "" {
				c.Set(key, v)
			} else {
				delete(c.Session.Data, key)
			}
			return fn(c)
		},
	}
}

// lookupStep asks for a unit number, stores matching ids and labels, then
// moves to next. No match re-prompts.
func lookupStep(prompt, next string, label func(models.Unit) string) *Step {
	return textStep("number", prompt, msgNumberEmpty, func(c *Ctx, number string) Result {
		units, err := unit.FindByNumber(c.DB, number)
		if err != nil {
			return failed(c, "lookup", err)
		}
		if len(units) == 0 {
			return reprompt(text(msgNumberMissing))
		}
		ids := make([]uint, len(units))
		labels := make([]string, len(units))
		for i, u := range units {
			ids[i] = u.ID
			labels[i] = label(u)
		}
		c.Set("number", number)
		c.Set("unit_ids", ids)
		c.Set("unit_labels", labels)
		return advance(next)
	})
}

// unitPickStep lets the user choose among the units found by lookupStep.
func unitPickStep(prefix, prompt, next string) *Step {
	return pickStep(pickOpts{
		name:    "unit_choice",
		prefix:  prefix,
		listKey: "unit_labels",
		prompt:  prompt,
		onPick: func(c *Ctx, idx int) Result {
			ids := c.Session.Uints("unit_ids")
			if idx >= len(ids) {
				return advanceQuiet("number", text(msgPickRetry))
			}
			c.Set("unit_id", ids[idx])
			return advance(next)
		},
		onManual: func(*Ctx) Result { return advance("number") },
		onError:  func(*Ctx) Result { return advanceQuiet("number", text(msgPickRetry)) },
	})
}

// actor resolves the acting user for audit fields.
func actor(c *Ctx) (unit.Actor, error) {
	r, err := c.actor()
	if err != nil {
		return unit.Actor{}, err
	}
	return unit.Actor{UserID: r.UserID, Name: r.DisplayName}, nil
}

// failed reports an error outside a commit and ends the flow.
func failed(c *Ctx, op string, err error) Result {
	log.Printf("workflow: %s %s: %v", c.Session.Workflow, op, err)
	return finish(text(fmt.Sprintf("Ошибка: %v. Начните заново.", err)))
}

// unitError maps lifecycle errors that end a flow with a known message.
// ok is false for errors the caller must treat as failures.
func unitError(err error) (Result, bool) {
	var se *unit.StatusError
	switch {
	case errors.Is(err, unit.ErrNotFound):
		return finish(text(MsgUnitNotFound)), true
	case errors.As(err, &se) && se.Want == unit.StatusDone:
		return finish(text(fmt.Sprintf("Этот блок нельзя выдать: статус '%s'. Завершите ремонт.", unit.StatusLabel(se.Status)))), true
	case errors.As(err, &se):
		return finish(text(fmt.Sprintf("Операция недоступна: блок в статусе '%s'.", unit.StatusLabel(se.Status)))), true
	}
	return Result{}, false
}
