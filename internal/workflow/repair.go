package workflow

import (
	"fmt"
	"log"

	"github.com/zulandar/blockyard/internal/label"
	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

// FlowRepair records a completed repair and prints its label.
const FlowRepair = "repair"

// RepairFromCard is the first step when the unit is already known.
const RepairFromCard = "fault"

// EntityRepair is the attachment entity type of repair labels.
const EntityRepair = "repair"

func repairFlow() *Flow {
	fault := textStep("fault", "Опишите неисправность (кратко):", "Описание не должно быть пустым. Опишите неисправность:",
		func(c *Ctx, v string) Result {
			c.Set("fault", v)
			return advance("summary")
		})
	prompt := fault.Enter
	// Entering the fault step opens the repair. The repair_open event is
	// written once per session and stays even if the flow is abandoned.
	fault.Enter = func(c *Ctx) Result {
		if !c.Session.Bool("repair_opened") {
			id, ok := c.Session.Uint("unit_id")
			if !ok {
				return finish(text(MsgStateError))
			}
			a, err := actor(c)
			if err != nil {
				return failed(c, "open", err)
			}
			if _, err := unit.OpenRepair(c.DB, id, a); err != nil {
				if res, ok := unitError(err); ok {
					return res
				}
				return failed(c, "open", err)
			}
			c.Set("repair_opened", true)
		}
		return prompt(c)
	}

	return newFlow(FlowRepair, "number", true,
		lookupStep("Укажите номер блока для ремонта:", "unit_choice", func(u models.Unit) string {
			return fmt.Sprintf("%s | %s", orDash(&u.Name), orDash(&u.Type))
		}),
		unitPickStep("repair:unit", "Выберите блок:", "fault"),
		fault,
		textStep("summary", "Опишите выполненные работы/замены (кратко):", "Описание не должно быть пустым. Опишите выполненные работы:",
			func(c *Ctx, v string) Result {
				c.Set("work", v)
				return commitRepair(c)
			}),
	)
}

func commitRepair(c *Ctx) Result {
	s := c.Session
	id, ok := s.Uint("unit_id")
	if !ok {
		return finish(text(MsgStateError))
	}
	a, err := actor(c)
	if err != nil {
		return commitFailed(FlowRepair, err)
	}

	var (
		out   File
		saved *models.Attachment
	)
	_, _, err = unit.CloseRepair(c.DB, id, unit.CloseRepairOpts{
		Fault: s.String("fault"),
		Work:  s.String("work"),
		Actor: a,
		OnClosed: func(tx *gorm.DB, u *models.Unit, rep *models.Repair) error {
			png, err := label.RenderQRLabel(unit.LabelPayload(u, *rep.ClosedAt), unit.LabelCaption(u))
			if err != nil {
				return err
			}
			out = File{Name: fmt.Sprintf("repair_qr_%d.png", rep.ID), ContentType: label.ContentType, Data: png}
			if c.engine.files == nil {
				return nil
			}
			saved, err = c.engine.files.Save(tx, EntityRepair, rep.ID, out.Name, out.ContentType, png)
			return err
		},
	})
	if err != nil {
		// The label row went with the rollback; its file must follow.
		if saved != nil {
			if rmErr := c.engine.files.Remove(saved); rmErr != nil {
				log.Printf("workflow: %s: %v", FlowRepair, rmErr)
			}
		}
		if res, ok := unitError(err); ok {
			return res
		}
		return commitFailed(FlowRepair, err)
	}
	return finish(
		Reply{Files: []File{out}},
		text("Ремонт сохранён и завершён. Статус блока: готов."),
	)
}
