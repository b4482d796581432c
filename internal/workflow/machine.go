package workflow

import (
	"errors"
	"fmt"

	"github.com/zulandar/blockyard/internal/unit"
)

// FlowMachine reassigns a unit to a machine. It is always started from a
// unit card with unit_id seeded. Reassignment writes no history event.
const FlowMachine = "machine"

func machineFlow() *Flow {
	return newFlow(FlowMachine, "set_machine", true,
		machineStep("set_machine", "machine:ra", "Выберите машину (РА1/РА2/РА3) или пропустите:", "machine", "set_number"),
		optionalTextStep("set_number", "Укажите номер машины (например: 105-01) или пропустите:",
			"machine:skip", "machine_number", commitMachine),
	)
}

func commitMachine(c *Ctx) Result {
	s := c.Session
	id, ok := s.Uint("unit_id")
	if !ok {
		return finish(text(MsgStateError))
	}
	machine, number := s.StringPtr("machine"), s.StringPtr("machine_number")
	if err := unit.SetMachine(c.DB, id, machine, number); err != nil {
		if errors.Is(err, unit.ErrNotFound) {
			return finish(text(MsgUnitNotFound))
		}
		return commitFailed(FlowMachine, err)
	}
	return finish(text(fmt.Sprintf("Привязка обновлена. Машина: %s, номер: %s", machineOrDash(machine), orDash(number))))
}
