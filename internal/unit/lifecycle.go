package unit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// ReceiveOpts holds parameters for receiving a new unit.
type ReceiveOpts struct {
	Number        string
	Name          string
	Type          string
	Condition     *string
	Machine       *string
	MachineNumber *string
	Actor         Actor
}

// IssueOpts holds the destination of an issued unit.
type IssueOpts struct {
	DestinationMachine       *string
	DestinationMachineNumber *string
	Actor                    Actor
}

// CloseRepairOpts holds parameters for closing a repair.
type CloseRepairOpts struct {
	Fault string
	Work  string
	Actor Actor
	// OnClosed runs inside the commit transaction after the repair, status and
	// event rows are written. An error rolls the whole repair back.
	OnClosed func(tx *gorm.DB, u *models.Unit, rep *models.Repair) error
}

// Receive creates a unit with status received and its received event.
func Receive(db *gorm.DB, opts ReceiveOpts) (*models.Unit, error) {
	opts.Number = strings.TrimSpace(opts.Number)
	opts.Name = strings.TrimSpace(opts.Name)
	opts.Type = strings.TrimSpace(opts.Type)
	if opts.Number == "" || opts.Name == "" || opts.Type == "" {
		return nil, fmt.Errorf("%w: number, name and type are required", ErrInvalid)
	}
	if opts.Condition != nil && !IsCondition(*opts.Condition) {
		return nil, fmt.Errorf("%w: condition %q", ErrInvalid, *opts.Condition)
	}
	if opts.Machine != nil && !IsMachine(*opts.Machine) {
		return nil, fmt.Errorf("%w: machine %q", ErrInvalid, *opts.Machine)
	}

	at := now()
	u := models.Unit{
		Number:        opts.Number,
		Name:          opts.Name,
		Type:          opts.Type,
		Status:        StatusReceived,
		Condition:     opts.Condition,
		Machine:       opts.Machine,
		MachineNumber: emptyToNil(opts.MachineNumber),
		AcceptedAt:    &at,
		MasterSurname: opts.Actor.Name,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		return tx.Create(&models.UnitEvent{
			UnitID:     u.ID,
			EventType:  EventReceived,
			ByUserID:   opts.Actor.UserID,
			ByUserName: opts.Actor.Name,
			Timestamp:  at,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("unit: receive %s: %w", opts.Number, err)
	}
	return &u, nil
}

// Issue marks a done unit as issued and records the destination. Units in
// any other status are refused with a *StatusError and nothing is written.
func Issue(db *gorm.DB, id uint, opts IssueOpts) (*models.Unit, error) {
	if opts.DestinationMachine != nil && !IsMachine(*opts.DestinationMachine) {
		return nil, fmt.Errorf("%w: machine %q", ErrInvalid, *opts.DestinationMachine)
	}

	var u models.Unit
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, id).Error; err != nil {
			return notFound(err, id)
		}
		if !isValidTransition(u.Status, StatusIssued) {
			return &StatusError{UnitID: id, Status: u.Status, Want: StatusDone}
		}
		// Conditional on the status just read: a concurrent issue updates zero rows.
		res := tx.Model(&models.Unit{}).
			Where("id = ? AND status = ?", id, u.Status).
			Update("status", StatusIssued)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &StatusError{UnitID: id, Status: StatusIssued, Want: StatusDone}
		}
		u.Status = StatusIssued
		return tx.Create(&models.UnitEvent{
			UnitID:                   id,
			EventType:                EventIssued,
			ByUserID:                 opts.Actor.UserID,
			ByUserName:               opts.Actor.Name,
			DestinationMachine:       opts.DestinationMachine,
			DestinationMachineNumber: emptyToNil(opts.DestinationMachineNumber),
			Timestamp:                now(),
		}).Error
	})
	if err != nil {
		return nil, wrap("issue", id, err)
	}
	return &u, nil
}

// CheckIssuable loads a unit and reports a *StatusError unless it is done.
func CheckIssuable(db *gorm.DB, id uint) (*models.Unit, error) {
	u, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusDone {
		return u, &StatusError{UnitID: id, Status: u.Status, Want: StatusDone}
	}
	return u, nil
}

// OpenRepair appends a repair_open event. It is written as soon as a unit is
// chosen for repair and is not undone if the repair is abandoned.
func OpenRepair(db *gorm.DB, id uint, actor Actor) (*models.UnitEvent, error) {
	var evt models.UnitEvent
	err := db.Transaction(func(tx *gorm.DB) error {
		var u models.Unit
		if err := tx.First(&u, id).Error; err != nil {
			return notFound(err, id)
		}
		if !isValidTransition(u.Status, StatusDone) {
			return &StatusError{UnitID: id, Status: u.Status, Want: "not issued"}
		}
		evt = models.UnitEvent{
			UnitID:     id,
			EventType:  EventRepairOpen,
			ByUserID:   actor.UserID,
			ByUserName: actor.Name,
			Timestamp:  now(),
		}
		return tx.Create(&evt).Error
	})
	if err != nil {
		return nil, wrap("open repair", id, err)
	}
	return &evt, nil
}

// CloseRepair writes a closed Repair, marks the unit done and appends a
// repair_close event carrying the repair summary.
func CloseRepair(db *gorm.DB, id uint, opts CloseRepairOpts) (*models.Repair, *models.Unit, error) {
	summary := RepairSummary(strings.TrimSpace(opts.Fault), strings.TrimSpace(opts.Work))

	var (
		u   models.Unit
		rep models.Repair
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, id).Error; err != nil {
			return notFound(err, id)
		}
		if !isValidTransition(u.Status, StatusDone) {
			return &StatusError{UnitID: id, Status: u.Status, Want: "not issued"}
		}
		closed := now()
		rep = models.Repair{
			UnitID:   id,
			OpenedAt: closed,
			ClosedAt: &closed,
			Status:   "done",
			Summary:  emptyToNil(&summary),
			ByUserID: opts.Actor.UserID,
		}
		if err := tx.Create(&rep).Error; err != nil {
			return err
		}
		if err := tx.Model(&u).Update("status", StatusDone).Error; err != nil {
			return err
		}
		u.Status = StatusDone
		if err := tx.Create(&models.UnitEvent{
			UnitID:     id,
			EventType:  EventRepairClose,
			ByUserID:   opts.Actor.UserID,
			ByUserName: opts.Actor.Name,
			Timestamp:  closed,
			Comment:    emptyToNil(&summary),
		}).Error; err != nil {
			return err
		}
		if opts.OnClosed != nil {
			return opts.OnClosed(tx, &u, &rep)
		}
		return nil
	})
	if err != nil {
		return nil, nil, wrap("close repair", id, err)
	}
	return &rep, &u, nil
}

// SetMachine overwrites the unit's machine assignment. No event is recorded.
func SetMachine(db *gorm.DB, id uint, machine, machineNumber *string) error {
	if machine != nil && !IsMachine(*machine) {
		return fmt.Errorf("%w: machine %q", ErrInvalid, *machine)
	}
	res := db.Model(&models.Unit{}).Where("id = ?", id).Updates(map[string]interface{}{
		"machine":        nullable(machine),
		"machine_number": nullable(emptyToNil(machineNumber)),
	})
	if res.Error != nil {
		return fmt.Errorf("unit: set machine %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// ClearMachine removes the unit's machine assignment. No event is recorded.
func ClearMachine(db *gorm.DB, id uint) error {
	return SetMachine(db, id, nil, nil)
}

// RepairSummary joins the fault and work descriptions. With no fault only the
// work description is kept.
func RepairSummary(fault, work string) string {
	if fault == "" {
		return work
	}
	return fmt.Sprintf("Неисправность: %s. Работы: %s", fault, work)
}

// LabelPayload is the text encoded into a repair label QR code.
func LabelPayload(u *models.Unit, closedAt time.Time) string {
	return fmt.Sprintf("%s;%s;%s", u.Number, u.Name, closedAt.Format("02-01-2006 15:04"))
}

// LabelCaption is the human-readable line printed under the QR code.
func LabelCaption(u *models.Unit) string {
	return fmt.Sprintf("%s — %s", u.Name, u.Number)
}

func notFound(err error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return err
}

// wrap adds operation context unless err already carries a typed cause.
func wrap(op string, id uint, err error) error {
	var se *StatusError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("unit: %s %d: %w", op, id, err)
}

func emptyToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func nullable(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
