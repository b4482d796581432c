package dashboard

import (
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
)

// UnitView is the JSON shape of a unit.
type UnitView struct {
	ID            uint       `json:"id"`
	Number        string     `json:"number"`
	Name          string     `json:"name"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	StatusLabel   string     `json:"status_label"`
	Condition     *string    `json:"condition"`
	Machine       *string    `json:"machine"`
	MachineNumber *string    `json:"machine_number"`
	AcceptedAt    *time.Time `json:"accepted_at"`
	MasterSurname *string    `json:"master_surname"`
	CreatedAt     time.Time  `json:"created_at"`
}

// EventView is the JSON shape of a history event.
type EventView struct {
	ID                       uint      `json:"id"`
	UnitID                   uint      `json:"unit_id"`
	EventType                string    `json:"event_type"`
	EventLabel               string    `json:"event_label"`
	ByUserName               *string   `json:"by_user_name"`
	DestinationMachine       *string   `json:"destination_machine"`
	DestinationMachineNumber *string   `json:"destination_machine_number"`
	Timestamp                time.Time `json:"timestamp"`
	Comment                  *string   `json:"comment"`
}

// RepairView is the JSON shape of a repair record.
type RepairView struct {
	ID       uint       `json:"id"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at"`
	Status   string     `json:"status"`
	Summary  *string    `json:"summary"`
}

// HistoryView is one page of unit history. Page is 1-based.
type HistoryView struct {
	UnitID uint        `json:"unit_id"`
	Page   int         `json:"page"`
	Pages  int         `json:"pages"`
	Total  int64       `json:"total"`
	Events []EventView `json:"events"`
}

// StatsView holds unit counts per status.
type StatsView struct {
	ByStatus map[string]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}

func unitView(u models.Unit) UnitView {
	return UnitView{
		ID:            u.ID,
		Number:        u.Number,
		Name:          u.Name,
		Type:          u.Type,
		Status:        u.Status,
		StatusLabel:   unit.StatusLabel(u.Status),
		Condition:     u.Condition,
		Machine:       u.Machine,
		MachineNumber: u.MachineNumber,
		AcceptedAt:    u.AcceptedAt,
		MasterSurname: u.MasterSurname,
		CreatedAt:     u.CreatedAt,
	}
}

func eventView(e models.UnitEvent) EventView {
	return EventView{
		ID:                       e.ID,
		UnitID:                   e.UnitID,
		EventType:                e.EventType,
		EventLabel:               unit.EventLabel(e.EventType),
		ByUserName:               e.ByUserName,
		DestinationMachine:       e.DestinationMachine,
		DestinationMachineNumber: e.DestinationMachineNumber,
		Timestamp:                e.Timestamp,
		Comment:                  e.Comment,
	}
}

func repairView(r *models.Repair) *RepairView {
	if r == nil {
		return nil
	}
	return &RepairView{
		ID:       r.ID,
		OpenedAt: r.OpenedAt,
		ClosedAt: r.ClosedAt,
		Status:   r.Status,
		Summary:  r.Summary,
	}
}

func historyView(p *unit.HistoryPage) HistoryView {
	events := make([]EventView, len(p.Events))
	for i, e := range p.Events {
		events[i] = eventView(e)
	}
	return HistoryView{
		UnitID: p.UnitID,
		Page:   p.Page + 1,
		Pages:  p.Pages,
		Total:  p.Total,
		Events: events,
	}
}
