// Package unit provides block lifecycle operations: receipt, repair, issuance
// and machine assignment. Every status change is committed together with its
// audit event in one transaction.
package unit

import (
	"errors"
	"fmt"
	"time"
)

// Unit statuses.
const (
	StatusReceived = "received"
	StatusInRepair = "in_repair"
	StatusDone     = "done"
	StatusIssued   = "issued"
)

// Unit conditions recorded at receipt.
const (
	ConditionOK       = "ok"
	ConditionBad      = "bad"
	ConditionWarranty = "warranty"
	ConditionCheck    = "check"
)

// Event types written to the unit history.
const (
	EventReceived    = "received"
	EventRepairOpen  = "repair_open"
	EventRepairClose = "repair_close"
	EventIssued      = "issued"
)

// Machines a unit can be installed on.
var Machines = []string{"RA1", "RA2", "RA3"}

// Conditions in the order they are offered at receipt.
var Conditions = []string{ConditionOK, ConditionBad, ConditionWarranty, ConditionCheck}

// ValidTransitions maps each status to the statuses it may move to.
// Issued has no successors.
var ValidTransitions = map[string][]string{
	StatusReceived: {StatusInRepair, StatusDone},
	StatusInRepair: {StatusDone},
	StatusDone:     {StatusDone, StatusIssued},
	StatusIssued:   {},
}

// ErrNotFound is returned when a unit id does not exist.
var ErrNotFound = errors.New("unit: not found")

// ErrInvalid is returned for malformed operation input.
var ErrInvalid = errors.New("unit: invalid input")

// StatusError reports an operation refused because of the unit's status.
type StatusError struct {
	UnitID uint
	Status string
	Want   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unit: %d has status %q, need %s", e.UnitID, e.Status, e.Want)
}

// Actor identifies who performed an operation. Both fields may be nil for
// unregistered users without a chat name.
type Actor struct {
	UserID *uint
	Name   *string
}

// now is swapped in tests that need controlled timestamps.
var now = time.Now

// isValidTransition checks whether a status transition is allowed.
func isValidTransition(from, to string) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

// IsStatus reports whether s is a known unit status.
func IsStatus(s string) bool {
	_, ok := statusLabels[s]
	return ok
}

// IsMachine reports whether m is one of Machines.
func IsMachine(m string) bool {
	for _, v := range Machines {
		if v == m {
			return true
		}
	}
	return false
}

// IsCondition reports whether c is one of Conditions.
func IsCondition(c string) bool {
	for _, v := range Conditions {
		if v == c {
			return true
		}
	}
	return false
}

var statusLabels = map[string]string{
	StatusReceived: "принят",
	StatusInRepair: "в ремонте",
	StatusDone:     "готов",
	StatusIssued:   "выдан",
}

// StatusLabel returns the user-facing name of a status.
func StatusLabel(status string) string {
	if l, ok := statusLabels[status]; ok {
		return l
	}
	return status
}

var conditionLabels = map[string]string{
	ConditionOK:       "Исправный",
	ConditionBad:      "Не исправный",
	ConditionWarranty: "Гарантийный",
	ConditionCheck:    "На проверку",
}

// ConditionLabel returns the user-facing name of a condition.
func ConditionLabel(c string) string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return c
}

var eventLabels = map[string]string{
	EventReceived:    "Приёмка",
	EventRepairOpen:  "Начат ремонт",
	EventRepairClose: "Ремонт завершён",
	EventIssued:      "Выдача",
}

// EventLabel returns the user-facing name of an event type.
func EventLabel(t string) string {
	if l, ok := eventLabels[t]; ok {
		return l
	}
	return t
}
