package telegraph

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
	"github.com/zulandar/blockyard/internal/workflow"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// timeLayout is how timestamps are shown in chat.
const timeLayout = "02-01-2006 15:04"

const dash = "—"

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// statusSeverity returns the card severity for a unit status.
func statusSeverity(status string) string {
	switch status {
	case unit.StatusDone:
		return "success"
	case unit.StatusInRepair:
		return "warning"
	default:
		return "info"
	}
}

func orDash(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return dash
	}
	return *s
}

func machineName(m *string) string {
	if m == nil || *m == "" {
		return dash
	}
	return strings.Replace(*m, "RA", "РА", 1)
}

// FormatUnitCard renders a unit as a card. received is the newest received
// event of the unit and may be nil.
func FormatUnitCard(u *models.Unit, received *models.UnitEvent) FormattedEvent {
	accepted := dash
	if u.AcceptedAt != nil {
		accepted = u.AcceptedAt.Format(timeLayout)
	}
	receiver := orDash(u.MasterSurname)
	if received != nil && received.ByUserName != nil {
		receiver = orDash(received.ByUserName)
	}
	condition := dash
	if u.Condition != nil {
		condition = unit.ConditionLabel(*u.Condition)
	}
	severity := statusSeverity(u.Status)

	return FormattedEvent{
		Title:    fmt.Sprintf("Блок %s", u.Number),
		Body:     fmt.Sprintf("%s | %s", orDash(&u.Name), orDash(&u.Type)),
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Статус", Value: unit.StatusLabel(u.Status), Short: true},
			{Name: "Состояние", Value: condition, Short: true},
			{Name: "Машина", Value: strings.TrimSpace(machineName(u.Machine) + " " + orDash(u.MachineNumber)), Short: true},
			{Name: "Принят", Value: accepted, Short: true},
			{Name: "Принимал", Value: receiver, Short: true},
			{Name: "ID", Value: strconv.FormatUint(uint64(u.ID), 10), Short: true},
		},
	}
}

// unitActions are the buttons under a unit card.
func unitActions(id uint) [][]Choice {
	return [][]Choice{
		{
			{Label: "📜 История", Token: fmt.Sprintf("unit:history:%d", id)},
			{Label: "📤 Выдать", Token: fmt.Sprintf("unit:issue:%d", id)},
			{Label: "🔧 Ремонт", Token: fmt.Sprintf("unit:repair:%d", id)},
		},
		{
			{Label: "🚜 Сменить машину", Token: fmt.Sprintf("unit:machine:set:%d", id)},
			{Label: "🧹 Очистить машину", Token: fmt.Sprintf("unit:machine:clear:%d", id)},
		},
	}
}

// FormatHistory renders one history page and its navigation buttons.
func FormatHistory(u *models.Unit, page *unit.HistoryPage) (string, [][]Choice) {
	var b strings.Builder
	fmt.Fprintf(&b, "История блока %s (%s | %s):\n", u.Number, orDash(&u.Name), orDash(&u.Type))
	if len(page.Events) == 0 {
		b.WriteString("Событий нет.")
		return b.String(), nil
	}
	for _, e := range page.Events {
		b.WriteString(formatEvent(e))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Страница %d/%d", page.Page+1, page.Pages)

	if !page.HasPrev && !page.HasNext {
		return b.String(), nil
	}
	nav := []Choice{}
	if page.HasPrev {
		nav = append(nav, Choice{Label: "◀", Token: fmt.Sprintf("unit:history:%d:%d", u.ID, page.Page-1)})
	}
	nav = append(nav, Choice{Label: fmt.Sprintf("%d/%d", page.Page+1, page.Pages), Token: workflow.NoopToken})
	if page.HasNext {
		nav = append(nav, Choice{Label: "▶", Token: fmt.Sprintf("unit:history:%d:%d", u.ID, page.Page+1)})
	}
	return b.String(), [][]Choice{nav}
}

func formatEvent(e models.UnitEvent) string {
	line := fmt.Sprintf("%s %s: %s", e.Timestamp.Format(timeLayout), unit.EventLabel(e.EventType), orDash(e.ByUserName))
	if e.DestinationMachine != nil || e.DestinationMachineNumber != nil {
		line += fmt.Sprintf(" → %s %s", machineName(e.DestinationMachine), orDash(e.DestinationMachineNumber))
	}
	if e.Comment != nil && *e.Comment != "" {
		line += " (" + *e.Comment + ")"
	}
	return line
}

// FormatPrinters lists printers with their maintenance windows.
func FormatPrinters(printers []models.Printer, at time.Time) string {
	if len(printers) == 0 {
		return "Принтеры не добавлены."
	}
	lines := []string{"Принтеры:"}
	for _, p := range printers {
		state := "свободен"
		if p.MaintenanceUntil != nil && p.MaintenanceUntil.After(at) {
			state = "обслуживание до " + p.MaintenanceUntil.Format(timeLayout)
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", p.Name, state))
	}
	return strings.Join(lines, "\n")
}
