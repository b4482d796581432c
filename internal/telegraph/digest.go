package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

// DailyReport holds the stock picture at the end of a day and that day's
// activity.
type DailyReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	ByStatus    []unit.StatusCount
	Received    int64
	Repaired    int64
	Issued      int64
}

// Empty reports whether there is nothing to post: no units and no activity.
func (r *DailyReport) Empty() bool {
	var total int64
	for _, sc := range r.ByStatus {
		total += sc.Count
	}
	return total == 0 && r.Received == 0 && r.Repaired == 0 && r.Issued == 0
}

// BuildDailyReport counts units per status and the events written since the
// start of the day containing at.
func BuildDailyReport(db *gorm.DB, at time.Time) (*DailyReport, error) {
	start := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())

	counts, err := unit.CountByStatus(db)
	if err != nil {
		return nil, fmt.Errorf("telegraph: daily digest: %w", err)
	}
	events, err := unit.EventCountsSince(db, start)
	if err != nil {
		return nil, fmt.Errorf("telegraph: daily digest: %w", err)
	}

	return &DailyReport{
		PeriodStart: start,
		PeriodEnd:   at,
		ByStatus:    counts,
		Received:    events[unit.EventReceived],
		Repaired:    events[unit.EventRepairClose],
		Issued:      events[unit.EventIssued],
	}, nil
}

// FormatDaily formats a daily report as a FormattedEvent.
func FormatDaily(report *DailyReport) FormattedEvent {
	var bodyLines []string
	bodyLines = append(bodyLines, fmt.Sprintf("**Период**: %s – %s",
		report.PeriodStart.Format(timeLayout),
		report.PeriodEnd.Format(timeLayout)))
	bodyLines = append(bodyLines, fmt.Sprintf("**За день**: принято %d, отремонтировано %d, выдано %d",
		report.Received, report.Repaired, report.Issued))

	var fields []Field
	if len(report.ByStatus) > 0 {
		bodyLines = append(bodyLines, "", "**На складе по статусам**:")
		for _, sc := range report.ByStatus {
			bodyLines = append(bodyLines, fmt.Sprintf("  %s: %d", unit.StatusLabel(sc.Status), sc.Count))
			fields = append(fields, Field{Name: unit.StatusLabel(sc.Status), Value: fmt.Sprintf("%d", sc.Count), Short: true})
		}
	}

	return FormattedEvent{
		Title:    "Сводка за день",
		Body:     strings.Join(bodyLines, "\n"),
		Severity: "info",
		Color:    ColorInfo,
		Fields:   fields,
	}
}
