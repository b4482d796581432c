// Package export renders the unit register as XML.
package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/gorm"
)

// Scope selects which units are exported.
type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeInStock Scope = "in_stock"
)

// ContentType of rendered exports.
const ContentType = "application/xml"

const timeLayout = "2006-01-02T15:04:05"

// ParseScope accepts "all", "in_stock" and the short form "stock".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "all":
		return ScopeAll, nil
	case "in_stock", "stock":
		return ScopeInStock, nil
	}
	return "", fmt.Errorf("export: unknown scope %q (all, in_stock)", s)
}

// Document is the <units> root element.
type Document struct {
	XMLName     xml.Name `xml:"units"`
	GeneratedAt string   `xml:"generated_at,attr"`
	Scope       Scope    `xml:"scope,attr"`
	Units       []Record `xml:"unit"`
}

// Record is one <unit> element. Missing values are empty elements.
type Record struct {
	ID                uint   `xml:"id"`
	Number            string `xml:"number"`
	Name              string `xml:"name"`
	Type              string `xml:"type"`
	Status            string `xml:"status"`
	Machine           string `xml:"machine"`
	MachineNumber     string `xml:"machine_number"`
	AcceptedAt        string `xml:"accepted_at"`
	CreatedAt         string `xml:"created_at"`
	ReceivedBy        string `xml:"received_by"`
	IssuedBy          string `xml:"issued_by"`
	LastRepairAt      string `xml:"last_repair_at"`
	LastRepairSummary string `xml:"last_repair_summary"`
}

// Build collects the export document. The in_stock scope leaves out issued
// units. When a unit has several events of one type the newest is used.
func Build(db *gorm.DB, scope Scope, at time.Time) (*Document, error) {
	units, err := unit.List(db, unit.ListFilters{ExcludeIssued: scope == ScopeInStock})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	doc := &Document{GeneratedAt: at.Format(timeLayout), Scope: scope}
	if len(units) == 0 {
		return doc, nil
	}

	ids := make([]uint, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}

	var events []models.UnitEvent
	if err := db.Where("unit_id IN ? AND event_type IN ?", ids, []string{unit.EventReceived, unit.EventIssued}).
		Order("timestamp ASC, id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("export: load events: %w", err)
	}
	received := map[uint]models.UnitEvent{}
	issued := map[uint]models.UnitEvent{}
	for _, e := range events {
		// Ascending order: later rows overwrite earlier ones.
		if e.EventType == unit.EventReceived {
			received[e.UnitID] = e
		} else {
			issued[e.UnitID] = e
		}
	}

	var repairs []models.Repair
	if err := db.Where("unit_id IN ?", ids).Order("closed_at ASC, id ASC").Find(&repairs).Error; err != nil {
		return nil, fmt.Errorf("export: load repairs: %w", err)
	}
	lastRepair := map[uint]models.Repair{}
	for _, r := range repairs {
		lastRepair[r.UnitID] = r
	}

	for _, u := range units {
		rec := Record{
			ID:            u.ID,
			Number:        u.Number,
			Name:          u.Name,
			Type:          u.Type,
			Status:        u.Status,
			Machine:       deref(u.Machine),
			MachineNumber: deref(u.MachineNumber),
			AcceptedAt:    formatTime(u.AcceptedAt),
			CreatedAt:     u.CreatedAt.Format(timeLayout),
			ReceivedBy:    deref(u.MasterSurname),
		}
		if e, ok := received[u.ID]; ok && e.ByUserName != nil {
			rec.ReceivedBy = *e.ByUserName
		}
		if e, ok := issued[u.ID]; ok {
			rec.IssuedBy = deref(e.ByUserName)
		}
		if r, ok := lastRepair[u.ID]; ok {
			rec.LastRepairAt = formatTime(r.ClosedAt)
			rec.LastRepairSummary = deref(r.Summary)
		}
		doc.Units = append(doc.Units, rec)
	}
	return doc, nil
}

// Write encodes doc as indented XML with a header.
func Write(w io.Writer, doc *Document) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Render builds and encodes the export in one step.
func Render(db *gorm.DB, scope Scope, at time.Time) ([]byte, error) {
	doc, err := Build(db, scope, at)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := Write(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Filename returns the attachment name for an export generated at t.
func Filename(scope Scope, t time.Time) string {
	return fmt.Sprintf("units_%s_%s.xml", scope, t.Format("20060102_150405"))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
