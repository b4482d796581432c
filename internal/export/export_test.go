package export

import (
	"encoding/xml"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/blockyard/internal/models"
	"github.com/zulandar/blockyard/internal/unit"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "export.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Unit{}, &models.UnitEvent{}, &models.Repair{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func strp(s string) *string { return &s }

// seed creates one unit per lifecycle stage: received, repaired, issued.
func seed(t *testing.T, db *gorm.DB) (received, repaired, issued *models.Unit) {
	t.Helper()
	var err error
	received, err = unit.Receive(db, unit.ReceiveOpts{Number: "1", Name: "БУД", Type: "A", Machine: strp("RA1"), Actor: unit.Actor{Name: strp("Иванов")}})
	require.NoError(t, err)

	repaired, err = unit.Receive(db, unit.ReceiveOpts{Number: "2", Name: "Пульт", Type: "B", Actor: unit.Actor{Name: strp("Петров")}})
	require.NoError(t, err)
	_, _, err = unit.CloseRepair(db, repaired.ID, unit.CloseRepairOpts{Fault: "F", Work: "W"})
	require.NoError(t, err)

	issued, err = unit.Receive(db, unit.ReceiveOpts{Number: "3", Name: "БУД", Type: "C"})
	require.NoError(t, err)
	_, _, err = unit.CloseRepair(db, issued.ID, unit.CloseRepairOpts{Work: "ok"})
	require.NoError(t, err)
	_, err = unit.Issue(db, issued.ID, unit.IssueOpts{Actor: unit.Actor{Name: strp("Сидоров")}})
	require.NoError(t, err)
	return
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", ScopeAll, false},
		{"all", ScopeAll, false},
		{"stock", ScopeInStock, false},
		{"in_stock", ScopeInStock, false},
		{"issued", "", true},
	}
	for _, tt := range tests {
		got, err := ParseScope(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseScope(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseScope(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuild_AllScope(t *testing.T) {
	db := openTestDB(t)
	_, repaired, issued := seed(t, db)
	at := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	doc, err := Build(db, ScopeAll, at)
	require.NoError(t, err)
	assert.Equal(t, "2026-07-01T12:00:00", doc.GeneratedAt)
	require.Len(t, doc.Units, 3)

	first := doc.Units[0]
	assert.Equal(t, "RA1", first.Machine)
	assert.Equal(t, "Иванов", first.ReceivedBy)
	assert.Empty(t, first.IssuedBy)
	assert.Empty(t, first.LastRepairAt)

	var rep, iss Record
	for _, r := range doc.Units {
		switch r.ID {
		case repaired.ID:
			rep = r
		case issued.ID:
			iss = r
		}
	}
	assert.Equal(t, unit.StatusDone, rep.Status)
	assert.Equal(t, "Неисправность: F. Работы: W", rep.LastRepairSummary)
	assert.NotEmpty(t, rep.LastRepairAt)
	assert.Equal(t, unit.StatusIssued, iss.Status)
	assert.Equal(t, "Сидоров", iss.IssuedBy)
}

func TestBuild_InStockExcludesIssued(t *testing.T) {
	db := openTestDB(t)
	_, _, issued := seed(t, db)

	doc, err := Build(db, ScopeInStock, time.Now())
	require.NoError(t, err)
	require.Len(t, doc.Units, 2)
	for _, r := range doc.Units {
		assert.NotEqual(t, issued.ID, r.ID)
		assert.NotEqual(t, unit.StatusIssued, r.Status)
	}
}

func TestBuild_NewestReceivedEventWins(t *testing.T) {
	db := openTestDB(t)
	u, err := unit.Receive(db, unit.ReceiveOpts{Number: "1", Name: "БУД", Type: "A", Actor: unit.Actor{Name: strp("Первый")}})
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.UnitEvent{
		UnitID:     u.ID,
		EventType:  unit.EventReceived,
		ByUserName: strp("Второй"),
		Timestamp:  time.Now().Add(time.Hour),
	}).Error)

	doc, err := Build(db, ScopeAll, time.Now())
	require.NoError(t, err)
	require.Len(t, doc.Units, 1)
	assert.Equal(t, "Второй", doc.Units[0].ReceivedBy)
}

func TestRender_XMLShape(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)

	data, err := Render(db, ScopeInStock, time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	out := string(data)

	assert.True(t, strings.HasPrefix(out, xml.Header))
	assert.Contains(t, out, `<units generated_at="2026-07-01T12:00:00" scope="in_stock">`)
	assert.Contains(t, out, "<number>1</number>")
	assert.Contains(t, out, "<machine_number></machine_number>")
	assert.Equal(t, 2, strings.Count(out, "<unit>"))

	var back Document
	require.NoError(t, xml.Unmarshal(data, &back))
	assert.Equal(t, ScopeInStock, back.Scope)
	assert.Len(t, back.Units, 2)
}

func TestRender_Empty(t *testing.T) {
	db := openTestDB(t)
	data, err := Render(db, ScopeAll, time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), `scope="all"`)
	assert.NotContains(t, string(data), "<unit>")
}

func TestFilename(t *testing.T) {
	got := Filename(ScopeInStock, time.Date(2026, 7, 1, 9, 5, 3, 0, time.UTC))
	assert.Equal(t, "units_in_stock_20260701_090503.xml", got)
}
