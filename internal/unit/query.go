package unit

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// HistoryPageSize is the number of events shown per history page.
const HistoryPageSize = 8

// ListFilters holds optional filters for listing units.
type ListFilters struct {
	Status        string
	Number        string
	ExcludeIssued bool
}

// StatusCount holds a status and its count.
type StatusCount struct {
	Status string
	Count  int64
}

// HistoryPage is one page of a unit's events, newest first.
type HistoryPage struct {
	UnitID  uint
	Page    int
	Pages   int
	Total   int64
	Events  []models.UnitEvent
	HasPrev bool
	HasNext bool
}

// Get retrieves a unit by id.
func Get(db *gorm.DB, id uint) (*models.Unit, error) {
	var u models.Unit
	if err := db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("unit: get %d: %w", id, err)
	}
	return &u, nil
}

// FindByNumber returns all units with exactly this number, ordered by name
// then type.
func FindByNumber(db *gorm.DB, number string) ([]models.Unit, error) {
	var units []models.Unit
	if err := db.Where("number = ?", number).Order("name ASC, type ASC, id ASC").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("unit: find by number %q: %w", number, err)
	}
	return units, nil
}

// List returns units matching the given filters, ordered by id.
func List(db *gorm.DB, filters ListFilters) ([]models.Unit, error) {
	q := db.Model(&models.Unit{})
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Number != "" {
		q = q.Where("number = ?", filters.Number)
	}
	if filters.ExcludeIssued {
		q = q.Where("status <> ?", StatusIssued)
	}

	var units []models.Unit
	if err := q.Order("id ASC").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("unit: list: %w", err)
	}
	return units, nil
}

// DistinctNames returns every non-empty unit name ever recorded, ascending.
func DistinctNames(db *gorm.DB) ([]string, error) {
	return distinct(db, "name")
}

// DistinctTypes returns every non-empty unit type ever recorded, ascending.
func DistinctTypes(db *gorm.DB) ([]string, error) {
	return distinct(db, "type")
}

func distinct(db *gorm.DB, column string) ([]string, error) {
	var values []string
	err := db.Model(&models.Unit{}).
		Where(column+" IS NOT NULL AND "+column+" <> ''").
		Distinct(column).
		Order(column+" ASC").
		Pluck(column, &values).Error
	if err != nil {
		return nil, fmt.Errorf("unit: distinct %s: %w", column, err)
	}
	return values, nil
}

// History returns one page of a unit's events ordered newest first. Out of
// range pages are clamped to the nearest valid page.
func History(db *gorm.DB, id uint, page int) (*HistoryPage, error) {
	var total int64
	if err := db.Model(&models.UnitEvent{}).Where("unit_id = ?", id).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("unit: count history %d: %w", id, err)
	}

	pages := int((total + HistoryPageSize - 1) / HistoryPageSize)
	if pages < 1 {
		pages = 1
	}
	if page >= pages {
		page = pages - 1
	}
	if page < 0 {
		page = 0
	}

	var events []models.UnitEvent
	if err := db.Where("unit_id = ?", id).
		Order("timestamp DESC, id DESC").
		Offset(page * HistoryPageSize).
		Limit(HistoryPageSize).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("unit: history %d: %w", id, err)
	}

	return &HistoryPage{
		UnitID:  id,
		Page:    page,
		Pages:   pages,
		Total:   total,
		Events:  events,
		HasPrev: page > 0,
		HasNext: page < pages-1,
	}, nil
}

// LatestEvent returns the most recent event of the given type, or nil.
// Duplicate events of one type are tolerated; the newest wins.
func LatestEvent(db *gorm.DB, id uint, eventType string) (*models.UnitEvent, error) {
	var evts []models.UnitEvent
	if err := db.Where("unit_id = ? AND event_type = ?", id, eventType).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&evts).Error; err != nil {
		return nil, fmt.Errorf("unit: latest %s event of %d: %w", eventType, id, err)
	}
	if len(evts) == 0 {
		return nil, nil
	}
	return &evts[0], nil
}

// LatestRepair returns the most recently closed repair of a unit, or nil.
func LatestRepair(db *gorm.DB, id uint) (*models.Repair, error) {
	var reps []models.Repair
	if err := db.Where("unit_id = ?", id).
		Order("closed_at DESC, id DESC").
		Limit(1).
		Find(&reps).Error; err != nil {
		return nil, fmt.Errorf("unit: latest repair of %d: %w", id, err)
	}
	if len(reps) == 0 {
		return nil, nil
	}
	return &reps[0], nil
}

// CountByStatus returns the number of units in each status, ordered by status.
func CountByStatus(db *gorm.DB) ([]StatusCount, error) {
	var results []StatusCount
	if err := db.Model(&models.Unit{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Order("status ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("unit: count by status: %w", err)
	}
	return results, nil
}

// EventCountsSince returns how many events of each type were written at or
// after since.
func EventCountsSince(db *gorm.DB, since time.Time) (map[string]int64, error) {
	var rows []struct {
		EventType string
		Count     int64
	}
	if err := db.Model(&models.UnitEvent{}).
		Select("event_type, COUNT(*) as count").
		Where("timestamp >= ?", since).
		Group("event_type").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("unit: event counts since %s: %w", since.Format(time.RFC3339), err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.EventType] = r.Count
	}
	return out, nil
}
