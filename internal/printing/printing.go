// Package printing tracks 3D printers and print job requests.
package printing

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// Printer and job statuses.
const (
	PrinterIdle        = "idle"
	PrinterMaintenance = "maintenance"

	JobRequested = "requested"
)

var (
	// ErrPrinterExists is returned when adding a printer whose name is taken.
	ErrPrinterExists = errors.New("printing: printer already exists")
	// ErrPrinterNotFound is returned when a printer name is unknown.
	ErrPrinterNotFound = errors.New("printing: printer not found")
)

// now is swapped in tests.
var now = time.Now

// JobOpts holds parameters for a new print job.
type JobOpts struct {
	UserID          *uint
	PrinterName     string
	FileID          string
	Filename        string
	PhotoFileID     *string
	ExpectedMinutes int
}

// IsModelFile reports whether filename is a printable model (STL or 3MF).
func IsModelFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".stl", ".3mf":
		return true
	}
	return false
}

// AddPrinter registers a new printer.
func AddPrinter(db *gorm.DB, name string) (*models.Printer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("printing: printer name is required")
	}
	var count int64
	if err := db.Model(&models.Printer{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("printing: check printer %q: %w", name, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPrinterExists, name)
	}
	p := models.Printer{Name: name, Status: PrinterIdle}
	if err := db.Create(&p).Error; err != nil {
		return nil, fmt.Errorf("printing: add printer %q: %w", name, err)
	}
	return &p, nil
}

// ListPrinters returns all printers ordered by name.
func ListPrinters(db *gorm.DB) ([]models.Printer, error) {
	var printers []models.Printer
	if err := db.Order("name ASC").Find(&printers).Error; err != nil {
		return nil, fmt.Errorf("printing: list printers: %w", err)
	}
	return printers, nil
}

// SetMaintenance puts a printer into maintenance for d from now.
func SetMaintenance(db *gorm.DB, name string, d time.Duration) (*models.Printer, error) {
	if d <= 0 {
		return nil, fmt.Errorf("printing: maintenance duration must be positive")
	}
	var p models.Printer
	if err := db.Where("name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPrinterNotFound, name)
		}
		return nil, fmt.Errorf("printing: get printer %q: %w", name, err)
	}
	until := now().Add(d)
	if err := db.Model(&p).Updates(map[string]interface{}{
		"status":            PrinterMaintenance,
		"maintenance_until": until,
	}).Error; err != nil {
		return nil, fmt.Errorf("printing: set maintenance %q: %w", name, err)
	}
	p.Status = PrinterMaintenance
	p.MaintenanceUntil = &until
	return &p, nil
}

// MaintenanceUntil returns the end of the printer's maintenance window when
// it is still running, or nil. Unknown printers are not in maintenance.
func MaintenanceUntil(db *gorm.DB, name string) (*time.Time, error) {
	var printers []models.Printer
	if err := db.Where("name = ?", name).Limit(1).Find(&printers).Error; err != nil {
		return nil, fmt.Errorf("printing: get printer %q: %w", name, err)
	}
	if len(printers) == 0 {
		return nil, nil
	}
	p := printers[0]
	if p.Status != PrinterMaintenance || p.MaintenanceUntil == nil || !p.MaintenanceUntil.After(now()) {
		return nil, nil
	}
	return p.MaintenanceUntil, nil
}

// CreateJob records a requested print job and its "requested" event.
func CreateJob(db *gorm.DB, opts JobOpts) (*models.PrintJob, error) {
	if opts.FileID == "" {
		return nil, fmt.Errorf("printing: model file is required")
	}
	if !IsModelFile(opts.Filename) {
		return nil, fmt.Errorf("printing: %q is not an STL or 3MF file", opts.Filename)
	}
	if opts.ExpectedMinutes <= 0 {
		return nil, fmt.Errorf("printing: expected time must be positive")
	}

	job := models.PrintJob{
		UserID:          opts.UserID,
		PrinterName:     strings.TrimSpace(opts.PrinterName),
		FileID:          opts.FileID,
		Filename:        opts.Filename,
		PhotoFileID:     opts.PhotoFileID,
		ExpectedTimeMin: opts.ExpectedMinutes,
		Status:          JobRequested,
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&job).Error; err != nil {
			return err
		}
		comment := fmt.Sprintf("Заявка создана. Время: %d мин. Принтер: %s", job.ExpectedTimeMin, job.PrinterName)
		return tx.Create(&models.PrintEvent{
			JobID:     job.ID,
			EventType: JobRequested,
			ByUserID:  opts.UserID,
			Comment:   &comment,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("printing: create job: %w", err)
	}
	return &job, nil
}
