package models

import "time"

// Printer is a 3D printer that print jobs are queued against.
type Printer struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"size:128;not null;uniqueIndex"`
	Status           string `gorm:"size:32;default:idle"`
	MaintenanceUntil *time.Time
	CreatedAt        time.Time
}

// PrintJob is a request to print a model file.
type PrintJob struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	UserID          *uint   `gorm:"index"`
	PrinterName     string  `gorm:"size:128;index"`
	FileID          string  `gorm:"size:255"`
	Filename        string  `gorm:"size:255"`
	PhotoFileID     *string `gorm:"size:255"`
	ExpectedTimeMin int
	Status          string `gorm:"size:32;default:requested;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Events []PrintEvent `gorm:"foreignKey:JobID"`
}

// PrintEvent is an audit record for a print job.
type PrintEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	JobID     uint   `gorm:"not null;index"`
	EventType string `gorm:"size:32;not null"`
	ByUserID  *uint
	Comment   *string `gorm:"size:1000"`
	CreatedAt time.Time
}
