package models

import "time"

// Unit is a physical repairable block tracked through receipt, repair and issuance.
// Number is free text and not unique: several units may share one number.
type Unit struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	Number        string  `gorm:"size:64;not null;index"`
	Name          string  `gorm:"size:255"`
	Type          string  `gorm:"size:255"`
	Status        string  `gorm:"size:32;default:received;index"`
	Condition     *string `gorm:"size:32"`
	Machine       *string `gorm:"size:32"`
	MachineNumber *string `gorm:"size:32"`
	AcceptedAt    *time.Time
	MasterSurname *string `gorm:"size:255"`
	CreatedAt     time.Time

	Events  []UnitEvent `gorm:"foreignKey:UnitID"`
	Repairs []Repair    `gorm:"foreignKey:UnitID"`
}

// UnitEvent is an append-only audit record of a unit lifecycle transition.
type UnitEvent struct {
	ID                       uint   `gorm:"primaryKey;autoIncrement"`
	UnitID                   uint   `gorm:"not null;index"`
	EventType                string `gorm:"size:32;not null;index"`
	ByUserID                 *uint
	ByUserName               *string   `gorm:"size:255"`
	DestinationMachine       *string   `gorm:"size:32"`
	DestinationMachineNumber *string   `gorm:"size:32"`
	Timestamp                time.Time `gorm:"not null;index"`
	Comment                  *string   `gorm:"size:1000"`
}

// Repair records one repair of a unit. The chat flow opens and closes it in
// the same commit, so ClosedAt is normally set.
type Repair struct {
	ID       uint `gorm:"primaryKey;autoIncrement"`
	UnitID   uint `gorm:"not null;index"`
	OpenedAt time.Time
	ClosedAt *time.Time
	Status   string  `gorm:"size:32;default:done"`
	Summary  *string `gorm:"size:1000"`
	ByUserID *uint
}

// Attachment is a stored file linked to an entity by (EntityType, EntityID).
type Attachment struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	EntityType  string  `gorm:"size:50;not null;index:idx_attachment_entity"`
	EntityID    uint    `gorm:"not null;index:idx_attachment_entity"`
	FileID      *string `gorm:"size:255"`
	Filename    string  `gorm:"size:255"`
	Path        string  `gorm:"size:512"`
	ContentType string  `gorm:"size:100"`
	Size        int64
	SHA256      string `gorm:"size:64"`
	CreatedAt   time.Time
}
