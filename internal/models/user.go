package models

import "time"

// User is a registered chat participant. ExternalID is "platform:user".
type User struct {
	ID         uint    `gorm:"primaryKey;autoIncrement"`
	ExternalID string  `gorm:"size:128;not null;uniqueIndex"`
	FullName   *string `gorm:"size:255"`
	UserName   *string `gorm:"size:255"`
	Role       string  `gorm:"size:16;default:master"`
	Status     string  `gorm:"size:16;default:pending;index"`
	CreatedAt  time.Time
}
