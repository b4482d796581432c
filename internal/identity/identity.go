// Package identity maps chat users to registered Users and resolves the
// display name written into audit records.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/blockyard/internal/models"
	"gorm.io/gorm"
)

// Roles and statuses of registered users.
const (
	RoleAdmin  = "admin"
	RoleMaster = "master"

	StatusPending = "pending"
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

// ErrNotRegistered is returned when an external id has no User row.
var ErrNotRegistered = errors.New("identity: not registered")

// Identity is what the chat platform tells us about the sender.
type Identity struct {
	Platform   string
	ExternalID string // platform user id
	UserName   string
	FirstName  string
	LastName   string
}

// Key returns the "platform:user" id stored in User.ExternalID.
func (i Identity) Key() string {
	return i.Platform + ":" + i.ExternalID
}

// Resolved is an Identity matched against the user registry.
type Resolved struct {
	User        *models.User // nil when unregistered
	UserID      *uint
	DisplayName *string
}

// Resolve looks up the registered user for id and computes the display name.
func Resolve(db *gorm.DB, id Identity) (Resolved, error) {
	var users []models.User
	if err := db.Where("external_id = ?", id.Key()).Limit(1).Find(&users).Error; err != nil {
		return Resolved{}, fmt.Errorf("identity: resolve %s: %w", id.Key(), err)
	}
	var r Resolved
	if len(users) == 1 {
		r.User = &users[0]
		r.UserID = &users[0].ID
	}
	r.DisplayName = DisplayName(r.User, id)
	return r, nil
}

// DisplayName picks the surname shown in audit records: first token of the
// registered full name, then the chat last name, then the chat first name.
func DisplayName(u *models.User, id Identity) *string {
	if u != nil && u.FullName != nil {
		if parts := strings.Fields(*u.FullName); len(parts) > 0 {
			return &parts[0]
		}
	}
	if v := strings.TrimSpace(id.LastName); v != "" {
		return &v
	}
	if v := strings.TrimSpace(id.FirstName); v != "" {
		return &v
	}
	return nil
}

// Register creates or updates the User for id. Admins are activated
// immediately; everyone else waits for approval. An existing admin keeps the
// admin role.
func Register(db *gorm.DB, id Identity, fullName string, admin bool) (*models.User, error) {
	fullName = strings.Join(strings.Fields(fullName), " ")
	if len(strings.Fields(fullName)) < 2 {
		return nil, fmt.Errorf("identity: full name needs surname and name, got %q", fullName)
	}

	role, status := RoleMaster, StatusPending
	if admin {
		role, status = RoleAdmin, StatusActive
	}

	var u models.User
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("external_id = ?", id.Key()).First(&u).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			u = models.User{
				ExternalID: id.Key(),
				FullName:   &fullName,
				UserName:   optional(id.UserName),
				Role:       role,
				Status:     status,
			}
			return tx.Create(&u).Error
		}
		if err != nil {
			return err
		}
		u.FullName = &fullName
		u.UserName = optional(id.UserName)
		if u.Role != RoleAdmin {
			u.Role = role
		}
		if admin {
			u.Status = StatusActive
		}
		return tx.Save(&u).Error
	})
	if err != nil {
		return nil, fmt.Errorf("identity: register %s: %w", id.Key(), err)
	}
	return &u, nil
}

// Approve activates the user with the given "platform:user" id.
func Approve(db *gorm.DB, externalID string) (*models.User, error) {
	var u models.User
	if err := db.Where("external_id = ?", externalID).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, externalID)
		}
		return nil, fmt.Errorf("identity: approve %s: %w", externalID, err)
	}
	if err := db.Model(&u).Update("status", StatusActive).Error; err != nil {
		return nil, fmt.Errorf("identity: approve %s: %w", externalID, err)
	}
	u.Status = StatusActive
	return &u, nil
}

// IsActive reports whether r belongs to an approved user.
func (r Resolved) IsActive() bool {
	return r.User != nil && r.User.Status == StatusActive
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
