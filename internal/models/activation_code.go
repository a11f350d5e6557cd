package models

import (
	"time"
)

const (
	CodeStatusApproved = "approved"
	CodeStatusUsed     = "used"
)

// ActivationCode is a one-time TPIN that activates its owner's account.
type ActivationCode struct {
	Code      string `gorm:"primaryKey;size:16"`
	OwnerID   string `gorm:"size:36;not null;index"`
	Status    string `gorm:"size:16;not null;default:'approved'"`
	Reason    string `gorm:"size:255"`
	UsedAt    *time.Time
	CreatedAt time.Time
}
