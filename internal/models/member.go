package models

import (
	"time"
)

type Member struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Name         string  `gorm:"size:255"`
	TelegramID   int64   `gorm:"index"`
	ReferrerID   *string `gorm:"size:36;index"`
	ReferralCode *string `gorm:"size:16;uniqueIndex"`
	IsActive     bool    `gorm:"not null;default:false;index"`
	Rank         Rank    `gorm:"size:16;not null;default:'Newcomer'"`
	Blocked      bool    `gorm:"not null;default:false"`
	BlockReason  string  `gorm:"size:255"`
	ActivatedAt  *time.Time
	BlockedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasReferrer reports whether the member joined through a referral code.
func (m *Member) HasReferrer() bool {
	return m.ReferrerID != nil && *m.ReferrerID != ""
}
