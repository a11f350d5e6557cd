package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
)

type Withdrawal struct {
	ID              string          `gorm:"primaryKey;size:36"`
	MemberID        string          `gorm:"size:36;not null;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Method          string          `gorm:"size:16;not null"`
	Status          string          `gorm:"size:16;not null;default:'pending';index"`
	RejectionReason string          `gorm:"size:255"`
	ExternalRef     string          `gorm:"size:128"`
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
