package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvestmentActive  = "active"
	InvestmentMatured = "matured"
)

type Investment struct {
	ID             string          `gorm:"primaryKey;size:36"`
	MemberID       string          `gorm:"size:36;not null;index"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	ExpectedReturn decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Status         string          `gorm:"size:16;not null;default:'active';index"`
	StartedAt      time.Time
	MaturesAt      time.Time `gorm:"index"`
	MaturedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
