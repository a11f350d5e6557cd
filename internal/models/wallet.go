package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is created together with its Member and is only ever mutated by the ledger.
type Wallet struct {
	MemberID          string          `gorm:"primaryKey;size:36"`
	Balance           decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	SelfIncome        decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	DirectIncome      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	MatrixIncome      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	DailyIncome       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	DailyTeamIncome   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	RankRewards       decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	InvestmentIncome  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalEarnings     decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	WithdrawnAmount   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	LastDailyIncomeAt *time.Time
	UpdatedAt         time.Time
}

// NewWallet returns the zero wallet every member starts with.
func NewWallet(memberID string) *Wallet {
	return &Wallet{
		MemberID:         memberID,
		Balance:          decimal.Zero,
		SelfIncome:       decimal.Zero,
		DirectIncome:     decimal.Zero,
		MatrixIncome:     decimal.Zero,
		DailyIncome:      decimal.Zero,
		DailyTeamIncome:  decimal.Zero,
		RankRewards:      decimal.Zero,
		InvestmentIncome: decimal.Zero,
		TotalEarnings:    decimal.Zero,
		WithdrawnAmount:  decimal.Zero,
	}
}

// Counter returns a pointer to the cumulative counter of the given category.
func (w *Wallet) Counter(c Category) (*decimal.Decimal, bool) {
	switch c {
	case CategorySelfIncome:
		return &w.SelfIncome, true
	case CategoryDirectIncome:
		return &w.DirectIncome, true
	case CategoryMatrixIncome:
		return &w.MatrixIncome, true
	case CategoryDailyIncome:
		return &w.DailyIncome, true
	case CategoryDailyTeamIncome:
		return &w.DailyTeamIncome, true
	case CategoryRankRewards:
		return &w.RankRewards, true
	case CategoryInvestmentIncome:
		return &w.InvestmentIncome, true
	}
	return nil, false
}

// EarningsSum adds up every category counter. It must always equal TotalEarnings.
func (w *Wallet) EarningsSum() decimal.Decimal {
	return w.SelfIncome.
		Add(w.DirectIncome).
		Add(w.MatrixIncome).
		Add(w.DailyIncome).
		Add(w.DailyTeamIncome).
		Add(w.RankRewards).
		Add(w.InvestmentIncome)
}
