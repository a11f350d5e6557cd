package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the scale of every numeric(20,2) money column.
const MoneyPlaces = 2

// FitsMoneyScale reports whether d can be stored without rounding.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyPlaces))
}

// Transaction is an append-only ledger entry. Amount is signed: credits are
// positive, debits negative. DedupKey, when set, is unique per member.
type Transaction struct {
	ID             string          `gorm:"primaryKey;size:36"`
	MemberID       string          `gorm:"size:36;not null;index;uniqueIndex:idx_transactions_member_dedup,priority:1"`
	Type           TxType          `gorm:"size:32;not null;index"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Level          *int
	SourceMemberID *string `gorm:"size:36;index"`
	DedupKey       *string `gorm:"size:128;uniqueIndex:idx_transactions_member_dedup,priority:2"`
	Description    string  `gorm:"size:255"`
	CreatedAt      time.Time
}
