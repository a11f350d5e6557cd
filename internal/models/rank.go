package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Rank string

const (
	RankNewcomer Rank = "Newcomer"
	RankBronze   Rank = "Bronze"
	RankSilver   Rank = "Silver"
	RankGold     Rank = "Gold"
	RankRuby     Rank = "Ruby"
	RankDiamond  Rank = "Diamond"
	RankPlatinum Rank = "Platinum"
	RankKing     Rank = "King"
)

// RankLadder lists every rank in ascending order.
var RankLadder = []Rank{
	RankNewcomer,
	RankBronze,
	RankSilver,
	RankGold,
	RankRuby,
	RankDiamond,
	RankPlatinum,
	RankKing,
}

// Index returns the position of r on the ladder, or -1 for an unknown rank.
func (r Rank) Index() int {
	for i, l := range RankLadder {
		if l == r {
			return i
		}
	}
	return -1
}

func (r Rank) Valid() bool {
	return r.Index() >= 0
}

// Below reports whether r sits strictly lower on the ladder than o.
func (r Rank) Below(o Rank) bool {
	return r.Index() < o.Index()
}

type RankAchievement struct {
	MemberID   string          `gorm:"primaryKey;size:36"`
	Rank       Rank            `gorm:"primaryKey;size:16"`
	Bonus      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	AchievedAt time.Time
}
