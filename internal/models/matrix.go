package models

import (
	"time"
)

// MatrixLevel tracks one of the seven matrix levels of a member. Completed only
// ever moves from false to true.
type MatrixLevel struct {
	MemberID          string `gorm:"primaryKey;size:36"`
	Level             int    `gorm:"primaryKey;autoIncrement:false"`
	ActiveCount       int64  `gorm:"not null;default:0"`
	Completed         bool   `gorm:"not null;default:false"`
	CompletedAt       *time.Time
	LastDailyCreditAt *time.Time
	UpdatedAt         time.Time
}

// MatrixPlacement records that DescendantID was counted into AncestorID's level.
// The primary key keeps a counter from advancing twice for one activation.
type MatrixPlacement struct {
	AncestorID   string `gorm:"primaryKey;size:36"`
	DescendantID string `gorm:"primaryKey;size:36"`
	Level        int    `gorm:"not null"`
	CreatedAt    time.Time
}
