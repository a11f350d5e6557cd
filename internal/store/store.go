// Package store defines the member-record store the commission engine runs
// against. All mutations of one member's commission state happen inside
// Store.Update, which serializes them per member and applies them atomically.
package store

import (
	"context"
	"errors"
	"time"

	"mlm-network/internal/models"
)

var (
	ErrMemberNotFound         = errors.New("member not found")
	ErrNotFound               = errors.New("record not found")
	ErrDuplicate              = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Store is the persistence boundary. Reads outside Update take no member lock.
type Store interface {
	// CreateMember inserts the member together with its zero wallet.
	CreateMember(ctx context.Context, m *models.Member) error
	Member(ctx context.Context, id string) (*models.Member, error)
	MemberByReferralCode(ctx context.Context, code string) (*models.Member, error)
	MemberByTelegramID(ctx context.Context, telegramID int64) (*models.Member, error)
	// ReferrerID returns "" when the member has no referrer.
	ReferrerID(ctx context.Context, id string) (string, error)
	// ActiveChildren returns the active members referred by any of parentIDs.
	ActiveChildren(ctx context.Context, parentIDs []string) ([]models.Member, error)
	// ActiveMemberIDs pages through active members ordered by id, starting after afterID.
	ActiveMemberIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	// DueInvestments pages through active investments maturing at or before asOf.
	DueInvestments(ctx context.Context, asOf time.Time, afterID string, limit int) ([]models.Investment, error)

	Wallet(ctx context.Context, memberID string) (*models.Wallet, error)
	Transactions(ctx context.Context, memberID string) ([]models.Transaction, error)
	MatrixLevels(ctx context.Context, memberID string) ([]models.MatrixLevel, error)
	RankAchievements(ctx context.Context, memberID string) ([]models.RankAchievement, error)
	Withdrawal(ctx context.Context, id string) (*models.Withdrawal, error)

	// Update runs fn with exclusive access to the member's commission state.
	// Either every change fn makes is committed, or none is.
	Update(ctx context.Context, memberID string, fn func(tx Tx) error) error
}

// Tx is the view of a single locked member inside Store.Update.
type Tx interface {
	Member() *models.Member
	SaveMember() error

	Wallet() *models.Wallet
	SaveWallet() error

	// HasTransaction reports whether a transaction with dedupKey exists for the member.
	HasTransaction(dedupKey string) (bool, error)
	// AppendTransaction fails with ErrDuplicate when the dedup key is already taken.
	AppendTransaction(t *models.Transaction) error

	// MatrixLevel returns the stored level record or a fresh zero one.
	MatrixLevel(level int) (*models.MatrixLevel, error)
	SaveMatrixLevel(l *models.MatrixLevel) error
	// AddPlacement records descendantID under this member and reports whether it was new.
	AddPlacement(descendantID string, level int) (bool, error)
	// PlacementCount counts the descendants recorded under level, staged ones included.
	PlacementCount(level int) (int64, error)

	HasRank(rank models.Rank) (bool, error)
	AddRank(a *models.RankAchievement) error

	ActivationCode(code string) (*models.ActivationCode, error)
	SaveActivationCode(c *models.ActivationCode) error

	Withdrawal(id string) (*models.Withdrawal, error)
	SaveWithdrawal(w *models.Withdrawal) error

	Investment(id string) (*models.Investment, error)
	SaveInvestment(i *models.Investment) error
}
