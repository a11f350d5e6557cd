// Package pgstore implements store.Store on PostgreSQL through gorm. Update
// opens a database transaction and takes a row lock on the member, so every
// process sharing the database serializes on the same member.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

// inChunk bounds the size of IN (...) lists sent to Postgres.
const inChunk = 1000

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateMember(ctx context.Context, m *models.Member) error {
	if m.Rank == "" {
		m.Rank = models.RankNewcomer
	}
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		if err := gtx.Create(m).Error; err != nil {
			return err
		}
		return gtx.Create(models.NewWallet(m.ID)).Error
	})
	return translate(err)
}

func (s *Store) Member(ctx context.Context, id string) (*models.Member, error) {
	var m models.Member
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translateMember(err)
	}
	return &m, nil
}

func (s *Store) MemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	var m models.Member
	if err := s.db.WithContext(ctx).Where("referral_code = ?", code).First(&m).Error; err != nil {
		return nil, translateMember(err)
	}
	return &m, nil
}

func (s *Store) MemberByTelegramID(ctx context.Context, telegramID int64) (*models.Member, error) {
	// Members created outside Telegram carry 0.
	if telegramID == 0 {
		return nil, store.ErrMemberNotFound
	}
	var m models.Member
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Order("created_at").First(&m).Error; err != nil {
		return nil, translateMember(err)
	}
	return &m, nil
}

func (s *Store) ReferrerID(ctx context.Context, id string) (string, error) {
	var m models.Member
	err := s.db.WithContext(ctx).Select("id", "referrer_id").First(&m, "id = ?", id).Error
	if err != nil {
		return "", translateMember(err)
	}
	if !m.HasReferrer() {
		return "", nil
	}
	return *m.ReferrerID, nil
}

func (s *Store) ActiveChildren(ctx context.Context, parentIDs []string) ([]models.Member, error) {
	var out []models.Member
	for start := 0; start < len(parentIDs); start += inChunk {
		end := start + inChunk
		if end > len(parentIDs) {
			end = len(parentIDs)
		}
		var batch []models.Member
		err := s.db.WithContext(ctx).
			Where("referrer_id IN ? AND is_active = ?", parentIDs[start:end], true).
			Order("created_at").
			Find(&batch).Error
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (s *Store) ActiveMemberIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("is_active = ? AND id > ?", true, afterID).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, translate(err)
}

func (s *Store) DueInvestments(ctx context.Context, asOf time.Time, afterID string, limit int) ([]models.Investment, error) {
	var out []models.Investment
	err := s.db.WithContext(ctx).
		Where("status = ? AND matures_at <= ? AND id > ?", models.InvestmentActive, asOf, afterID).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

func (s *Store) Wallet(ctx context.Context, memberID string) (*models.Wallet, error) {
	var w models.Wallet
	if err := s.db.WithContext(ctx).First(&w, "member_id = ?", memberID).Error; err != nil {
		return nil, translateMember(err)
	}
	return &w, nil
}

func (s *Store) Transactions(ctx context.Context, memberID string) ([]models.Transaction, error) {
	var out []models.Transaction
	err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("created_at, id").
		Find(&out).Error
	return out, translate(err)
}

func (s *Store) MatrixLevels(ctx context.Context, memberID string) ([]models.MatrixLevel, error) {
	var out []models.MatrixLevel
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Order("level").Find(&out).Error
	return out, translate(err)
}

func (s *Store) RankAchievements(ctx context.Context, memberID string) ([]models.RankAchievement, error) {
	var out []models.RankAchievement
	err := s.db.WithContext(ctx).Where("member_id = ?", memberID).Order("achieved_at").Find(&out).Error
	return out, translate(err)
}

func (s *Store) Withdrawal(ctx context.Context, id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := s.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (s *Store) Update(ctx context.Context, memberID string, fn func(tx store.Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var m models.Member
		err := gtx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", memberID).Error
		if err != nil {
			return translateMember(err)
		}
		var w models.Wallet
		if err := gtx.First(&w, "member_id = ?", memberID).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			w = *models.NewWallet(memberID)
			if err := gtx.Create(&w).Error; err != nil {
				return err
			}
		}
		return fn(&tx{db: gtx, member: &m, wallet: &w})
	})
	return translate(err)
}

// translate maps driver errors onto the store error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%s: %w", pgErr.Message, store.ErrConcurrentModification)
		case "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrDuplicate)
		}
	}
	return err
}

func translateMember(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrMemberNotFound
	}
	return translate(err)
}
