package pgstore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

type tx struct {
	db     *gorm.DB
	member *models.Member
	wallet *models.Wallet
}

func (t *tx) Member() *models.Member { return t.member }

func (t *tx) SaveMember() error {
	return t.db.Save(t.member).Error
}

func (t *tx) Wallet() *models.Wallet { return t.wallet }

func (t *tx) SaveWallet() error {
	return t.db.Save(t.wallet).Error
}

func (t *tx) HasTransaction(dedupKey string) (bool, error) {
	var n int64
	err := t.db.Model(&models.Transaction{}).
		Where("member_id = ? AND dedup_key = ?", t.member.ID, dedupKey).
		Count(&n).Error
	return n > 0, err
}

// AppendTransaction checks the dedup key first: a unique violation would abort
// the surrounding Postgres transaction.
func (t *tx) AppendTransaction(tr *models.Transaction) error {
	if tr.MemberID != t.member.ID {
		return fmt.Errorf("transaction for %s appended under %s", tr.MemberID, t.member.ID)
	}
	if tr.DedupKey != nil {
		dup, err := t.HasTransaction(*tr.DedupKey)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("transaction %s: %w", *tr.DedupKey, store.ErrDuplicate)
		}
	}
	return t.db.Create(tr).Error
}

func (t *tx) MatrixLevel(level int) (*models.MatrixLevel, error) {
	var l models.MatrixLevel
	err := t.db.Where("member_id = ? AND level = ?", t.member.ID, level).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.MatrixLevel{MemberID: t.member.ID, Level: level}, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (t *tx) SaveMatrixLevel(l *models.MatrixLevel) error {
	if l.MemberID != t.member.ID {
		return fmt.Errorf("matrix level of %s saved under %s", l.MemberID, t.member.ID)
	}
	return t.db.Save(l).Error
}

func (t *tx) AddPlacement(descendantID string, level int) (bool, error) {
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.MatrixPlacement{
		AncestorID:   t.member.ID,
		DescendantID: descendantID,
		Level:        level,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (t *tx) PlacementCount(level int) (int64, error) {
	var n int64
	err := t.db.Model(&models.MatrixPlacement{}).
		Where("ancestor_id = ? AND level = ?", t.member.ID, level).
		Count(&n).Error
	return n, err
}

func (t *tx) HasRank(rank models.Rank) (bool, error) {
	var n int64
	err := t.db.Model(&models.RankAchievement{}).
		Where("member_id = ? AND rank = ?", t.member.ID, rank).
		Count(&n).Error
	return n > 0, err
}

func (t *tx) AddRank(a *models.RankAchievement) error {
	a.MemberID = t.member.ID
	return t.db.Create(a).Error
}

func (t *tx) ActivationCode(code string) (*models.ActivationCode, error) {
	var c models.ActivationCode
	err := t.db.Where("code = ? AND owner_id = ?", code, t.member.ID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) SaveActivationCode(c *models.ActivationCode) error {
	if c.OwnerID != t.member.ID {
		return fmt.Errorf("activation code of %s saved under %s", c.OwnerID, t.member.ID)
	}
	return t.db.Save(c).Error
}

func (t *tx) Withdrawal(id string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND member_id = ?", id, t.member.ID).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *tx) SaveWithdrawal(w *models.Withdrawal) error {
	if w.MemberID != t.member.ID {
		return fmt.Errorf("withdrawal of %s saved under %s", w.MemberID, t.member.ID)
	}
	return t.db.Save(w).Error
}

func (t *tx) Investment(id string) (*models.Investment, error) {
	var i models.Investment
	err := t.db.Where("id = ? AND member_id = ?", id, t.member.ID).First(&i).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &i, nil
}

func (t *tx) SaveInvestment(i *models.Investment) error {
	if i.MemberID != t.member.ID {
		return fmt.Errorf("investment of %s saved under %s", i.MemberID, t.member.ID)
	}
	return t.db.Save(i).Error
}
