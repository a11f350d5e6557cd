package memstore

import (
	"fmt"
	"time"

	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

// tx stages every write until Store.commit publishes it.
type tx struct {
	s *Store

	member      *models.Member
	memberDirty bool
	wallet      *models.Wallet
	walletDirty bool

	newTxs      []models.Transaction
	newKeys     map[string]struct{}
	levels      map[int]models.MatrixLevel
	placements  map[string]int
	ranks       map[models.Rank]models.RankAchievement
	codes       map[string]models.ActivationCode
	withdrawals map[string]models.Withdrawal
	investments map[string]models.Investment
}

func newTx(s *Store, m *models.Member, w *models.Wallet) *tx {
	return &tx{
		s:           s,
		member:      m,
		wallet:      w,
		newKeys:     make(map[string]struct{}),
		levels:      make(map[int]models.MatrixLevel),
		placements:  make(map[string]int),
		ranks:       make(map[models.Rank]models.RankAchievement),
		codes:       make(map[string]models.ActivationCode),
		withdrawals: make(map[string]models.Withdrawal),
		investments: make(map[string]models.Investment),
	}
}

func (t *tx) Member() *models.Member { return t.member }

func (t *tx) SaveMember() error {
	t.memberDirty = true
	return nil
}

func (t *tx) Wallet() *models.Wallet { return t.wallet }

func (t *tx) SaveWallet() error {
	t.walletDirty = true
	return nil
}

func (t *tx) HasTransaction(dedupKey string) (bool, error) {
	if _, ok := t.newKeys[dedupKey]; ok {
		return true, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.dedup[t.member.ID][dedupKey]
	return ok, nil
}

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
		t.newKeys[*tr.DedupKey] = struct{}{}
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now()
	}
	t.newTxs = append(t.newTxs, *tr)
	return nil
}

func (t *tx) MatrixLevel(level int) (*models.MatrixLevel, error) {
	if l, ok := t.levels[level]; ok {
		return &l, nil
	}
	t.s.mu.RLock()
	l, ok := t.s.levels[t.member.ID][level]
	t.s.mu.RUnlock()
	if !ok {
		l = models.MatrixLevel{MemberID: t.member.ID, Level: level}
	}
	return &l, nil
}

func (t *tx) SaveMatrixLevel(l *models.MatrixLevel) error {
	if l.MemberID != t.member.ID {
		return fmt.Errorf("matrix level of %s saved under %s", l.MemberID, t.member.ID)
	}
	l.UpdatedAt = time.Now()
	t.levels[l.Level] = *l
	return nil
}

func (t *tx) AddPlacement(descendantID string, level int) (bool, error) {
	if _, ok := t.placements[descendantID]; ok {
		return false, nil
	}
	t.s.mu.RLock()
	_, ok := t.s.placements[t.member.ID][descendantID]
	t.s.mu.RUnlock()
	if ok {
		return false, nil
	}
	t.placements[descendantID] = level
	return true, nil
}

func (t *tx) PlacementCount(level int) (int64, error) {
	var n int64
	for _, l := range t.placements {
		if l == level {
			n++
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, l := range t.s.placements[t.member.ID] {
		if l == level {
			n++
		}
	}
	return n, nil
}

func (t *tx) HasRank(rank models.Rank) (bool, error) {
	if _, ok := t.ranks[rank]; ok {
		return true, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.ranks[t.member.ID][rank]
	return ok, nil
}

func (t *tx) AddRank(a *models.RankAchievement) error {
	has, err := t.HasRank(a.Rank)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("rank %s: %w", a.Rank, store.ErrDuplicate)
	}
	a.MemberID = t.member.ID
	t.ranks[a.Rank] = *a
	return nil
}

func (t *tx) ActivationCode(code string) (*models.ActivationCode, error) {
	if c, ok := t.codes[code]; ok {
		return &c, nil
	}
	t.s.mu.RLock()
	c, ok := t.s.codes[code]
	t.s.mu.RUnlock()
	if !ok || c.OwnerID != t.member.ID {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *tx) SaveActivationCode(c *models.ActivationCode) error {
	if c.OwnerID != t.member.ID {
		return fmt.Errorf("activation code of %s saved under %s", c.OwnerID, t.member.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	t.codes[c.Code] = *c
	return nil
}

func (t *tx) Withdrawal(id string) (*models.Withdrawal, error) {
	if w, ok := t.withdrawals[id]; ok {
		return &w, nil
	}
	t.s.mu.RLock()
	w, ok := t.s.withdrawals[id]
	t.s.mu.RUnlock()
	if !ok || w.MemberID != t.member.ID {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *tx) SaveWithdrawal(w *models.Withdrawal) error {
	if w.MemberID != t.member.ID {
		return fmt.Errorf("withdrawal of %s saved under %s", w.MemberID, t.member.ID)
	}
	now := time.Now()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	t.withdrawals[w.ID] = *w
	return nil
}

func (t *tx) Investment(id string) (*models.Investment, error) {
	if i, ok := t.investments[id]; ok {
		return &i, nil
	}
	t.s.mu.RLock()
	i, ok := t.s.investments[id]
	t.s.mu.RUnlock()
	if !ok || i.MemberID != t.member.ID {
		return nil, store.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (t *tx) SaveInvestment(i *models.Investment) error {
	if i.MemberID != t.member.ID {
		return fmt.Errorf("investment of %s saved under %s", i.MemberID, t.member.ID)
	}
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	t.investments[i.ID] = *i
	return nil
}
