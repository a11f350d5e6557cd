// Package memstore is an in-process store.Store. Each member has its own mutex;
// Update stages every change and publishes it in one step on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	members     map[string]*models.Member
	byCode      map[string]string
	children    map[string][]string
	wallets     map[string]*models.Wallet
	txs         map[string][]models.Transaction
	dedup       map[string]map[string]struct{}
	levels      map[string]map[int]models.MatrixLevel
	placements  map[string]map[string]int
	ranks       map[string]map[models.Rank]models.RankAchievement
	codes       map[string]*models.ActivationCode
	withdrawals map[string]*models.Withdrawal
	investments map[string]*models.Investment

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	faultsMu sync.Mutex
	faults   map[string]fault
}

type fault struct {
	remaining int
	err       error
}

func New() *Store {
	return &Store{
		members:     make(map[string]*models.Member),
		byCode:      make(map[string]string),
		children:    make(map[string][]string),
		wallets:     make(map[string]*models.Wallet),
		txs:         make(map[string][]models.Transaction),
		dedup:       make(map[string]map[string]struct{}),
		levels:      make(map[string]map[int]models.MatrixLevel),
		placements:  make(map[string]map[string]int),
		ranks:       make(map[string]map[models.Rank]models.RankAchievement),
		codes:       make(map[string]*models.ActivationCode),
		withdrawals: make(map[string]*models.Withdrawal),
		investments: make(map[string]*models.Investment),
		locks:       make(map[string]*sync.Mutex),
		faults:      make(map[string]fault),
	}
}

// InjectFault makes the next `times` calls to Update for memberID fail with err
// before fn runs. Used to exercise retry paths.
func (s *Store) InjectFault(memberID string, times int, err error) {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	s.faults[memberID] = fault{remaining: times, err: err}
}

func (s *Store) takeFault(memberID string) error {
	s.faultsMu.Lock()
	defer s.faultsMu.Unlock()
	f, ok := s.faults[memberID]
	if !ok || f.remaining == 0 {
		return nil
	}
	f.remaining--
	s.faults[memberID] = f
	return f.err
}

func (s *Store) lockFor(memberID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[memberID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[memberID] = l
	}
	return l
}

func (s *Store) CreateMember(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[m.ID]; ok {
		return fmt.Errorf("member %s: %w", m.ID, store.ErrDuplicate)
	}
	if m.ReferralCode != nil {
		if _, ok := s.byCode[*m.ReferralCode]; ok {
			return fmt.Errorf("referral code %s: %w", *m.ReferralCode, store.ErrDuplicate)
		}
	}
	if m.HasReferrer() {
		if _, ok := s.members[*m.ReferrerID]; !ok {
			return fmt.Errorf("referrer %s: %w", *m.ReferrerID, store.ErrMemberNotFound)
		}
	}
	if m.Rank == "" {
		m.Rank = models.RankNewcomer
	}
	now := time.Now()
	m.CreatedAt, m.UpdatedAt = now, now

	cp := *m
	s.members[m.ID] = &cp
	s.wallets[m.ID] = models.NewWallet(m.ID)
	if m.ReferralCode != nil {
		s.byCode[*m.ReferralCode] = m.ID
	}
	if m.HasReferrer() {
		s.children[*m.ReferrerID] = append(s.children[*m.ReferrerID], m.ID)
	}
	return nil
}

func (s *Store) Member(_ context.Context, id string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) MemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	s.mu.RLock()
	id, ok := s.byCode[code]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	return s.Member(ctx, id)
}

func (s *Store) MemberByTelegramID(_ context.Context, telegramID int64) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Member
	for _, m := range s.members {
		if m.TelegramID != telegramID || telegramID == 0 {
			continue
		}
		if found == nil || m.CreatedAt.Before(found.CreatedAt) {
			found = m
		}
	}
	if found == nil {
		return nil, store.ErrMemberNotFound
	}
	cp := *found
	return &cp, nil
}

func (s *Store) ReferrerID(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return "", store.ErrMemberNotFound
	}
	if !m.HasReferrer() {
		return "", nil
	}
	return *m.ReferrerID, nil
}

func (s *Store) ActiveChildren(_ context.Context, parentIDs []string) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Member
	for _, p := range parentIDs {
		for _, c := range s.children[p] {
			if m := s.members[c]; m.IsActive {
				out = append(out, *m)
			}
		}
	}
	return out, nil
}

func (s *Store) ActiveMemberIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.members))
	for id, m := range s.members {
		if m.IsActive && id > afterID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) DueInvestments(_ context.Context, asOf time.Time, afterID string, limit int) ([]models.Investment, error) {
	s.mu.RLock()
	var out []models.Investment
	for id, inv := range s.investments {
		if id > afterID && inv.Status == models.InvestmentActive && !inv.MaturesAt.After(asOf) {
			out = append(out, *inv)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Wallet(_ context.Context, memberID string) (*models.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[memberID]
	if !ok {
		return nil, store.ErrMemberNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) Transactions(_ context.Context, memberID string) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.members[memberID]; !ok {
		return nil, store.ErrMemberNotFound
	}
	return append([]models.Transaction(nil), s.txs[memberID]...), nil
}

func (s *Store) MatrixLevels(_ context.Context, memberID string) ([]models.MatrixLevel, error) {
	s.mu.RLock()
	out := make([]models.MatrixLevel, 0, len(s.levels[memberID]))
	for _, l := range s.levels[memberID] {
		out = append(out, l)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (s *Store) RankAchievements(_ context.Context, memberID string) ([]models.RankAchievement, error) {
	s.mu.RLock()
	out := make([]models.RankAchievement, 0, len(s.ranks[memberID]))
	for _, a := range s.ranks[memberID] {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Rank.Below(out[j].Rank) })
	return out, nil
}

func (s *Store) Withdrawal(_ context.Context, id string) (*models.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *Store) Update(ctx context.Context, memberID string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lockFor(memberID)
	l.Lock()
	defer l.Unlock()

	if err := s.takeFault(memberID); err != nil {
		return err
	}

	s.mu.RLock()
	m, ok := s.members[memberID]
	var t *tx
	if ok {
		member := *m
		wallet := *s.wallets[memberID]
		t = newTx(s, &member, &wallet)
	}
	s.mu.RUnlock()
	if !ok {
		return store.ErrMemberNotFound
	}

	if err := fn(t); err != nil {
		return err
	}
	s.commit(t)
	return nil
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.member.ID
	if t.memberDirty {
		t.member.UpdatedAt = time.Now()
		cp := *t.member
		s.members[id] = &cp
		if cp.ReferralCode != nil {
			s.byCode[*cp.ReferralCode] = id
		}
	}
	if t.walletDirty {
		t.wallet.UpdatedAt = time.Now()
		cp := *t.wallet
		s.wallets[id] = &cp
	}
	if len(t.newTxs) > 0 {
		s.txs[id] = append(s.txs[id], t.newTxs...)
		if s.dedup[id] == nil {
			s.dedup[id] = make(map[string]struct{})
		}
		for k := range t.newKeys {
			s.dedup[id][k] = struct{}{}
		}
	}
	if len(t.levels) > 0 && s.levels[id] == nil {
		s.levels[id] = make(map[int]models.MatrixLevel)
	}
	for lvl, l := range t.levels {
		s.levels[id][lvl] = l
	}
	if len(t.placements) > 0 && s.placements[id] == nil {
		s.placements[id] = make(map[string]int)
	}
	for d, lvl := range t.placements {
		s.placements[id][d] = lvl
	}
	if len(t.ranks) > 0 && s.ranks[id] == nil {
		s.ranks[id] = make(map[models.Rank]models.RankAchievement)
	}
	for r, a := range t.ranks {
		s.ranks[id][r] = a
	}
	for code, c := range t.codes {
		cp := c
		s.codes[code] = &cp
	}
	for wid, w := range t.withdrawals {
		cp := w
		s.withdrawals[wid] = &cp
	}
	for iid, inv := range t.investments {
		cp := inv
		s.investments[iid] = &cp
	}
}
