package commission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-network/internal/config"
	"mlm-network/internal/graph"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
	"mlm-network/internal/store/memstore"
)

var (
	ist   = time.FixedZone("IST", 5*3600+1800)
	start = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	ctx   context.Context
	mem   *memstore.Store
	store store.Store
	e     *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	return newFixtureWithStore(t, mem, mem)
}

func newFixtureWithStore(t *testing.T, mem *memstore.Store, s store.Store) *fixture {
	t.Helper()
	log := logging.NewTestLogger()
	g, err := graph.New(s, 0)
	require.NoError(t, err)
	l := ledger.New(s, log,
		ledger.WithClock(func() time.Time { return start }),
		ledger.WithRetry(5, time.Millisecond),
	)
	e := NewEngine(config.DefaultCommission(), s, g, l, log, WithLocation(ist), WithBatchSize(3))
	return &fixture{ctx: context.Background(), mem: mem, store: s, e: e}
}

func (f *fixture) join(t *testing.T, id, referrer string) {
	t.Helper()
	m := &models.Member{ID: id, Name: id}
	if referrer != "" {
		m.ReferrerID = &referrer
	}
	require.NoError(t, f.mem.CreateMember(f.ctx, m))
}

func (f *fixture) markActive(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.mem.Update(f.ctx, id, func(tx store.Tx) error {
		tx.Member().IsActive = true
		return tx.SaveMember()
	}))
}

func (f *fixture) activate(t *testing.T, id string) {
	t.Helper()
	f.markActive(t, id)
	require.NoError(t, f.e.OnMemberActivated(f.ctx, id))
}

func (f *fixture) wallet(t *testing.T, id string) *models.Wallet {
	t.Helper()
	w, err := f.store.Wallet(f.ctx, id)
	require.NoError(t, err)
	return w
}

func (f *fixture) txs(t *testing.T, id string, typ models.TxType) []models.Transaction {
	t.Helper()
	all, err := f.store.Transactions(f.ctx, id)
	require.NoError(t, err)
	var out []models.Transaction
	for _, tx := range all {
		if tx.Type == typ {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fixture) matrixTxs(t *testing.T, id string, level int) []models.Transaction {
	t.Helper()
	var out []models.Transaction
	for _, tx := range f.txs(t, id, models.TxMatrixIncome) {
		if tx.Level != nil && *tx.Level == level {
			out = append(out, tx)
		}
	}
	return out
}

// requireBalanced checks that the wallet equals the running sum of its
// transactions and that the earnings counters add up.
func (f *fixture) requireBalanced(t *testing.T, id string) {
	t.Helper()
	w := f.wallet(t, id)
	all, err := f.store.Transactions(f.ctx, id)
	require.NoError(t, err)

	credits, debits := decimal.Zero, decimal.Zero
	for _, tx := range all {
		if tx.Amount.IsPositive() {
			credits = credits.Add(tx.Amount)
		} else {
			debits = debits.Add(tx.Amount.Neg())
		}
	}
	assert.True(t, w.Balance.Equal(credits.Sub(debits)), "%s: balance %s, transactions %s", id, w.Balance, credits.Sub(debits))
	assert.True(t, w.TotalEarnings.Equal(w.EarningsSum()), "%s: counters do not add up", id)
	assert.True(t, w.Balance.Equal(w.TotalEarnings.Sub(w.WithdrawnAmount)), "%s: balance drifted from earnings", id)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestOnMemberActivated(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.join(t, "b", "a")

	f.activate(t, "a")
	assert.True(t, f.wallet(t, "a").SelfIncome.Equal(dec(10)))

	f.activate(t, "b")
	assert.True(t, f.wallet(t, "b").SelfIncome.Equal(dec(10)))

	direct := f.txs(t, "a", models.TxDirectIncome)
	require.Len(t, direct, 1)
	assert.True(t, direct[0].Amount.Equal(dec(20)))
	require.NotNil(t, direct[0].SourceMemberID)
	assert.Equal(t, "b", *direct[0].SourceMemberID)

	levels, err := f.store.MatrixLevels(f.ctx, "a")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.EqualValues(t, 1, levels[0].ActiveCount)
	assert.False(t, levels[0].Completed)

	t.Run("activation is idempotent", func(t *testing.T) {
		beforeA, beforeB := f.wallet(t, "a"), f.wallet(t, "b")
		for i := 0; i < 3; i++ {
			require.NoError(t, f.e.OnMemberActivated(f.ctx, "b"))
		}
		afterA, afterB := f.wallet(t, "a"), f.wallet(t, "b")
		assert.True(t, beforeA.Balance.Equal(afterA.Balance))
		assert.True(t, beforeB.Balance.Equal(afterB.Balance))
		assert.Len(t, f.txs(t, "b", models.TxSelfIncome), 1)
		assert.Len(t, f.txs(t, "a", models.TxDirectIncome), 1)

		levels, err := f.store.MatrixLevels(f.ctx, "a")
		require.NoError(t, err)
		assert.EqualValues(t, 1, levels[0].ActiveCount)
	})

	f.requireBalanced(t, "a")
	f.requireBalanced(t, "b")
}

func TestOnMemberActivatedRejectsInactive(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	err := f.e.OnMemberActivated(f.ctx, "a")
	require.ErrorIs(t, err, ErrMemberInactive)
	assert.True(t, f.wallet(t, "a").Balance.IsZero())

	err = f.e.OnMemberActivated(f.ctx, "nobody")
	require.ErrorIs(t, err, store.ErrMemberNotFound)
}

func TestDirectIncomeNeedsActiveReferrer(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.join(t, "b", "a")

	f.activate(t, "b")
	assert.Empty(t, f.txs(t, "a", models.TxDirectIncome))

	// Activating the referrer later does not backfill the missed bonus.
	f.activate(t, "a")
	assert.Empty(t, f.txs(t, "a", models.TxDirectIncome))
}

func TestLevelOneCompletesOnFifthReferral(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")

	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("b%d", i)
		f.join(t, id, "a")
		f.activate(t, id)
		if i < 5 {
			assert.Empty(t, f.matrixTxs(t, "a", 1), "no level 1 payout after %d referrals", i)
		}
	}

	paid := f.matrixTxs(t, "a", 1)
	require.Len(t, paid, 1)
	assert.True(t, paid[0].Amount.Equal(dec(5)))
	require.NotNil(t, paid[0].SourceMemberID)
	assert.Equal(t, "b5", *paid[0].SourceMemberID)

	f.join(t, "b6", "a")
	f.activate(t, "b6")
	assert.Len(t, f.matrixTxs(t, "a", 1), 1)
	f.requireBalanced(t, "a")
}

func TestLevelTwoCapacityBoundary(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 5; i++ {
		b := fmt.Sprintf("b%d", i)
		f.join(t, b, "a")
		f.activate(t, b)
	}

	n := 0
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			c := fmt.Sprintf("c%d%d", i, j)
			f.join(t, c, fmt.Sprintf("b%d", i))
			f.activate(t, c)
			n++
			if n == 24 {
				assert.Empty(t, f.matrixTxs(t, "a", 2), "24 of 25 must not pay")
			}
		}
	}

	paid := f.matrixTxs(t, "a", 2)
	require.Len(t, paid, 1)
	assert.True(t, paid[0].Amount.Equal(dec(4)))

	for i := 0; i < 5; i++ {
		assert.Len(t, f.matrixTxs(t, fmt.Sprintf("b%d", i), 1), 1)
	}

	t.Run("incremental counters agree with the graph", func(t *testing.T) {
		levels, err := f.store.MatrixLevels(f.ctx, "a")
		require.NoError(t, err)
		for _, lvl := range levels {
			n, err := f.e.graph.CountActiveDescendantsAtDepth(f.ctx, "a", lvl.Level)
			require.NoError(t, err)
			assert.Equal(t, n, lvl.ActiveCount, "level %d", lvl.Level)
		}
	})
	f.requireBalanced(t, "a")
}

func TestConcurrentActivationsPayMatrixOnce(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")

	const n = 30
	for i := 0; i < n; i++ {
		f.join(t, fmt.Sprintf("b%02d", i), "a")
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("b%02d", i)
		f.markActive(t, id)
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.e.OnMemberActivated(f.ctx, id))
			}()
		}
	}
	wg.Wait()

	assert.Len(t, f.matrixTxs(t, "a", 1), 1)
	assert.Len(t, f.txs(t, "a", models.TxDirectIncome), n)
	assert.True(t, f.wallet(t, "a").DirectIncome.Equal(dec(20*n)))

	ranks := f.txs(t, "a", models.TxRankReward)
	require.Len(t, ranks, 1)
	assert.True(t, ranks[0].Amount.Equal(dec(500)))

	m, err := f.store.Member(f.ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.RankBronze, m.Rank)

	f.requireBalanced(t, "a")
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("b%02d", i)
		assert.Len(t, f.txs(t, id, models.TxSelfIncome), 1)
		f.requireBalanced(t, id)
	}
}

func TestRankIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("b%02d", i)
		f.join(t, id, "a")
		f.activate(t, id)
	}

	m, err := f.store.Member(f.ctx, "a")
	require.NoError(t, err)
	require.Equal(t, models.RankBronze, m.Rank)

	// Referrals dropping out must not cost the rank.
	for i := 0; i < 10; i++ {
		require.NoError(t, f.mem.Update(f.ctx, fmt.Sprintf("b%02d", i), func(tx store.Tx) error {
			tx.Member().IsActive = false
			return tx.SaveMember()
		}))
	}
	_, err = f.e.ranks.Evaluate(f.ctx, "a")
	require.NoError(t, err)

	m, err = f.store.Member(f.ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.RankBronze, m.Rank)
	assert.Len(t, f.txs(t, "a", models.TxRankReward), 1)
}

func TestConcurrentModificationIsRetried(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.join(t, "b", "a")
	f.activate(t, "a")
	f.markActive(t, "b")

	f.mem.InjectFault("a", 3, store.ErrConcurrentModification)
	require.NoError(t, f.e.OnMemberActivated(f.ctx, "b"))
	assert.Len(t, f.txs(t, "a", models.TxDirectIncome), 1)
}

func TestLaterStepFailureKeepsSelfIncome(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.join(t, "b", "a")
	f.activate(t, "a")
	f.markActive(t, "b")

	down := errors.New("ledger unavailable")
	f.mem.InjectFault("a", 1, down)

	err := f.e.OnMemberActivated(f.ctx, "b")
	require.ErrorIs(t, err, down)
	assert.Len(t, f.txs(t, "b", models.TxSelfIncome), 1)
	assert.Empty(t, f.txs(t, "a", models.TxDirectIncome))

	require.NoError(t, f.e.OnMemberActivated(f.ctx, "b"))
	assert.Len(t, f.txs(t, "b", models.TxSelfIncome), 1)
	assert.Len(t, f.txs(t, "a", models.TxDirectIncome), 1)
}

func TestSelfIncomeFailureStopsActivation(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.join(t, "b", "a")
	f.activate(t, "a")
	f.markActive(t, "b")

	down := errors.New("ledger unavailable")
	f.mem.InjectFault("b", 1, down)

	err := f.e.OnMemberActivated(f.ctx, "b")
	require.ErrorIs(t, err, down)
	assert.Empty(t, f.txs(t, "a", models.TxDirectIncome))
}

// brokenUplineStore points one member at a referrer that does not exist.
type brokenUplineStore struct {
	*memstore.Store
	dangling map[string]string
}

func (b brokenUplineStore) ReferrerID(ctx context.Context, id string) (string, error) {
	if p, ok := b.dangling[id]; ok {
		return p, nil
	}
	return b.Store.ReferrerID(ctx, id)
}

func TestMissingUplineMemberIsSkipped(t *testing.T) {
	mem := memstore.New()
	f := newFixtureWithStore(t, mem, brokenUplineStore{Store: mem, dangling: map[string]string{"b": "ghost"}})
	f.join(t, "b", "")
	f.join(t, "c", "b")
	f.activate(t, "b")

	f.markActive(t, "c")
	require.NoError(t, f.e.OnMemberActivated(f.ctx, "c"))

	assert.Len(t, f.txs(t, "c", models.TxSelfIncome), 1)
	assert.Len(t, f.txs(t, "b", models.TxDirectIncome), 1)
	levels, err := f.store.MatrixLevels(f.ctx, "b")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.EqualValues(t, 1, levels[0].ActiveCount)
}

func TestOnDailyTick(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("b%d", i)
		f.join(t, id, "a")
		f.activate(t, id)
	}
	f.join(t, "idle", "a")

	// 22:30 in IST.
	day1 := time.Date(2026, 3, 14, 17, 0, 0, 0, time.UTC)
	report, err := f.e.OnDailyTick(f.ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", report.Day)
	assert.Equal(t, 6, report.Members)
	assert.Equal(t, 6, report.DailyCredits)
	assert.Equal(t, 1, report.TeamCredits)
	assert.True(t, report.TeamIncomeTotal.Equal(dec(5)))

	t.Run("rerun on the same day pays nothing", func(t *testing.T) {
		report, err := f.e.OnDailyTick(f.ctx, day1.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, report.DailyCredits)
		assert.Zero(t, report.TeamCredits)
	})

	t.Run("midnight in the payout zone starts a new day", func(t *testing.T) {
		// 00:30 IST on the 15th.
		report, err := f.e.OnDailyTick(f.ctx, day1.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "2026-03-15", report.Day)
		assert.Equal(t, 6, report.DailyCredits)
		assert.Equal(t, 1, report.TeamCredits)
	})

	w := f.wallet(t, "a")
	assert.True(t, w.DailyIncome.Equal(dec(10)))
	assert.True(t, w.DailyTeamIncome.Equal(dec(10)))
	assert.True(t, f.wallet(t, "idle").Balance.IsZero())
	f.requireBalanced(t, "a")
}

func TestWithdrawalRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("b%d", i)
		f.join(t, id, "a")
		f.activate(t, id)
	}

	before := f.wallet(t, "a").Balance
	require.True(t, before.GreaterThanOrEqual(dec(150)))

	w, err := f.e.OnWithdrawalRequested(f.ctx, "a", dec(150), "upi")
	require.NoError(t, err)
	assert.True(t, f.wallet(t, "a").Balance.Equal(before.Sub(dec(150))))

	_, err = f.e.OnWithdrawalRejected(f.ctx, w.ID, "invalid UPI id")
	require.NoError(t, err)
	assert.True(t, f.wallet(t, "a").Balance.Equal(before))

	refunds := f.txs(t, "a", models.TxRefund)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Amount.Equal(dec(150)))
	f.requireBalanced(t, "a")
}

func TestReconcileRepairsMissedActivations(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("b%d", i)
		f.join(t, id, "a")
		// Activation recorded but the commission event never ran.
		f.markActive(t, id)
	}
	assert.Empty(t, f.matrixTxs(t, "a", 1))

	results, err := f.e.Reconcile(f.ctx, "a")
	require.NoError(t, err)
	require.Len(t, results, 7)
	assert.EqualValues(t, 5, results[0].Count)
	assert.True(t, results[0].Completed)
	require.NotNil(t, results[0].Paid)
	assert.Len(t, f.matrixTxs(t, "a", 1), 1)

	_, err = f.e.Reconcile(f.ctx, "a")
	require.NoError(t, err)
	assert.Len(t, f.matrixTxs(t, "a", 1), 1)

	// Late commission events must not count the same members again.
	for i := 0; i < 5; i++ {
		require.NoError(t, f.e.OnMemberActivated(f.ctx, fmt.Sprintf("b%d", i)))
	}
	assert.Len(t, f.matrixTxs(t, "a", 1), 1)
	levels, err := f.store.MatrixLevels(f.ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, levels[0].ActiveCount)
	f.requireBalanced(t, "a")
}

// midReconcileStore runs hook once, right after the first ActiveChildren read
// has been taken and before its result reaches the caller.
type midReconcileStore struct {
	*memstore.Store
	mu   sync.Mutex
	hook func()
}

func (s *midReconcileStore) ActiveChildren(ctx context.Context, parentIDs []string) ([]models.Member, error) {
	out, err := s.Store.ActiveChildren(ctx, parentIDs)
	s.mu.Lock()
	hook := s.hook
	s.hook = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, err
}

func TestReconcileKeepsActivationPlacedMeanwhile(t *testing.T) {
	mem := memstore.New()
	racer := &midReconcileStore{Store: mem}
	f := newFixtureWithStore(t, mem, racer)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 5; i++ {
		f.join(t, fmt.Sprintf("b%d", i), "a")
	}
	for i := 0; i < 3; i++ {
		f.activate(t, fmt.Sprintf("b%d", i))
	}

	racer.hook = func() { f.activate(t, "b3") }
	results, err := f.e.Reconcile(f.ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 4, results[0].Count)
	assert.False(t, results[0].Completed)

	f.activate(t, "b4")

	levels, err := f.store.MatrixLevels(f.ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 5, levels[0].ActiveCount)
	assert.True(t, levels[0].Completed)
	assert.Len(t, f.matrixTxs(t, "a", 1), 1)
	f.requireBalanced(t, "a")
}

func TestOnDailyTickSkipsBlockedMembers(t *testing.T) {
	f := newFixture(t)
	f.join(t, "a", "")
	f.activate(t, "a")
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("b%d", i)
		f.join(t, id, "a")
		f.activate(t, id)
	}
	setBlocked := func(blocked bool) {
		require.NoError(t, f.mem.Update(f.ctx, "a", func(tx store.Tx) error {
			tx.Member().Blocked = blocked
			return tx.SaveMember()
		}))
	}
	setBlocked(true)
	before := f.wallet(t, "a").Balance

	day := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	report, err := f.e.OnDailyTick(f.ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 6, report.Members)
	assert.Equal(t, 1, report.Blocked)
	assert.Equal(t, 5, report.DailyCredits)
	assert.Zero(t, report.TeamCredits)
	assert.True(t, f.wallet(t, "a").Balance.Equal(before))
	assert.Nil(t, f.wallet(t, "a").LastDailyIncomeAt)

	t.Run("unblocking pays the same day", func(t *testing.T) {
		setBlocked(false)
		report, err := f.e.OnDailyTick(f.ctx, day.Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, report.Blocked)
		assert.Equal(t, 1, report.DailyCredits)
		assert.Equal(t, 1, report.TeamCredits)
		assert.True(t, f.wallet(t, "a").Balance.Equal(before.Add(dec(10))))
	})
	f.requireBalanced(t, "a")
}
