package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-network/internal/logging"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
	"mlm-network/internal/store/memstore"
)

type recordingNotifier struct {
	mu   sync.Mutex
	seen []models.Transaction
}

func (n *recordingNotifier) Posted(_ context.Context, _ models.Member, t models.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, t)
	return nil
}

func newLedger(t *testing.T, opts ...Option) (*Ledger, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.CreateMember(context.Background(), &models.Member{ID: "m1", IsActive: true}))
	opts = append([]Option{WithRetry(5, time.Millisecond)}, opts...)
	return New(s, logging.NewTestLogger(), opts...), s
}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func requireConsistent(t *testing.T, s store.Store, memberID string) *models.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := s.Wallet(ctx, memberID)
	require.NoError(t, err)
	txs, err := s.Transactions(ctx, memberID)
	require.NoError(t, err)

	sum := decimal.Zero
	for _, tr := range txs {
		sum = sum.Add(tr.Amount)
	}
	assert.True(t, sum.Equal(w.Balance), "sum of transactions %s != balance %s", sum, w.Balance)
	assert.True(t, w.EarningsSum().Equal(w.TotalEarnings), "counters %s != total %s", w.EarningsSum(), w.TotalEarnings)
	assert.True(t, w.Balance.Equal(w.TotalEarnings.Sub(w.WithdrawnAmount)))
	return w
}

func TestCredit(t *testing.T) {
	ctx := context.Background()

	t.Run("updates balance, counter and total together", func(t *testing.T) {
		l, s := newLedger(t)
		tr, err := l.Credit(ctx, "m1", Entry{Category: models.CategoryDirectIncome, Amount: d(20), SourceMemberID: "m2", DedupKey: "direct_income:m2"})
		require.NoError(t, err)
		assert.Equal(t, models.TxDirectIncome, tr.Type)
		assert.True(t, tr.BalanceAfter.Equal(d(20)))
		require.NotNil(t, tr.SourceMemberID)
		assert.Equal(t, "m2", *tr.SourceMemberID)

		w := requireConsistent(t, s, "m1")
		assert.True(t, w.DirectIncome.Equal(d(20)))
		assert.True(t, w.TotalEarnings.Equal(d(20)))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		l, s := newLedger(t)
		for _, amt := range []decimal.Decimal{decimal.Zero, d(-5)} {
			_, err := l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: amt})
			require.ErrorIs(t, err, ErrInvalidAmount)
		}
		txs, err := s.Transactions(ctx, "m1")
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("rejects amounts finer than two decimal places", func(t *testing.T) {
		l, s := newLedger(t)
		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: d(1000)})
		require.NoError(t, err)

		sub := decimal.RequireFromString("150.555")
		_, err = l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: sub})
		require.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.Debit(ctx, "m1", Entry{Amount: sub})
		require.ErrorIs(t, err, ErrInvalidAmount)
		_, err = l.Refund(ctx, "m1", Entry{Amount: sub})
		require.ErrorIs(t, err, ErrInvalidAmount)

		// Trailing zeros are not extra precision.
		_, err = l.Debit(ctx, "m1", Entry{Amount: decimal.RequireFromString("150.550")})
		require.NoError(t, err)

		w := requireConsistent(t, s, "m1")
		assert.Equal(t, "849.45", w.Balance.StringFixed(2))
		txs, err := s.Transactions(ctx, "m1")
		require.NoError(t, err)
		for _, tr := range txs {
			assert.True(t, models.FitsMoneyScale(tr.Amount), tr.Amount.String())
		}
	})

	t.Run("rejects unknown categories", func(t *testing.T) {
		l, _ := newLedger(t)
		_, err := l.Credit(ctx, "m1", Entry{Category: "bogus", Amount: d(1)})
		require.ErrorIs(t, err, ErrUnknownCategory)
	})

	t.Run("dedup key pays once", func(t *testing.T) {
		l, s := newLedger(t)
		e := Entry{Category: models.CategorySelfIncome, Amount: d(10), DedupKey: "self_income"}
		_, err := l.Credit(ctx, "m1", e)
		require.NoError(t, err)
		_, err = l.Credit(ctx, "m1", e)
		require.ErrorIs(t, err, store.ErrDuplicate)

		w := requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.Equal(d(10)))
	})

	t.Run("unknown member", func(t *testing.T) {
		l, _ := newLedger(t)
		_, err := l.Credit(ctx, "ghost", Entry{Category: models.CategorySelfIncome, Amount: d(10)})
		require.ErrorIs(t, err, store.ErrMemberNotFound)
	})
}

func TestDebitAndRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient balance leaves wallet untouched", func(t *testing.T) {
		l, s := newLedger(t)
		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategoryDailyIncome, Amount: d(100)})
		require.NoError(t, err)

		_, err = l.Debit(ctx, "m1", Entry{Amount: d(101)})
		require.ErrorIs(t, err, ErrInsufficientBalance)
		w := requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.Equal(d(100)))
	})

	t.Run("refund restores the exact pre-debit balance", func(t *testing.T) {
		l, s := newLedger(t)
		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategoryRankRewards, Amount: decimal.RequireFromString("500.50")})
		require.NoError(t, err)
		before := requireConsistent(t, s, "m1").Balance

		debit, err := l.Debit(ctx, "m1", Entry{Amount: d(200), DedupKey: "withdrawal:w1"})
		require.NoError(t, err)
		assert.True(t, debit.Amount.Equal(d(-200)))
		assert.Equal(t, models.TxWithdrawal, debit.Type)
		w := requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.Equal(before.Sub(d(200))))

		_, err = l.Refund(ctx, "m1", Entry{Amount: d(200), DedupKey: "refund:w1"})
		require.NoError(t, err)
		w = requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.Equal(before))
		assert.True(t, w.WithdrawnAmount.IsZero())
		assert.True(t, w.TotalEarnings.Equal(before), "refund must not count as earnings")
	})

	t.Run("refund cannot exceed what was debited", func(t *testing.T) {
		l, _ := newLedger(t)
		_, err := l.Refund(ctx, "m1", Entry{Amount: d(1)})
		require.ErrorIs(t, err, ErrRefundExceedsDebits)
	})

	t.Run("concurrent debits never overdraw", func(t *testing.T) {
		l, s := newLedger(t)
		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategoryDailyIncome, Amount: d(1000)})
		require.NoError(t, err)

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := l.Debit(ctx, "m1", Entry{Amount: d(150)}); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 6, ok)
		w := requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.Equal(d(100)))
	})
}

func TestConcurrentCreditsDoNotLoseUpdates(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Credit(ctx, "m1", Entry{Category: models.CategoryDailyTeamIncome, Amount: d(3)})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	w := requireConsistent(t, s, "m1")
	assert.True(t, w.Balance.Equal(d(150)))
	assert.True(t, w.DailyTeamIncome.Equal(d(150)))
}

func TestUpdateRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent modification is retried", func(t *testing.T) {
		l, s := newLedger(t)
		s.InjectFault("m1", 3, store.ErrConcurrentModification)

		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: d(10)})
		require.NoError(t, err)
		w := requireConsistent(t, s, "m1")
		assert.True(t, w.SelfIncome.Equal(d(10)))
	})

	t.Run("retries are bounded", func(t *testing.T) {
		l, s := newLedger(t, WithRetry(2, time.Millisecond))
		s.InjectFault("m1", 10, store.ErrConcurrentModification)

		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: d(10)})
		require.ErrorIs(t, err, store.ErrConcurrentModification)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		l, s := newLedger(t)
		boom := errors.New("boom")
		s.InjectFault("m1", 1, boom)

		_, err := l.Credit(ctx, "m1", Entry{Category: models.CategorySelfIncome, Amount: d(10)})
		require.ErrorIs(t, err, boom)

		w := requireConsistent(t, s, "m1")
		assert.True(t, w.Balance.IsZero())
	})
}

func TestNotifierSeesOnlyCommittedTransactions(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	l, _ := newLedger(t, WithNotifier(n))

	err := l.Update(ctx, "m1", func(p *Posting) error {
		if _, err := p.Credit(Entry{Category: models.CategorySelfIncome, Amount: d(10)}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Empty(t, n.seen)

	err = l.Update(ctx, "m1", func(p *Posting) error {
		if _, err := p.Credit(Entry{Category: models.CategorySelfIncome, Amount: d(10)}); err != nil {
			return err
		}
		_, err := p.Credit(Entry{Category: models.CategoryDailyIncome, Amount: d(5)})
		return err
	})
	require.NoError(t, err)
	require.Len(t, n.seen, 2)
	assert.True(t, n.seen[1].BalanceAfter.Equal(d(15)))
}
