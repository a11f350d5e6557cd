package rank

import (
	"context"
	"fmt"
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

func setup(t *testing.T, thresholds string) (*Evaluator, *memstore.Store) {
	t.Helper()
	s := memstore.New()
	require.NoError(t, s.CreateMember(context.Background(), &models.Member{ID: "sponsor", IsActive: true}))

	table, err := config.ParseRankTable(thresholds)
	require.NoError(t, err)
	g, err := graph.New(s, 0)
	require.NoError(t, err)
	l := ledger.New(s, logging.NewTestLogger(), ledger.WithRetry(3, time.Millisecond))
	return New(g, l, table, logging.NewTestLogger()), s
}

func addReferrals(t *testing.T, s *memstore.Store, from, n int) {
	t.Helper()
	sponsor := "sponsor"
	for i := from; i < from+n; i++ {
		require.NoError(t, s.CreateMember(context.Background(), &models.Member{
			ID:         fmt.Sprintf("r%03d", i),
			ReferrerID: &sponsor,
			IsActive:   true,
		}))
	}
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t, "Bronze:2:500,Silver:4:1000,Gold:6:2500")

	t.Run("below first threshold", func(t *testing.T) {
		addReferrals(t, s, 0, 1)
		awarded, err := e.Evaluate(ctx, "sponsor")
		require.NoError(t, err)
		assert.Empty(t, awarded)
		m, err := s.Member(ctx, "sponsor")
		require.NoError(t, err)
		assert.Equal(t, models.RankNewcomer, m.Rank)
	})

	t.Run("jumping several thresholds pays every one in order", func(t *testing.T) {
		addReferrals(t, s, 1, 4)
		awarded, err := e.Evaluate(ctx, "sponsor")
		require.NoError(t, err)
		require.Len(t, awarded, 2)
		assert.Equal(t, models.RankBronze, awarded[0].Rank)
		assert.Equal(t, models.RankSilver, awarded[1].Rank)

		m, err := s.Member(ctx, "sponsor")
		require.NoError(t, err)
		assert.Equal(t, models.RankSilver, m.Rank)

		w, err := s.Wallet(ctx, "sponsor")
		require.NoError(t, err)
		assert.True(t, w.RankRewards.Equal(decimal.NewFromInt(1500)))
	})

	t.Run("re-evaluation awards nothing twice", func(t *testing.T) {
		awarded, err := e.Evaluate(ctx, "sponsor")
		require.NoError(t, err)
		assert.Empty(t, awarded)

		achievements, err := s.RankAchievements(ctx, "sponsor")
		require.NoError(t, err)
		assert.Len(t, achievements, 2)
	})
}

func TestEvaluateNeverDowngrades(t *testing.T) {
	ctx := context.Background()
	e, s := setup(t, "Bronze:1:500")
	addReferrals(t, s, 0, 1)

	require.NoError(t, s.Update(ctx, "sponsor", func(tx store.Tx) error {
		tx.Member().Rank = models.RankGold
		return tx.SaveMember()
	}))

	awarded, err := e.Evaluate(ctx, "sponsor")
	require.NoError(t, err)
	require.Len(t, awarded, 1)

	m, err := s.Member(ctx, "sponsor")
	require.NoError(t, err)
	assert.Equal(t, models.RankGold, m.Rank)
}
