package rank

import (
	"context"
	"fmt"

	"mlm-network/internal/config"
	"mlm-network/internal/graph"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/metrics"
	"mlm-network/internal/models"
)

type Evaluator struct {
	graph      *graph.Graph
	ledger     *ledger.Ledger
	thresholds []config.RankThreshold
	log        *logging.Logger
}

func New(g *graph.Graph, l *ledger.Ledger, thresholds []config.RankThreshold, log *logging.Logger) *Evaluator {
	return &Evaluator{
		graph:      g,
		ledger:     l,
		thresholds: thresholds,
		log:        log.Named("rank"),
	}
}

// Evaluate awards every rank whose threshold the member's direct active
// referral count has reached and that was not awarded before, lowest first.
// The member's rank only ever moves up.
func (e *Evaluator) Evaluate(ctx context.Context, memberID string) ([]models.RankAchievement, error) {
	children, err := e.graph.DirectActiveChildren(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("direct referrals of %s: %w", memberID, err)
	}
	count := int64(len(children))

	var awarded []models.RankAchievement
	err = e.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		awarded = awarded[:0]
		m := p.Member()
		promoted := false

		for _, th := range e.thresholds {
			if count < th.Members {
				break
			}
			has, err := p.HasRank(th.Rank)
			if err != nil {
				return err
			}
			if has {
				continue
			}

			a := &models.RankAchievement{
				MemberID:   memberID,
				Rank:       th.Rank,
				Bonus:      th.Bonus,
				AchievedAt: e.ledger.Now(),
			}
			if err := p.AddRank(a); err != nil {
				return err
			}
			if _, err := p.Credit(ledger.Entry{
				Category:    models.CategoryRankRewards,
				Amount:      th.Bonus,
				DedupKey:    "rank_reward:" + string(th.Rank),
				Description: fmt.Sprintf("%s rank reward, %d direct active referrals", th.Rank, count),
			}); err != nil {
				return err
			}
			awarded = append(awarded, *a)

			if m.Rank.Below(th.Rank) {
				m.Rank = th.Rank
				promoted = true
			}
		}

		if promoted {
			return p.SaveMember()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, a := range awarded {
		metrics.RankPromotions.WithLabelValues(string(a.Rank)).Inc()
		e.log.Info("rank achieved",
			logging.MemberID(memberID),
			logging.String("rank", string(a.Rank)),
			logging.Amount(a.Bonus),
		)
	}
	return awarded, nil
}
