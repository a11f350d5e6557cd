// Package investment sells the fixed-term investment package and pays it out
// when it matures.
package investment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"mlm-network/internal/config"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/metrics"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

var ErrInactiveMember = errors.New("only active members can invest")

type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	price     decimal.Decimal
	payout    decimal.Decimal
	term      time.Duration
	batchSize int
	log       *logging.Logger
}

func New(s store.Store, l *ledger.Ledger, cfg config.Commission, batchSize int, log *logging.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Service{
		store:     s,
		ledger:    l,
		price:     cfg.InvestmentPrice,
		payout:    cfg.InvestmentReturn,
		term:      cfg.InvestmentTerm,
		batchSize: batchSize,
		log:       log.Named("investment"),
	}
}

// Purchase pays the package price from the member's balance and opens an
// investment maturing one term from now.
func (s *Service) Purchase(ctx context.Context, memberID string) (*models.Investment, error) {
	now := s.ledger.Now()
	inv := &models.Investment{
		ID:             uuid.NewString(),
		MemberID:       memberID,
		Amount:         s.price,
		ExpectedReturn: s.payout,
		Status:         models.InvestmentActive,
		StartedAt:      now,
		MaturesAt:      now.Add(s.term),
	}

	err := s.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		if !p.Member().IsActive {
			return ErrInactiveMember
		}
		if _, err := p.Debit(ledger.Entry{
			Type:        models.TxInvestmentPurchase,
			Amount:      s.price,
			DedupKey:    "investment_purchase:" + inv.ID,
			Description: "Investment package purchase",
		}); err != nil {
			return err
		}
		return p.SaveInvestment(inv)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("investment opened",
		logging.MemberID(memberID),
		logging.String("investment-id", inv.ID),
		logging.String("matures-at", inv.MaturesAt.Format(time.RFC3339)),
	)
	return inv, nil
}

// MatureDue credits the return of every active investment due at asOf. Each
// investment pays once; an interrupted run resumes where it stopped.
func (s *Service) MatureDue(ctx context.Context, asOf time.Time) (int, error) {
	timer := prometheus.NewTimer(metrics.BatchDuration.WithLabelValues("investment_maturity"))
	defer timer.ObserveDuration()

	var (
		matured int
		errs    []error
		after   string
	)
	for {
		due, err := s.store.DueInvestments(ctx, asOf, after, s.batchSize)
		if err != nil {
			return matured, fmt.Errorf("list due investments: %w", err)
		}
		if len(due) == 0 {
			break
		}

		for _, inv := range due {
			if err := ctx.Err(); err != nil {
				return matured, err
			}
			ok, err := s.mature(ctx, inv, asOf)
			if err != nil {
				s.log.Error("investment maturity failed",
					logging.MemberID(inv.MemberID),
					logging.String("investment-id", inv.ID),
					logging.Error(err),
				)
				errs = append(errs, fmt.Errorf("investment %s: %w", inv.ID, err))
				continue
			}
			if ok {
				matured++
			}
		}
		after = due[len(due)-1].ID
	}

	s.log.Info("investment maturity finished", logging.Int("matured", matured))
	return matured, errors.Join(errs...)
}

func (s *Service) mature(ctx context.Context, due models.Investment, asOf time.Time) (bool, error) {
	paid := false
	err := s.ledger.Update(ctx, due.MemberID, func(p *ledger.Posting) error {
		paid = false
		inv, err := p.Investment(due.ID)
		if err != nil {
			return err
		}
		if inv.Status != models.InvestmentActive || inv.MaturesAt.After(asOf) {
			return nil
		}

		key := "investment_return:" + inv.ID
		done, err := p.HasTransaction(key)
		if err != nil {
			return err
		}
		if !done {
			if _, err := p.Credit(ledger.Entry{
				Category:    models.CategoryInvestmentIncome,
				Amount:      inv.ExpectedReturn,
				DedupKey:    key,
				Description: fmt.Sprintf("Investment %s matured", inv.ID),
			}); err != nil {
				return err
			}
			paid = true
		}

		maturedAt := asOf
		inv.Status = models.InvestmentMatured
		inv.MaturedAt = &maturedAt
		return p.SaveInvestment(inv)
	})
	return paid, err
}
