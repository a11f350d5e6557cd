// Package withdrawal reserves funds when a payout is requested and returns
// them if an admin rejects it.
package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

const (
	MethodUPI  = "upi"
	MethodBank = "bank"
)

var (
	ErrBelowMinimum  = errors.New("amount below minimum withdrawal")
	ErrInvalidMethod = errors.New("unsupported withdrawal method")
	ErrNotPending    = errors.New("withdrawal is not pending")
)

type Service struct {
	store   store.Store
	ledger  *ledger.Ledger
	minimum decimal.Decimal
	log     *logging.Logger
}

func New(s store.Store, l *ledger.Ledger, minimum decimal.Decimal, log *logging.Logger) *Service {
	return &Service{
		store:   s,
		ledger:  l,
		minimum: minimum,
		log:     log.Named("withdrawal"),
	}
}

// Request debits amount right away and records a pending withdrawal, so two
// concurrent requests can never spend the same balance.
func (s *Service) Request(ctx context.Context, memberID string, amount decimal.Decimal, method string) (*models.Withdrawal, error) {
	if !amount.IsPositive() || !models.FitsMoneyScale(amount) {
		return nil, fmt.Errorf("withdraw %s: %w", amount, ledger.ErrInvalidAmount)
	}
	if amount.LessThan(s.minimum) {
		return nil, fmt.Errorf("withdraw %s, minimum %s: %w", amount, s.minimum, ErrBelowMinimum)
	}
	if method != MethodUPI && method != MethodBank {
		return nil, fmt.Errorf("method %q: %w", method, ErrInvalidMethod)
	}

	w := &models.Withdrawal{
		ID:       uuid.NewString(),
		MemberID: memberID,
		Amount:   amount,
		Method:   method,
		Status:   models.WithdrawalPending,
	}
	err := s.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		if _, err := p.Debit(ledger.Entry{
			Type:        models.TxWithdrawal,
			Amount:      amount,
			DedupKey:    "withdrawal:" + w.ID,
			Description: fmt.Sprintf("Withdrawal request via %s", method),
		}); err != nil {
			return err
		}
		return p.SaveWithdrawal(w)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("withdrawal requested",
		logging.MemberID(memberID),
		logging.String("withdrawal-id", w.ID),
		logging.Amount(amount),
	)
	return w, nil
}

// Approve only marks the request paid; the funds left the balance on Request.
func (s *Service) Approve(ctx context.Context, withdrawalID, externalRef string) (*models.Withdrawal, error) {
	return s.process(ctx, withdrawalID, func(p *ledger.Posting, w *models.Withdrawal) error {
		w.Status = models.WithdrawalApproved
		w.ExternalRef = externalRef
		return nil
	})
}

// Reject refunds exactly the debited amount.
func (s *Service) Reject(ctx context.Context, withdrawalID, reason string) (*models.Withdrawal, error) {
	return s.process(ctx, withdrawalID, func(p *ledger.Posting, w *models.Withdrawal) error {
		if _, err := p.Refund(ledger.Entry{
			Amount:      w.Amount,
			DedupKey:    "refund:" + w.ID,
			Description: "Withdrawal rejected: " + reason,
		}); err != nil {
			return err
		}
		w.Status = models.WithdrawalRejected
		w.RejectionReason = reason
		return nil
	})
}

func (s *Service) process(ctx context.Context, withdrawalID string, fn func(p *ledger.Posting, w *models.Withdrawal) error) (*models.Withdrawal, error) {
	current, err := s.store.Withdrawal(ctx, withdrawalID)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s: %w", withdrawalID, err)
	}

	var out *models.Withdrawal
	err = s.ledger.Update(ctx, current.MemberID, func(p *ledger.Posting) error {
		w, err := p.Withdrawal(withdrawalID)
		if err != nil {
			return err
		}
		if w.Status != models.WithdrawalPending {
			return fmt.Errorf("withdrawal %s is %s: %w", w.ID, w.Status, ErrNotPending)
		}
		if err := fn(p, w); err != nil {
			return err
		}
		processed := s.ledger.Now()
		w.ProcessedAt = &processed
		out = w
		return p.SaveWithdrawal(w)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("withdrawal processed",
		logging.MemberID(out.MemberID),
		logging.String("withdrawal-id", out.ID),
		logging.String("status", out.Status),
	)
	return out, nil
}
