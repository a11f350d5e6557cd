// Package ledger is the only code allowed to move money in a member's wallet.
// Every credit, debit and refund appends a Transaction and updates the wallet
// counters inside the same store.Update, so no reader ever sees half of it.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mlm-network/internal/logging"
	"mlm-network/internal/metrics"
	"mlm-network/internal/models"
	"mlm-network/internal/store"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownCategory     = errors.New("unknown earnings category")
	ErrRefundExceedsDebits = errors.New("refund exceeds withdrawn amount")
)

// Notifier hears about transactions after they are committed.
type Notifier interface {
	Posted(ctx context.Context, member models.Member, t models.Transaction) error
}

// Entry describes one ledger movement. Amount is always given as a positive
// number; Debit stores it negated.
type Entry struct {
	Category       models.Category
	Type           models.TxType
	Amount         decimal.Decimal
	DedupKey       string
	SourceMemberID string
	Level          int
	Description    string
}

type Ledger struct {
	store      store.Store
	log        *logging.Logger
	notifier   Notifier
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetry bounds how often an update hitting store.ErrConcurrentModification is retried.
func WithRetry(maxRetries uint64, initialInterval time.Duration) Option {
	return func(l *Ledger) {
		l.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initialInterval
			b.MaxElapsedTime = 0
			return backoff.WithMaxRetries(b, maxRetries)
		}
	}
}

func New(s store.Store, log *logging.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		log:   log.Named("ledger"),
		now:   time.Now,
	}
	WithRetry(5, 50*time.Millisecond)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Now() time.Time {
	return l.now()
}

// Update runs fn with the member locked. fn is retried from scratch while the
// store reports a concurrent modification; any other error aborts at once.
// Transactions posted through p are published only after the update commits.
func (l *Ledger) Update(ctx context.Context, memberID string, fn func(p *Posting) error) error {
	var (
		posted []models.Transaction
		member models.Member
	)

	op := func() error {
		err := l.store.Update(ctx, memberID, func(tx store.Tx) error {
			p := &Posting{Tx: tx, l: l}
			if err := fn(p); err != nil {
				return err
			}
			posted = p.posted
			member = *tx.Member()
			return nil
		})
		if err == nil || errors.Is(err, store.ErrConcurrentModification) {
			return err
		}
		return backoff.Permanent(err)
	}

	notify := func(err error, wait time.Duration) {
		metrics.Retries.Inc()
		l.log.Warn("retrying member update",
			logging.MemberID(memberID),
			logging.Error(err),
			logging.String("wait", wait.String()),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(l.newBackOff(), ctx), notify); err != nil {
		return err
	}
	l.publish(ctx, member, posted)
	return nil
}

// Credit pays amount into the member's wallet under e.Category.
func (l *Ledger) Credit(ctx context.Context, memberID string, e Entry) (*models.Transaction, error) {
	var t *models.Transaction
	err := l.Update(ctx, memberID, func(p *Posting) error {
		var err error
		t, err = p.Credit(e)
		return err
	})
	return t, err
}

func (l *Ledger) Debit(ctx context.Context, memberID string, e Entry) (*models.Transaction, error) {
	var t *models.Transaction
	err := l.Update(ctx, memberID, func(p *Posting) error {
		var err error
		t, err = p.Debit(e)
		return err
	})
	return t, err
}

func (l *Ledger) Refund(ctx context.Context, memberID string, e Entry) (*models.Transaction, error) {
	var t *models.Transaction
	err := l.Update(ctx, memberID, func(p *Posting) error {
		var err error
		t, err = p.Refund(e)
		return err
	})
	return t, err
}

func (l *Ledger) publish(ctx context.Context, member models.Member, posted []models.Transaction) {
	for _, t := range posted {
		if t.Amount.IsNegative() {
			metrics.DebitsTotal.WithLabelValues(string(t.Type)).Inc()
		} else {
			metrics.CreditsTotal.WithLabelValues(string(t.Type)).Inc()
			metrics.CreditedAmount.WithLabelValues(string(t.Type)).Add(t.Amount.InexactFloat64())
		}

		l.log.Debug("transaction posted",
			logging.MemberID(t.MemberID),
			logging.String("type", string(t.Type)),
			logging.Amount(t.Amount),
			logging.Decimal("balance-after", t.BalanceAfter),
		)

		if l.notifier == nil {
			continue
		}
		if err := l.notifier.Posted(ctx, member, t); err != nil {
			l.log.Warn("notification failed", logging.MemberID(t.MemberID), logging.Error(err))
		}
	}
}

// Posting is a store.Tx that can also move money. It is only valid inside Ledger.Update.
type Posting struct {
	store.Tx
	l      *Ledger
	posted []models.Transaction
}

// Credit appends a positive transaction and bumps the balance, the category
// counter and the total earnings together.
func (p *Posting) Credit(e Entry) (*models.Transaction, error) {
	if err := checkAmount("credit", e.Amount); err != nil {
		return nil, err
	}
	txType, ok := models.CategoryTx[e.Category]
	if !ok {
		return nil, fmt.Errorf("credit %q: %w", e.Category, ErrUnknownCategory)
	}

	w := p.Wallet()
	counter, _ := w.Counter(e.Category)

	t, err := p.append(txType, e.Amount, e)
	if err != nil {
		return nil, err
	}

	*counter = counter.Add(e.Amount)
	w.TotalEarnings = w.TotalEarnings.Add(e.Amount)
	return t, p.SaveWallet()
}

// Debit takes amount out of the balance. It never lets the balance go negative.
func (p *Posting) Debit(e Entry) (*models.Transaction, error) {
	if err := checkAmount("debit", e.Amount); err != nil {
		return nil, err
	}
	w := p.Wallet()
	if w.Balance.LessThan(e.Amount) {
		return nil, fmt.Errorf("debit %s from balance %s: %w", e.Amount, w.Balance, ErrInsufficientBalance)
	}
	if e.Type == "" {
		e.Type = models.TxWithdrawal
	}

	t, err := p.append(e.Type, e.Amount.Neg(), e)
	if err != nil {
		return nil, err
	}

	w.WithdrawnAmount = w.WithdrawnAmount.Add(e.Amount)
	return t, p.SaveWallet()
}

// Refund returns previously debited funds. Earnings counters are left alone.
func (p *Posting) Refund(e Entry) (*models.Transaction, error) {
	if err := checkAmount("refund", e.Amount); err != nil {
		return nil, err
	}
	w := p.Wallet()
	if w.WithdrawnAmount.LessThan(e.Amount) {
		return nil, fmt.Errorf("refund %s of %s withdrawn: %w", e.Amount, w.WithdrawnAmount, ErrRefundExceedsDebits)
	}

	t, err := p.append(models.TxRefund, e.Amount, e)
	if err != nil {
		return nil, err
	}

	w.WithdrawnAmount = w.WithdrawnAmount.Sub(e.Amount)
	return t, p.SaveWallet()
}

// checkAmount accepts positive amounts with at most two decimal places.
func checkAmount(op string, amount decimal.Decimal) error {
	if !amount.IsPositive() || !models.FitsMoneyScale(amount) {
		return fmt.Errorf("%s %s: %w", op, amount, ErrInvalidAmount)
	}
	return nil
}

// Posted returns the transactions appended so far in this update.
func (p *Posting) Posted() []models.Transaction {
	return p.posted
}

func (p *Posting) append(txType models.TxType, signed decimal.Decimal, e Entry) (*models.Transaction, error) {
	w := p.Wallet()
	t := &models.Transaction{
		ID:           uuid.NewString(),
		MemberID:     w.MemberID,
		Type:         txType,
		Amount:       signed,
		BalanceAfter: w.Balance.Add(signed),
		Description:  e.Description,
		CreatedAt:    p.l.now(),
	}
	if e.DedupKey != "" {
		key := e.DedupKey
		t.DedupKey = &key
	}
	if e.SourceMemberID != "" {
		src := e.SourceMemberID
		t.SourceMemberID = &src
	}
	if e.Level > 0 {
		lvl := e.Level
		t.Level = &lvl
	}

	if err := p.AppendTransaction(t); err != nil {
		return nil, err
	}
	w.Balance = t.BalanceAfter
	p.posted = append(p.posted, *t)
	return t, nil
}
