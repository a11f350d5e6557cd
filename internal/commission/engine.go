// Package commission distributes activation, daily and matrix income across
// the referral tree. Every step is guarded by a per-member dedup key or flag,
// so any entry point can be re-run after a partial failure without paying twice.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"mlm-network/internal/config"
	"mlm-network/internal/graph"
	"mlm-network/internal/ledger"
	"mlm-network/internal/logging"
	"mlm-network/internal/matrix"
	"mlm-network/internal/metrics"
	"mlm-network/internal/models"
	"mlm-network/internal/rank"
	"mlm-network/internal/store"
	"mlm-network/internal/withdrawal"
)

var ErrMemberInactive = errors.New("member is not active")

type Engine struct {
	cfg         config.Commission
	store       store.Store
	graph       *graph.Graph
	ledger      *ledger.Ledger
	matrix      *matrix.Tracker
	ranks       *rank.Evaluator
	withdrawals *withdrawal.Service
	log         *logging.Logger

	loc       *time.Location
	batchSize int
}

type Option func(*Engine)

// WithLocation sets the time zone that decides where one payout day ends.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

func NewEngine(cfg config.Commission, s store.Store, g *graph.Graph, l *ledger.Ledger, log *logging.Logger, opts ...Option) *Engine {
	log = log.Named("commission")
	e := &Engine{
		cfg:         cfg,
		store:       s,
		graph:       g,
		ledger:      l,
		matrix:      matrix.New(cfg),
		ranks:       rank.New(g, l, cfg.Ranks, log),
		withdrawals: withdrawal.New(s, l, cfg.MinWithdrawal, log),
		log:         log,
		loc:         time.UTC,
		batchSize:   500,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Matrix() *matrix.Tracker {
	return e.matrix
}

func (e *Engine) Withdrawals() *withdrawal.Service {
	return e.withdrawals
}

// OnMemberActivated pays everything owed for memberID becoming active: self
// income, the referrer's direct income, matrix income up the upline, and the
// referrer's rank rewards. It is safe to call any number of times.
//
// A self-income failure is returned at once. Failures of the later steps are
// joined and returned after every step has been attempted. Missing upline
// members are logged and skipped.
func (e *Engine) OnMemberActivated(ctx context.Context, memberID string) error {
	member, err := e.store.Member(ctx, memberID)
	if err != nil {
		return fmt.Errorf("activate %s: %w", memberID, err)
	}
	if !member.IsActive {
		return fmt.Errorf("activate %s: %w", memberID, ErrMemberInactive)
	}

	log := e.log.With(logging.MemberID(memberID))

	if err := e.creditSelf(ctx, memberID); err != nil {
		log.Error("self income failed", logging.Error(err))
		return fmt.Errorf("self income for %s: %w", memberID, err)
	}

	var errs []error
	referrerID := ""
	if member.HasReferrer() {
		referrerID = *member.ReferrerID
	}

	if referrerID != "" {
		if err := e.creditDirect(ctx, referrerID, memberID); err != nil {
			errs = append(errs, e.stepFailed(log, "direct income", referrerID, err))
		}
	}

	if err := e.distributeMatrix(ctx, log, memberID); err != nil {
		errs = append(errs, err)
	}

	if referrerID != "" {
		if _, err := e.ranks.Evaluate(ctx, referrerID); err != nil {
			errs = append(errs, e.stepFailed(log, "rank evaluation", referrerID, err))
		}
	}

	return errors.Join(errs...)
}

// stepFailed swallows a missing upline member and returns every other error.
func (e *Engine) stepFailed(log *logging.Logger, step, target string, err error) error {
	if errors.Is(err, store.ErrMemberNotFound) {
		metrics.SkippedHops.Inc()
		log.Warn("upline member missing, skipping",
			logging.String("step", step),
			logging.String("target", target),
		)
		return nil
	}
	log.Error("commission step failed",
		logging.String("step", step),
		logging.String("target", target),
		logging.Error(err),
	)
	return fmt.Errorf("%s for %s: %w", step, target, err)
}

func (e *Engine) creditSelf(ctx context.Context, memberID string) error {
	return e.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		return creditOnce(p, ledger.Entry{
			Category:    models.CategorySelfIncome,
			Amount:      e.cfg.SelfBonus,
			DedupKey:    "self_income",
			Description: "Self activation income",
		})
	})
}

// creditDirect pays the referrer only while the referrer is active.
func (e *Engine) creditDirect(ctx context.Context, referrerID, sourceID string) error {
	return e.ledger.Update(ctx, referrerID, func(p *ledger.Posting) error {
		if !p.Member().IsActive {
			return nil
		}
		return creditOnce(p, ledger.Entry{
			Category:       models.CategoryDirectIncome,
			Amount:         e.cfg.DirectBonus,
			DedupKey:       "direct_income:" + sourceID,
			SourceMemberID: sourceID,
			Description:    "Direct referral income",
		})
	})
}

// distributeMatrix counts memberID into the matching level of each upline
// member, paying the level reward where that fills it.
func (e *Engine) distributeMatrix(ctx context.Context, log *logging.Logger, memberID string) error {
	hops, err := e.graph.UplineChain(ctx, memberID, e.matrix.Depth())
	if err != nil {
		if !errors.Is(err, store.ErrMemberNotFound) && !errors.Is(err, graph.ErrCycle) {
			return e.stepFailed(log, "matrix income", memberID, err)
		}
		log.Warn("upline chain cut short", logging.Error(err), logging.Int("hops", len(hops)))
	}

	var errs []error
	now := e.ledger.Now()
	for _, hop := range hops {
		var res matrix.Result
		err := e.ledger.Update(ctx, hop.MemberID, func(p *ledger.Posting) error {
			var err error
			res, err = e.matrix.Place(p, memberID, hop.Depth, now)
			return err
		})
		if err != nil {
			if err := e.stepFailed(log, "matrix income", hop.MemberID, err); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if res.Paid != nil {
			log.Info("matrix level completed",
				logging.String("upline-id", hop.MemberID),
				logging.Level(hop.Depth),
				logging.Amount(res.Paid.Amount),
			)
		}
	}
	return errors.Join(errs...)
}

// creditOnce skips the credit when its dedup key was already paid.
func creditOnce(p *ledger.Posting, entry ledger.Entry) error {
	paid, err := p.HasTransaction(entry.DedupKey)
	if err != nil || paid {
		return err
	}
	_, err = p.Credit(entry)
	return err
}

// DailyReport summarizes one OnDailyTick run.
type DailyReport struct {
	Day             string
	Members         int
	DailyCredits    int
	TeamCredits     int
	TeamIncomeTotal decimal.Decimal
	Blocked         int
	Failed          int
}

// OnDailyTick pays the fixed daily income and the daily team income of every
// full matrix level to each active, unblocked member not yet paid for the
// current day.
// An interrupted run can simply be started again.
func (e *Engine) OnDailyTick(ctx context.Context, now time.Time) (DailyReport, error) {
	timer := prometheus.NewTimer(metrics.BatchDuration.WithLabelValues("daily_tick"))
	defer timer.ObserveDuration()

	day := now.In(e.loc)
	report := DailyReport{Day: day.Format(matrix.DayLayout), TeamIncomeTotal: decimal.Zero}
	var errs []error

	after := ""
	for {
		ids, err := e.store.ActiveMemberIDs(ctx, after, e.batchSize)
		if err != nil {
			return report, fmt.Errorf("list active members after %q: %w", after, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.Members++

			res, err := e.creditDay(ctx, id, day)
			if err != nil {
				report.Failed++
				e.log.Error("daily credit failed", logging.MemberID(id), logging.Error(err))
				errs = append(errs, fmt.Errorf("daily credit for %s: %w", id, err))
				continue
			}
			if res.blocked {
				report.Blocked++
				continue
			}
			if res.daily {
				report.DailyCredits++
			}
			report.TeamCredits += len(res.team)
			for _, t := range res.team {
				report.TeamIncomeTotal = report.TeamIncomeTotal.Add(t.Amount)
			}
		}
		after = ids[len(ids)-1]
	}

	e.log.Info("daily tick finished",
		logging.String("day", report.Day),
		logging.Int("members", report.Members),
		logging.Int("daily-credits", report.DailyCredits),
		logging.Int("team-credits", report.TeamCredits),
		logging.Int("blocked", report.Blocked),
		logging.Int("failed", report.Failed),
	)
	return report, errors.Join(errs...)
}

// dayCredit is what creditDay did for one member.
type dayCredit struct {
	blocked bool
	daily   bool
	team    []models.Transaction
}

func (e *Engine) creditDay(ctx context.Context, memberID string, day time.Time) (dayCredit, error) {
	var res dayCredit
	stamp := day.Format(matrix.DayLayout)

	err := e.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		res = dayCredit{}
		m := p.Member()
		if !m.IsActive {
			return nil
		}
		if m.Blocked {
			res.blocked = true
			return nil
		}

		w := p.Wallet()
		if w.LastDailyIncomeAt == nil || w.LastDailyIncomeAt.In(e.loc).Format(matrix.DayLayout) != stamp {
			key := "daily_income:" + stamp
			paid, err := p.HasTransaction(key)
			if err != nil {
				return err
			}
			if !paid {
				if _, err := p.Credit(ledger.Entry{
					Category:    models.CategoryDailyIncome,
					Amount:      e.cfg.DailyIncome,
					DedupKey:    key,
					Description: "Daily income",
				}); err != nil {
					return err
				}
				res.daily = true
			}
			marked := day
			w.LastDailyIncomeAt = &marked
			if err := p.SaveWallet(); err != nil {
				return err
			}
		}

		var err error
		res.team, err = e.matrix.CreditDaily(p, day)
		return err
	})
	return res, err
}

// OnWithdrawalRequested debits amount immediately and records a pending request.
func (e *Engine) OnWithdrawalRequested(ctx context.Context, memberID string, amount decimal.Decimal, method string) (*models.Withdrawal, error) {
	return e.withdrawals.Request(ctx, memberID, amount, method)
}

// OnWithdrawalRejected refunds the amount recorded on the request.
func (e *Engine) OnWithdrawalRejected(ctx context.Context, withdrawalID, reason string) (*models.Withdrawal, error) {
	return e.withdrawals.Reject(ctx, withdrawalID, reason)
}

// Reconcile recomputes every matrix counter of memberID from the referral
// graph, overwrites drifted counters, pays levels the corrected counts fill,
// and re-runs the rank evaluation.
func (e *Engine) Reconcile(ctx context.Context, memberID string) ([]matrix.Result, error) {
	descendants := make([][]string, e.matrix.Depth())
	for level := 1; level <= e.matrix.Depth(); level++ {
		ids, err := e.graph.ActiveDescendantsAtDepth(ctx, memberID, level)
		if err != nil {
			return nil, fmt.Errorf("descendants at level %d of %s: %w", level, memberID, err)
		}
		descendants[level-1] = ids
	}

	var results []matrix.Result
	now := e.ledger.Now()
	err := e.ledger.Update(ctx, memberID, func(p *ledger.Posting) error {
		results = results[:0]
		for level := 1; level <= e.matrix.Depth(); level++ {
			res, err := e.matrix.Resync(p, level, descendants[level-1], now)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := e.ranks.Evaluate(ctx, memberID); err != nil {
		return results, fmt.Errorf("rank evaluation for %s: %w", memberID, err)
	}
	return results, nil
}
