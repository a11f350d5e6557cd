// Package matrix keeps the per-level active-descendant counters of a member
// and pays each level's reward exactly once, when the level first fills.
package matrix

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"mlm-network/internal/config"
	"mlm-network/internal/ledger"
	"mlm-network/internal/metrics"
	"mlm-network/internal/models"
)

// DayLayout formats the calendar day used in daily dedup keys.
const DayLayout = "2006-01-02"

type Tracker struct {
	capacity []int64
	rewards  []decimal.Decimal
}

// Result reports what a single placement or resync did to one level.
type Result struct {
	Level     int
	Counted   bool
	Count     int64
	Completed bool
	Paid      *models.Transaction
}

func New(c config.Commission) *Tracker {
	t := &Tracker{
		capacity: make([]int64, c.MatrixDepth),
		rewards:  append([]decimal.Decimal(nil), c.MatrixRewards...),
	}
	capacity := int64(1)
	for i := range t.capacity {
		capacity *= c.MatrixWidth
		t.capacity[i] = capacity
	}
	return t
}

func (t *Tracker) Depth() int {
	return len(t.capacity)
}

// Capacity is width^level. Levels are 1-based.
func (t *Tracker) Capacity(level int) int64 {
	return t.capacity[level-1]
}

func (t *Tracker) Reward(level int) decimal.Decimal {
	return t.rewards[level-1]
}

func (t *Tracker) checkLevel(level int) error {
	if level < 1 || level > t.Depth() {
		return fmt.Errorf("matrix level %d out of range 1..%d", level, t.Depth())
	}
	return nil
}

// Place counts descendantID into the locked member's level. A descendant is
// counted at most once per ancestor, so replays leave the counter alone.
func (t *Tracker) Place(p *ledger.Posting, descendantID string, level int, now time.Time) (Result, error) {
	if err := t.checkLevel(level); err != nil {
		return Result{}, err
	}

	lvl, err := p.MatrixLevel(level)
	if err != nil {
		return Result{}, err
	}

	added, err := p.AddPlacement(descendantID, level)
	if err != nil {
		return Result{}, err
	}
	res := Result{Level: level, Counted: added}
	if added {
		lvl.ActiveCount++
	}

	wasCompleted := lvl.Completed
	paid, err := t.complete(p, lvl, descendantID, now)
	if err != nil {
		return Result{}, err
	}
	if added || lvl.Completed != wasCompleted {
		if err := p.SaveMatrixLevel(lvl); err != nil {
			return Result{}, err
		}
	}

	res.Count = lvl.ActiveCount
	res.Completed = lvl.Completed
	res.Paid = paid
	return res, nil
}

// Resync records a placement for each of the given descendants, read from the
// referral graph, then rebuilds the counter of level from the stored
// placements. Counting happens under the member lock, so an activation placed
// after descendantIDs was read is never lost. It pays the level if the
// corrected count fills it.
func (t *Tracker) Resync(p *ledger.Posting, level int, descendantIDs []string, now time.Time) (Result, error) {
	if err := t.checkLevel(level); err != nil {
		return Result{}, err
	}

	lvl, err := p.MatrixLevel(level)
	if err != nil {
		return Result{}, err
	}

	added := 0
	for _, id := range descendantIDs {
		ok, err := p.AddPlacement(id, level)
		if err != nil {
			return Result{}, err
		}
		if ok {
			added++
		}
	}

	count, err := p.PlacementCount(level)
	if err != nil {
		return Result{}, err
	}
	wasCompleted := lvl.Completed
	changed := lvl.ActiveCount != count
	lvl.ActiveCount = count

	paid, err := t.complete(p, lvl, "", now)
	if err != nil {
		return Result{}, err
	}
	if changed || lvl.Completed != wasCompleted {
		if err := p.SaveMatrixLevel(lvl); err != nil {
			return Result{}, err
		}
	}
	return Result{Level: level, Counted: added > 0, Count: count, Completed: lvl.Completed, Paid: paid}, nil
}

// complete flips Completed and credits the reward in the same locked update.
// The dedup key makes a second matrix_income for the level impossible even if
// the flag were lost.
func (t *Tracker) complete(p *ledger.Posting, lvl *models.MatrixLevel, sourceID string, now time.Time) (*models.Transaction, error) {
	if lvl.Completed || lvl.ActiveCount < t.Capacity(lvl.Level) {
		return nil, nil
	}

	key := "matrix_income:" + strconv.Itoa(lvl.Level)
	paidBefore, err := p.HasTransaction(key)
	if err != nil {
		return nil, err
	}

	completedAt := now
	lvl.Completed = true
	lvl.CompletedAt = &completedAt
	if paidBefore {
		return nil, nil
	}

	tr, err := p.Credit(ledger.Entry{
		Category:       models.CategoryMatrixIncome,
		Amount:         t.Reward(lvl.Level),
		DedupKey:       key,
		SourceMemberID: sourceID,
		Level:          lvl.Level,
		Description:    fmt.Sprintf("Matrix level %d completed with %d active members", lvl.Level, lvl.ActiveCount),
	})
	if err != nil {
		return nil, err
	}
	metrics.MatrixCompletions.WithLabelValues(strconv.Itoa(lvl.Level)).Inc()
	return tr, nil
}

// CreditDaily pays the daily team income of every level whose counter is at
// capacity, at most once per level per calendar day of day.
func (t *Tracker) CreditDaily(p *ledger.Posting, day time.Time) ([]models.Transaction, error) {
	var paid []models.Transaction
	stamp := day.Format(DayLayout)

	for level := 1; level <= t.Depth(); level++ {
		lvl, err := p.MatrixLevel(level)
		if err != nil {
			return nil, err
		}
		if lvl.ActiveCount < t.Capacity(level) {
			continue
		}
		if lvl.LastDailyCreditAt != nil && lvl.LastDailyCreditAt.In(day.Location()).Format(DayLayout) == stamp {
			continue
		}

		key := fmt.Sprintf("daily_team_income:%d:%s", level, stamp)
		done, err := p.HasTransaction(key)
		if err != nil {
			return nil, err
		}
		if !done {
			tr, err := p.Credit(ledger.Entry{
				Category:    models.CategoryDailyTeamIncome,
				Amount:      t.Reward(level),
				DedupKey:    key,
				Level:       level,
				Description: fmt.Sprintf("Daily matrix level %d income, %d active members", level, lvl.ActiveCount),
			})
			if err != nil {
				return nil, err
			}
			paid = append(paid, *tr)
		}

		marked := day
		lvl.LastDailyCreditAt = &marked
		if err := p.SaveMatrixLevel(lvl); err != nil {
			return nil, err
		}
	}
	return paid, nil
}
