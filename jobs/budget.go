package jobs

import (
	"database/sql"
	"sync"

	"github.com/qacompanion/qac/errors"
)

// BudgetLimits holds the spend caps enforced by the budget gate. A limit of
// zero or below disables that window.
type BudgetLimits struct {
	DailyUSD   float64
	WeeklyUSD  float64
	MonthlyUSD float64
}

// BudgetStatus reports spend and headroom per window.
type BudgetStatus struct {
	DailySpend       float64 `json:"daily_spend"`
	WeeklySpend      float64 `json:"weekly_spend"`
	MonthlySpend     float64 `json:"monthly_spend"`
	DailyRemaining   float64 `json:"daily_remaining"`
	WeeklyRemaining  float64 `json:"weekly_remaining"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	DailyOps         int     `json:"daily_ops"`
	WeeklyOps        int     `json:"weekly_ops"`
	MonthlyOps       int     `json:"monthly_ops"`
}

// BudgetTracker enforces spend limits against actual usage recorded in the
// ai_usage table. Windows slide (24h/7d/30d) so spend cannot be gamed by
// waiting for a boundary to roll over.
type BudgetTracker struct {
	db     *sql.DB
	mu     sync.RWMutex
	limits BudgetLimits
}

// NewBudgetTracker creates a budget tracker.
func NewBudgetTracker(db *sql.DB, limits BudgetLimits) *BudgetTracker {
	return &BudgetTracker{db: db, limits: limits}
}

// spendInWindow sums successful-call cost within a sliding window. The
// window is a SQLite datetime modifier such as "-24 hours".
func (bt *BudgetTracker) spendInWindow(window string) (totalCost float64, opCount int, err error) {
	err = bt.db.QueryRow(`
		SELECT COALESCE(SUM(cost), 0), COUNT(*)
		FROM ai_usage
		WHERE request_timestamp >= datetime('now', ?)
			AND success = 1`, window).Scan(&totalCost, &opCount)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query spend for window %s", window)
	}
	return totalCost, opCount, nil
}

// Status returns spend and remaining budget for all three windows.
func (bt *BudgetTracker) Status() (*BudgetStatus, error) {
	dailySpend, dailyOps, err := bt.spendInWindow("-24 hours")
	if err != nil {
		return nil, err
	}
	weeklySpend, weeklyOps, err := bt.spendInWindow("-7 days")
	if err != nil {
		return nil, err
	}
	monthlySpend, monthlyOps, err := bt.spendInWindow("-30 days")
	if err != nil {
		return nil, err
	}

	bt.mu.RLock()
	limits := bt.limits
	bt.mu.RUnlock()

	return &BudgetStatus{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   limits.DailyUSD - dailySpend,
		WeeklyRemaining:  limits.WeeklyUSD - weeklySpend,
		MonthlyRemaining: limits.MonthlyUSD - monthlySpend,
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// Check returns an error marked ErrBudgetExceeded if adding the estimated
// cost would push any enabled window over its limit.
func (bt *BudgetTracker) Check(estimatedCostUSD float64) error {
	status, err := bt.Status()
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	bt.mu.RLock()
	limits := bt.limits
	bt.mu.RUnlock()

	if limits.DailyUSD > 0 && status.DailySpend+estimatedCostUSD > limits.DailyUSD {
		return errors.Mark(
			errors.Newf("daily budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
				status.DailySpend, estimatedCostUSD, limits.DailyUSD),
			errors.ErrBudgetExceeded)
	}
	if limits.WeeklyUSD > 0 && status.WeeklySpend+estimatedCostUSD > limits.WeeklyUSD {
		return errors.Mark(
			errors.Newf("weekly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
				status.WeeklySpend, estimatedCostUSD, limits.WeeklyUSD),
			errors.ErrBudgetExceeded)
	}
	if limits.MonthlyUSD > 0 && status.MonthlySpend+estimatedCostUSD > limits.MonthlyUSD {
		return errors.Mark(
			errors.Newf("monthly budget would be exceeded: current $%.3f + estimated $%.3f > limit $%.2f",
				status.MonthlySpend, estimatedCostUSD, limits.MonthlyUSD),
			errors.ErrBudgetExceeded)
	}

	return nil
}

// Limits returns the configured spend caps.
func (bt *BudgetTracker) Limits() BudgetLimits {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.limits
}
