// Package quota tracks daily request allowances with UTC-midnight resets.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/inference-gateway/internal/apperr"
	"github.com/jmehdipour/inference-gateway/internal/model"
	"github.com/jmehdipour/inference-gateway/internal/repository"
)

var errExhausted = errors.New("daily quota exhausted")

type Result struct {
	Allowed   bool
	Used      int
	Limit     int
	Remaining int
	ResetTime time.Time
}

type Ledger struct {
	store repository.QuotaRepository
	now   func() time.Time
}

func NewLedger(store repository.QuotaRepository) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// DayStart is the UTC midnight that opens the quota day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextReset is the UTC midnight that closes the quota day containing t.
func NextReset(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// effectiveUsed applies the lazy reset: a counter last reset before today's
// UTC midnight counts as zero.
func effectiveUsed(c model.QuotaCounter, now time.Time) int {
	if c.LastResetAt.Before(DayStart(now)) {
		return 0
	}
	return c.Used
}

func result(used, limit int, now time.Time) Result {
	return Result{
		Allowed:   used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: max(0, limit-used),
		ResetTime: NextReset(now),
	}
}

// Peek reports the effective usage without writing anything.
func (l *Ledger) Peek(ctx context.Context, id model.Identity, limit int) (Result, error) {
	now := l.now()
	c, err := l.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return result(effectiveUsed(c, now), limit, now), nil
}

// CheckAndConsume increments the identity's counter when the usage read under
// the per-identity lock is below limit. On the first consumption of a new UTC
// day the stored counter is rewritten to zero and the reset time stamped.
func (l *Ledger) CheckAndConsume(ctx context.Context, id model.Identity, limit int) (Result, error) {
	now := l.now()
	c, err := l.store.Update(ctx, id, func(c *model.QuotaCounter) error {
		used := effectiveUsed(*c, now)
		if used >= limit {
			return errExhausted
		}
		if c.LastResetAt.Before(DayStart(now)) {
			c.Used = 0
			c.LastResetAt = now.UTC()
		}
		c.Used++
		c.Total++
		return nil
	})
	if errors.Is(err, errExhausted) {
		res := result(effectiveUsed(c, now), limit, now)
		res.Allowed = false
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}

	res := result(c.Used, limit, now)
	res.Allowed = true
	return res, nil
}

// ExceededError builds the caller-facing error for an exhausted quota.
func ExceededError(r Result) *apperr.Error {
	return apperr.New(apperr.KindQuotaExceeded, "", "daily quota exceeded").
		With("limit", r.Limit).
		With("used", r.Used).
		With("remaining", r.Remaining).
		With("resetTime", r.ResetTime.UTC().Format(time.RFC3339))
}
