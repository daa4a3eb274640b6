// Package referral resolves sticky referral attribution: once a depositor uses a referral
// link, later deposits without one keep crediting the most recent referrer.
package referral

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Deposit is the slice of a deposit the resolver reads.
type Deposit struct {
	ID        int64
	Depositor string
	Date      time.Time
	Referral  *string
}

// Resolve returns the sticky referrer of every deposit: the referral of the depositor's latest
// deposit dated at or before it that carried one, or nil. Equal dates are ordered by id.
func Resolve(deposits []Deposit) map[int64]*string {
	byDepositor := map[string][]Deposit{}
	for _, d := range deposits {
		byDepositor[d.Depositor] = append(byDepositor[d.Depositor], d)
	}

	out := make(map[int64]*string, len(deposits))
	for _, ds := range byDepositor {
		sort.Slice(ds, func(i, j int) bool {
			if ds[i].Date.Equal(ds[j].Date) {
				return ds[i].ID < ds[j].ID
			}
			return ds[i].Date.Before(ds[j].Date)
		})
		var current *string
		for i := 0; i < len(ds); i++ {
			// deposits sharing a timestamp see each other's referrals
			j := i
			for j < len(ds) && ds[j].Date.Equal(ds[i].Date) {
				if ds[j].Referral != nil {
					current = ds[j].Referral
				}
				j++
			}
			for k := i; k < j; k++ {
				out[ds[k].ID] = current
			}
			i = j - 1
		}
	}
	return out
}

// stickySQL mirrors Resolve. Deposits without a date are left for a later pass.
const stickySQL = `
UPDATE deposit d
SET sticky_referral_address = s.referral_address,
    version = d.version + 1,
    updated_at = NOW()
FROM (
    SELECT d3.id,
        (SELECT d4.referral_address
         FROM deposit d4
         WHERE d4.depositor_addr = d3.depositor_addr
           AND d4.deposit_date <= d3.deposit_date
           AND d4.referral_address IS NOT NULL
         ORDER BY d4.deposit_date DESC, d4.id DESC
         LIMIT 1) AS referral_address
    FROM deposit d3
    WHERE d3.deposit_date IS NOT NULL %s
) s
WHERE d.id = s.id
  AND d.sticky_referral_address IS DISTINCT FROM s.referral_address`

// Execer runs a statement and reports affected rows.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
}

// Resolver applies the sticky rule to stored deposits. Both passes are idempotent.
type Resolver struct {
	db     Execer
	logger *zap.Logger
}

func NewResolver(db Execer, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, logger: logger}
}

// ResolveAll recomputes every deposit.
func (r *Resolver) ResolveAll(ctx context.Context) (int64, error) {
	n, err := r.db.Exec(ctx, fmt.Sprintf(stickySQL, ""))
	if err != nil {
		return 0, fmt.Errorf("sticky referral pass: %w", err)
	}
	r.logger.Debug("sticky referral pass", zap.Int64("updated", n))
	return n, nil
}

// ResolveDepositor recomputes only the given depositor's deposits.
// Sticky attribution never crosses depositors, so this is equivalent for them.
func (r *Resolver) ResolveDepositor(ctx context.Context, depositor string) (int64, error) {
	n, err := r.db.Exec(ctx, fmt.Sprintf(stickySQL, "AND d3.depositor_addr = $1"), depositor)
	if err != nil {
		return 0, fmt.Errorf("sticky referral pass for %s: %w", depositor, err)
	}
	return n, nil
}
