package pv

import (
	"context"
	"fmt"

	"pv-go/internal/model"
)

// accountCapacity is the remaining capacity of one account during placement.
type accountCapacity struct {
	account   Account
	remaining int64
}

// PlaceDiffs assigns every diff to an account whose remaining capacity can
// hold it. Usage and limit are read once per call; diffs are then placed
// first-fit in input order over the accounts in registration order. If any
// diff fits nowhere the whole batch fails with *CapacityExhaustedError.
//
// First-fit is a heuristic: a batch it rejects may still have a valid
// assignment under a different order.
func PlaceDiffs(ctx context.Context, accounts []Account, diffs []model.Diff) ([]model.PlacementAssignment, error) {
	if len(diffs) == 0 {
		return nil, nil
	}

	capacities, err := fanOutEach(ctx, accounts, func(ctx context.Context, a Account) (*accountCapacity, error) {
		usage, limit, err := a.UsageAndLimit(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying usage of account %q: %w", a.ID(), err)
		}
		return &accountCapacity{account: a, remaining: limit - usage}, nil
	})
	if err != nil {
		return nil, err
	}

	assignments := make([]model.PlacementAssignment, 0, len(diffs))
	for _, d := range diffs {
		var target *accountCapacity
		for _, c := range capacities {
			if c.remaining >= d.Size {
				target = c
				break
			}
		}
		if target == nil {
			return nil, &CapacityExhaustedError{FilePath: d.FilePath, Size: d.Size, Accounts: len(accounts)}
		}
		target.remaining -= d.Size
		assignments = append(assignments, model.PlacementAssignment{Diff: d, AccountID: target.account.ID()})
	}

	return assignments, nil
}
