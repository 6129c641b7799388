package service

import "context"

// limitStep is the starting credit limit and the size of every increase.
const limitStep = 250

// LimitResult reports the outcome of a limit recalculation
type LimitResult struct {
	Increased  bool  `json:"increased"`
	Increments int   `json:"increments"`
	NewLimit   int64 `json:"new_limit"`
}

// limitThreshold returns the lifetime-repayment total required for the
// (i+1)-th limit increase: 250, 750, 1500, 2500, ...
func limitThreshold(i int) int64 {
	n := int64(i + 1)
	return limitStep * n * (n + 1) / 2
}

// RecalculateLimit recomputes the borrower's credit limit from lifetime
// repayments, applying one +250 increase per threshold reached since the last
// recalculation. Idempotent: with no new repayments it changes nothing.
// Touches only the ledger store, never the gateway.
func (s *Service) RecalculateLimit(ctx context.Context, userID int64) (*LimitResult, error) {
	limit, err := s.repo.GetOrInitCreditLimit(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}
	total, err := s.repo.TotalRepaid(ctx, userID)
	if err != nil {
		return nil, storage(err)
	}

	current := limit.CurrentLimit
	count := limit.IncreaseCount
	increments := 0
	for total >= limitThreshold(count) {
		current += limitStep
		count++
		increments++
	}

	if increments == 0 {
		return &LimitResult{Increased: false, Increments: 0, NewLimit: current}, nil
	}

	if err := s.repo.SetCreditLimit(ctx, userID, current, count); err != nil {
		return nil, storage(err)
	}
	s.log.Infof("Credit limit for user %d raised to %d (%d increments)", userID, current, increments)
	return &LimitResult{Increased: true, Increments: increments, NewLimit: current}, nil
}
