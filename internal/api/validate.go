package api

import (
	"fmt"
	"time"

	"ecoroute/internal/model"
	"ecoroute/internal/opt"
)

// validatePlanRequest rejects malformed plan requests and clamps the
// requested time budget to maxBudget when maxBudget is positive.
func validatePlanRequest(req *model.PlanRequest, maxBudget time.Duration) error {
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("%w: timeBudgetMs must be >= 0", opt.ErrInvalidRequest)
	}
	if limit := maxBudget.Milliseconds(); limit > 0 && int64(req.TimeBudgetMs) > limit {
		req.TimeBudgetMs = int(limit)
	}
	if req.MaxSweeps < 0 {
		return fmt.Errorf("%w: maxSweeps must be >= 0", opt.ErrInvalidRequest)
	}
	if req.CircuityFactor != 0 && req.CircuityFactor < 1 {
		return fmt.Errorf("%w: circuityFactor must be >= 1", opt.ErrInvalidRequest)
	}
	if !opt.SeedStrategy(req.Seed).Valid() {
		return fmt.Errorf("%w: invalid seed: %s (allowed: insertion,nearest)", opt.ErrInvalidRequest, req.Seed)
	}
	return nil
}
