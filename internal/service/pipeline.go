package service

import (
	"context"
	"fmt"

	"github.com/subdrift/subdrift/internal/database/repository"
)

// DetectionPipeline runs the three analytical stages in order: merchant
// resolution for any unresolved transactions, recurrence detection, then
// price drift. Safe to rerun at any time; every stage is idempotent.
type DetectionPipeline struct {
	Transactions *repository.TransactionRepo
	Resolver     *ResolverService
	Recurrence   *RecurrenceService
	Drift        *DriftService
}

// PipelineResult summarizes one pipeline run.
type PipelineResult struct {
	Resolved  int
	Recurring int
	Errors    []error
}

// Run executes the full pipeline. Resolution failures are non-fatal: the
// transaction stays unresolved and is retried on the next run.
func (p *DetectionPipeline) Run(ctx context.Context) (PipelineResult, error) {
	res := PipelineResult{}

	unresolved, err := p.Transactions.List(ctx, repository.TransactionFilters{Unresolved: true})
	if err != nil {
		return res, fmt.Errorf("list unresolved: %w", err)
	}
	for _, t := range unresolved {
		id, rerr := p.Resolver.Resolve(ctx, t.RawDescription)
		if rerr != nil {
			res.Errors = append(res.Errors, fmt.Errorf("resolve %q: %w", t.RawDescription, rerr))
			continue
		}
		if err := p.Transactions.SetMerchant(ctx, t.ID, &id); err != nil {
			return res, fmt.Errorf("assign merchant: %w", err)
		}
		res.Resolved++
	}

	n, err := p.Recurrence.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("recurrence detection: %w", err)
	}
	res.Recurring = n

	if err := p.Drift.Run(ctx); err != nil {
		return res, fmt.Errorf("drift detection: %w", err)
	}
	return res, nil
}
