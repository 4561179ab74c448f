package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/curioworks/curio/pkg/models"
)

// ItemFunc processes one item and returns the patch to apply on success.
type ItemFunc func(ctx context.Context, item *models.Item) (models.ItemPatch, error)

// RunPerItem is the shared per-item execution loop handlers build on:
// bounded concurrency via errgroup, transient-error retries up to
// sc.RetryLimit, progress emission per item, and CAS persistence of each
// item's patch as it completes.
//
// Item errors are contained: they increment ErrorCount and the loop moves
// on, unless fail_fast is set, in which case the first error aborts the
// group. Context cancellation always aborts.
func RunPerItem(ctx context.Context, sc *StageContext, items []*models.Item, fn ItemFunc) (*StageResult, error) {
	res := &StageResult{TotalCount: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	limit := sc.Directives.MaxConcurrentItems
	if limit <= 0 {
		limit = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			patch, err := runWithRetry(gctx, sc.RetryLimit, item, fn)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				sc.TaskLog.Error(gctx, fmt.Sprintf("item %s failed: %v", item.ItemID, err))
				mu.Lock()
				res.ErrorCount++
				processed, errCount := res.ProcessedCount, res.ErrorCount
				mu.Unlock()
				sc.Emit(processed, res.TotalCount, errCount, "item "+item.ItemID+" failed")
				if sc.Directives.FailFast {
					return fmt.Errorf("item %s: %w", item.ItemID, err)
				}
				return nil
			}

			if !patch.IsZero() {
				if _, err := sc.Items.Update(gctx, models.ItemUpdate{
					ItemID:          item.ItemID,
					Patch:           patch,
					ExpectedVersion: item.Version,
				}); err != nil {
					mu.Lock()
					res.ErrorCount++
					processed, errCount := res.ProcessedCount, res.ErrorCount
					mu.Unlock()
					sc.TaskLog.Error(gctx, fmt.Sprintf("item %s update failed: %v", item.ItemID, err))
					sc.Emit(processed, res.TotalCount, errCount, "item "+item.ItemID+" failed")
					if sc.Directives.FailFast {
						return fmt.Errorf("item %s: %w", item.ItemID, err)
					}
					return nil
				}
			}

			mu.Lock()
			res.ProcessedCount++
			processed, errCount := res.ProcessedCount, res.ErrorCount
			mu.Unlock()
			sc.Emit(processed, res.TotalCount, errCount, "item "+item.ItemID+" done")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

// runWithRetry invokes fn up to 1+retryLimit times, stopping early on
// context cancellation.
func runWithRetry(ctx context.Context, retryLimit int, item *models.Item, fn ItemFunc) (models.ItemPatch, error) {
	var lastErr error
	for attempt := 0; attempt <= retryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.ItemPatch{}, err
		}
		patch, err := fn(ctx, item)
		if err == nil {
			return patch, nil
		}
		lastErr = err
	}
	return models.ItemPatch{}, lastErr
}
