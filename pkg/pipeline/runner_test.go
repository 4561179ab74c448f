package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/progress"
)

// fakeItemStore records updates; reads are unused by the runner.
type fakeItemStore struct {
	mu      sync.Mutex
	updates []models.ItemUpdate
	err     error
}

func (f *fakeItemStore) ListAll(context.Context) ([]*models.Item, error) { return nil, nil }
func (f *fakeItemStore) ListByFilter(context.Context, models.ItemFilter) ([]*models.Item, error) {
	return nil, nil
}
func (f *fakeItemStore) Get(context.Context, string) (*models.Item, error) { return nil, nil }
func (f *fakeItemStore) AddItems(context.Context, []*models.Item) (int, error) {
	return 0, nil
}
func (f *fakeItemStore) Update(_ context.Context, upd models.ItemUpdate) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.updates = append(f.updates, upd)
	return &models.Item{ItemID: upd.ItemID}, nil
}

// nullAppender drops task log lines.
type nullAppender struct{}

func (nullAppender) Append(context.Context, string, models.LogLevel, string, string, *string) (int64, error) {
	return 0, nil
}

func testStageContext(store ItemStore, d *Directives) *StageContext {
	return &StageContext{
		TaskID:     "task-1",
		Logger:     slog.Default(),
		TaskLog:    progress.NewTaskLogger("task-1", nullAppender{}, nil),
		Emit:       func(int, int, int, string) {},
		Items:      store,
		Directives: d,
		RetryLimit: 2,
	}
}

func testItems(ids ...string) []*models.Item {
	out := make([]*models.Item, len(ids))
	for i, id := range ids {
		out[i] = &models.Item{ItemID: id, Version: 1}
	}
	return out
}

func TestRunPerItemAppliesPatches(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{RunMode: models.RunFullPipeline})
	sc := testStageContext(store, d)

	res, err := RunPerItem(context.Background(), sc, testItems("b-001", "b-002"),
		func(_ context.Context, item *models.Item) (models.ItemPatch, error) {
			cached := true
			return models.ItemPatch{Cached: &cached}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, 0, res.ErrorCount)
	assert.Len(t, store.updates, 2)
}

func TestRunPerItemRetriesTransientErrors(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{RunMode: models.RunFullPipeline})
	sc := testStageContext(store, d)

	attempts := 0
	res, err := RunPerItem(context.Background(), sc, testItems("b-001"),
		func(_ context.Context, item *models.Item) (models.ItemPatch, error) {
			attempts++
			if attempts < 3 {
				return models.ItemPatch{}, errors.New("transient")
			}
			return models.ItemPatch{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 0, res.ErrorCount)
}

func TestRunPerItemCountsExhaustedRetries(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{RunMode: models.RunFullPipeline})
	sc := testStageContext(store, d)

	res, err := RunPerItem(context.Background(), sc, testItems("b-001", "b-002"),
		func(_ context.Context, item *models.Item) (models.ItemPatch, error) {
			if item.ItemID == "b-001" {
				return models.ItemPatch{}, errors.New("permanent")
			}
			return models.ItemPatch{}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)
	assert.Equal(t, 1, res.ErrorCount)
}

func TestRunPerItemFailFastAborts(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{
		RunMode:  models.RunFullPipeline,
		FailFast: true,
	})
	sc := testStageContext(store, d)

	_, err := RunPerItem(context.Background(), sc, testItems("b-001", "b-002"),
		func(_ context.Context, item *models.Item) (models.ItemPatch, error) {
			return models.ItemPatch{}, errors.New("boom")
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunPerItemHonorsCancellation(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{RunMode: models.RunFullPipeline})
	sc := testStageContext(store, d)

	ctx, cancel := context.WithCancel(context.Background())
	processed := 0
	_, err := RunPerItem(ctx, sc, testItems("b-001", "b-002", "b-003"),
		func(c context.Context, item *models.Item) (models.ItemPatch, error) {
			processed++
			cancel()
			return models.ItemPatch{}, nil
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, processed, 3)
}

func TestRunPerItemBoundsConcurrency(t *testing.T) {
	store := &fakeItemStore{}
	d := mustDirectives(t, models.Preferences{
		RunMode:            models.RunFullPipeline,
		MaxConcurrentItems: 2,
	})
	sc := testStageContext(store, d)

	var mu sync.Mutex
	inflight, peak := 0, 0

	_, err := RunPerItem(context.Background(), sc, testItems("b-001", "b-002", "b-003", "b-004"),
		func(_ context.Context, item *models.Item) (models.ItemPatch, error) {
			mu.Lock()
			inflight++
			if inflight > peak {
				peak = inflight
			}
			mu.Unlock()
			defer func() {
				mu.Lock()
				inflight--
				mu.Unlock()
			}()
			return models.ItemPatch{}, nil
		})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak, 2)
}
