package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/config"
	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/pipeline"
	"github.com/curioworks/curio/pkg/progress"
	"github.com/curioworks/curio/pkg/services"
)

// Collaborators bundles the external boundaries stage handlers reach
// through: the model, the bookmark source, the artifact renderer, the
// vector store, and the git publisher.
type Collaborators struct {
	Model    collab.ModelClient
	Scraper  collab.Scraper
	Renderer collab.Renderer
	Vectors  collab.VectorStore
	Git      collab.GitPublisher

	// EmbeddingModel is the identifier stored alongside vectors.
	EmbeddingModel string
}

// Executor runs one task's stage plan: directives from the stored
// preferences, a fresh item scan, the plan, then every planned stage in
// DAG order with durable phase transitions and throttled progress
// events along the way.
type Executor struct {
	tasks       *services.TaskService
	items       *services.ItemService
	knowledge   *services.KnowledgeService
	logs        *services.LogService
	publisher   *progress.Publisher
	registry    *pipeline.Registry
	cfg         *config.TaskConfig
	synthesis   *config.SynthesisConfig
	projectRoot string
	collab      Collaborators
}

var _ TaskExecutor = (*Executor)(nil)

// NewExecutor creates the production task executor.
func NewExecutor(
	tasks *services.TaskService,
	items *services.ItemService,
	knowledge *services.KnowledgeService,
	logs *services.LogService,
	publisher *progress.Publisher,
	registry *pipeline.Registry,
	cfg *config.TaskConfig,
	synthesis *config.SynthesisConfig,
	projectRoot string,
	collaborators Collaborators,
) *Executor {
	return &Executor{
		tasks:       tasks,
		items:       items,
		knowledge:   knowledge,
		logs:        logs,
		publisher:   publisher,
		registry:    registry,
		cfg:         cfg,
		synthesis:   synthesis,
		projectRoot: projectRoot,
		collab:      collaborators,
	}
}

// Execute runs the task to a terminal result. Intermediate state (phase
// transitions, item flags, task logs) is persisted as it happens; only
// the terminal row write belongs to the caller.
func (e *Executor) Execute(ctx context.Context, task *models.Task) *ExecutionResult {
	log := slog.With("task_id", task.TaskID)
	taskLog := progress.NewTaskLogger(task.TaskID, e.logs, e.publisher).WithComponent("executor")

	d, err := pipeline.BuildDirectives(task.Preferences)
	if err != nil {
		// Preferences were validated at start, so this means the stored
		// row drifted from the schema.
		return fatalResult(fmt.Errorf("build directives: %w", err))
	}
	if d.MaxConcurrentItems == 0 {
		d.MaxConcurrentItems = e.cfg.MaxConcurrentItemsDefault
	}
	if task.Preferences.SynthesisMode == "" && e.synthesis != nil {
		d.SynthesisMode = e.synthesis.DefaultMode
	}

	plan, res := e.buildPlan(ctx, d)
	if res != nil {
		return res
	}

	taskLog.Info(ctx, fmt.Sprintf("planned %d stages, %d work units", len(plan.Stages), plan.WorkUnits()))
	for _, sp := range plan.Stages {
		if h, err := e.registry.Get(sp.StageID); err == nil {
			taskLog.Info(ctx, h.PlanDescription(d, sp))
		}
	}

	totalUnits := plan.WorkUnits()
	completedUnits := 0
	for i := 0; i < len(plan.Stages); i++ {
		sp := plan.Stages[i]
		if ctx.Err() != nil {
			log.Info("Cancellation observed between stages", "stage", sp.StageID)
			return cancelledResult()
		}
		if res := e.runStage(ctx, task, taskLog, d, sp, &completedUnits, totalUnits); res != nil {
			return res
		}

		// Discovery can register items the initial plan never saw. Every
		// stage after fetch works from a plan rebuilt over live state.
		if sp.StageID == pipeline.StageFetch && !sp.Skipped {
			refreshed, res := e.buildPlan(ctx, d)
			if res != nil {
				return res
			}
			plan = refreshed
			totalUnits = plan.WorkUnits()
			taskLog.Info(ctx, fmt.Sprintf("replanned after fetch: %d work units remain", totalUnits))
		}
	}

	ran, skipped := 0, 0
	for _, sp := range plan.Stages {
		if stageWillSkip(sp) {
			skipped++
		} else {
			ran++
		}
	}
	summary := fmt.Sprintf("%d stages completed, %d skipped, %d work units processed", ran, skipped, completedUnits)
	return &ExecutionResult{Status: models.TaskSuccess, Summary: summary}
}

// buildPlan snapshots item state, computes the plan, and clears the
// stored flags forced stages are about to redo.
func (e *Executor) buildPlan(ctx context.Context, d *pipeline.Directives) (*pipeline.Plan, *ExecutionResult) {
	snapshot, err := e.items.ListAll(ctx)
	if err != nil {
		return nil, fatalResult(fmt.Errorf("scan items: %w", err))
	}
	vals := make([]models.Item, len(snapshot))
	for i, item := range snapshot {
		vals[i] = *item
	}
	plan := pipeline.BuildPlan(vals, d)
	if res := e.invalidateForced(ctx, plan); res != nil {
		return nil, res
	}
	return plan, nil
}

// stageWillSkip reports whether runStage will record the stage as
// skipped instead of executing it.
func stageWillSkip(sp pipeline.StagePlan) bool {
	if sp.Skipped {
		return true
	}
	return len(sp.NeedsProcessing) == 0 && sp.PendingMembers == 0 && !sp.Forced
}

// invalidateForced clears the stored flags a forced stage will redo, so
// durable item state never claims downstream results that are about to
// be regenerated. Planner projection already re-selected the items.
func (e *Executor) invalidateForced(ctx context.Context, plan *pipeline.Plan) *ExecutionResult {
	for _, sp := range plan.Stages {
		if !sp.Forced || sp.Kind != pipeline.KindPerItem || len(sp.NeedsProcessing) == 0 {
			continue
		}
		flags := pipeline.InvalidatedFlags(sp.StageID)
		if len(flags) == 0 {
			continue
		}
		if err := e.items.InvalidateFlags(ctx, sp.NeedsProcessing, flags); err != nil {
			return fatalResult(fmt.Errorf("invalidate flags for forced stage %s: %w", sp.StageID, err))
		}
	}
	return nil
}

// runStage executes one planned stage. A nil return means continue with
// the next stage; a non-nil result terminates the task.
func (e *Executor) runStage(ctx context.Context, task *models.Task, taskLog *progress.TaskLogger, d *pipeline.Directives, sp pipeline.StagePlan, completedUnits *int, totalUnits int) *ExecutionResult {
	stageID := string(sp.StageID)
	startedAt := time.Now().UTC()

	if stageWillSkip(sp) {
		message := "no eligible work"
		switch {
		case d.OutOfMode(sp.StageID):
			message = fmt.Sprintf("outside run mode %s", d.RunMode)
		case sp.Skipped:
			message = "skipped by preferences"
		}
		e.closePhase(ctx, task.TaskID, models.PhaseState{
			StageID:     stageID,
			Status:      models.PhaseSkipped,
			Message:     message,
			StartedAt:   &startedAt,
			CompletedAt: &startedAt,
		}, percent(*completedUnits, totalUnits))
		return nil
	}

	handler, err := e.registry.Get(sp.StageID)
	if err != nil {
		return fatalResult(err)
	}

	units := len(sp.NeedsProcessing)
	if units == 0 && sp.PendingMembers == 0 {
		// Forced, but nothing reachable even after invalidation.
		completedAt := time.Now().UTC()
		e.closePhase(ctx, task.TaskID, models.PhaseState{
			StageID:     stageID,
			Status:      models.PhaseCompleted,
			Message:     "nothing to do",
			StartedAt:   &startedAt,
			CompletedAt: &completedAt,
		}, percent(*completedUnits, totalUnits))
		return nil
	}

	active := models.PhaseState{
		StageID:    stageID,
		Status:     models.PhaseActive,
		TotalCount: units,
		Message:    handler.PlanDescription(d, sp),
		StartedAt:  &startedAt,
	}
	if err := e.tasks.SetPhase(ctx, task.TaskID, active, percent(*completedUnits, totalUnits)); err != nil {
		return e.classifyPhaseWriteError(ctx, err)
	}
	e.publishPhaseUpdate(task.TaskID, active, nil)

	sc := &pipeline.StageContext{
		TaskID:         task.TaskID,
		Logger:         slog.With("task_id", task.TaskID, "stage", stageID),
		TaskLog:        taskLog.WithPhase(stageID),
		Emit:           e.throttledEmit(task.TaskID, stageID, startedAt, units, *completedUnits, totalUnits),
		Items:          e.items,
		Knowledge:      e.knowledge,
		Directives:     d,
		ProjectRoot:    e.projectRoot,
		EmbeddingModel: e.collab.EmbeddingModel,
		Model:          e.collab.Model,
		Scraper:        e.collab.Scraper,
		Renderer:       e.collab.Renderer,
		Vectors:        e.collab.Vectors,
		Git:            e.collab.Git,
		RetryLimit:     e.cfg.ItemRetryLimit,
	}

	selected, err := e.selectItems(ctx, sp)
	if err != nil {
		return fatalResult(fmt.Errorf("select items for stage %s: %w", stageID, err))
	}

	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.HandlerTimeout)
	defer cancel()

	res, execErr := handler.Execute(stageCtx, sc, selected)
	if execErr != nil {
		return e.stageFailure(ctx, stageCtx, task.TaskID, stageID, startedAt, res, execErr, *completedUnits, totalUnits)
	}
	if res == nil {
		// A handler must return a result or an error; returning neither
		// is a handler bug, not a task-level failure we can recover.
		err := errors.New("handler returned no result")
		return e.stageFailure(ctx, stageCtx, task.TaskID, stageID, startedAt, nil, err, *completedUnits, totalUnits)
	}
	if res.TotalCount > 0 && res.ErrorCount == res.TotalCount {
		err := fmt.Errorf("stage %s failed for all %d work units", stageID, res.TotalCount)
		return e.stageFailure(ctx, stageCtx, task.TaskID, stageID, startedAt, res, err, *completedUnits, totalUnits)
	}

	completedAt := time.Now().UTC()
	*completedUnits += units
	e.closePhase(ctx, task.TaskID, models.PhaseState{
		StageID:        stageID,
		Status:         models.PhaseCompleted,
		ProcessedCount: res.ProcessedCount,
		TotalCount:     res.TotalCount,
		ErrorCount:     res.ErrorCount,
		Message:        res.Summary,
		StartedAt:      &startedAt,
		CompletedAt:    &completedAt,
	}, percent(*completedUnits, totalUnits))

	if res.ErrorCount > 0 {
		taskLog.Warn(ctx, fmt.Sprintf("stage %s finished with %d of %d units in error",
			stageID, res.ErrorCount, res.TotalCount))
	}
	return nil
}

// stageFailure classifies a stage error into the terminal result and
// records the failed phase.
func (e *Executor) stageFailure(ctx, stageCtx context.Context, taskID, stageID string, startedAt time.Time, res *pipeline.StageResult, execErr error, completedUnits, totalUnits int) *ExecutionResult {
	completedAt := time.Now().UTC()
	phase := models.PhaseState{
		StageID:     stageID,
		Status:      models.PhaseFailed,
		Message:     execErr.Error(),
		StartedAt:   &startedAt,
		CompletedAt: &completedAt,
	}
	if res != nil {
		phase.ProcessedCount = res.ProcessedCount
		phase.TotalCount = res.TotalCount
		phase.ErrorCount = res.ErrorCount
	}

	// The task context may already be dead here; cleanup gets its own
	// context, bounded by the cancel deadline.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), e.cfg.CancelDeadline)
	defer cancel()

	// The task context dying means cancellation, not a handler fault.
	if errors.Is(ctx.Err(), context.Canceled) {
		phase.Message = "cancelled"
		e.closePhase(cleanupCtx, taskID, phase, percent(completedUnits, totalUnits))
		return cancelledResult()
	}

	e.closePhase(cleanupCtx, taskID, phase, percent(completedUnits, totalUnits))

	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(execErr, context.DeadlineExceeded) {
		kind := models.ErrorKindTimeout
		return &ExecutionResult{
			Status:    models.TaskFailed,
			ErrorKind: &kind,
			Err:       fmt.Errorf("stage %s timed out after %v", stageID, e.cfg.HandlerTimeout),
		}
	}
	return fatalResult(fmt.Errorf("stage %s: %w", stageID, execErr))
}

// selectItems reads fresh item state and narrows it to the stage's
// planned work. Versions must be current or every CAS write would lose.
func (e *Executor) selectItems(ctx context.Context, sp pipeline.StagePlan) ([]*models.Item, error) {
	all, err := e.items.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	switch sp.Kind {
	case pipeline.KindPerItem:
		wanted := make(map[string]bool, len(sp.NeedsProcessing))
		for _, id := range sp.NeedsProcessing {
			wanted[id] = true
		}
		out := make([]*models.Item, 0, len(sp.NeedsProcessing))
		for _, item := range all {
			if wanted[item.ItemID] {
				out = append(out, item)
			}
		}
		return out, nil
	case pipeline.KindAggregate:
		// Aggregate handlers re-group at execution time; hand them every
		// item so groups formed earlier in this run are visible.
		return all, nil
	default:
		return all, nil
	}
}

// throttledEmit builds the stage's progress callback: a durable phase
// write plus a phase.update event, dropped unless a second passed or
// overall progress moved a full percent since the last emit.
func (e *Executor) throttledEmit(taskID, stageID string, startedAt time.Time, stageUnits, completedUnits, totalUnits int) pipeline.ProgressFunc {
	var mu sync.Mutex
	var lastAt time.Time
	lastPercent := -1.0

	return func(processed, total, errorCount int, message string) {
		inStage := 0.0
		if total > 0 {
			inStage = float64(processed+errorCount) / float64(total)
		}
		pct := percentWithFraction(completedUnits, totalUnits, inStage, stageUnits)

		mu.Lock()
		now := time.Now()
		if now.Sub(lastAt) < time.Second && pct-lastPercent < 1 {
			mu.Unlock()
			return
		}
		lastAt = now
		lastPercent = pct
		mu.Unlock()

		phase := models.PhaseState{
			StageID:        stageID,
			Status:         models.PhaseInProgress,
			ProcessedCount: processed,
			TotalCount:     total,
			ErrorCount:     errorCount,
			Message:        message,
			StartedAt:      &startedAt,
		}
		if err := e.tasks.SetPhase(context.Background(), taskID, phase, pct); err != nil {
			slog.Warn("Progress write failed", "task_id", taskID, "stage", stageID, "error", err)
		}
		e.publishPhaseUpdate(taskID, phase, etaSeconds(startedAt, processed, total))
	}
}

// closePhase persists a terminal phase state and emits the matching
// phase.update and phase.complete events. Best effort past the durable
// write.
func (e *Executor) closePhase(ctx context.Context, taskID string, phase models.PhaseState, pct float64) {
	if err := e.tasks.SetPhase(ctx, taskID, phase, pct); err != nil {
		slog.Warn("Phase write failed", "task_id", taskID, "stage", phase.StageID, "error", err)
	}
	e.publishPhaseUpdate(taskID, phase, nil)

	duration := 0.0
	if phase.StartedAt != nil && phase.CompletedAt != nil {
		duration = phase.CompletedAt.Sub(*phase.StartedAt).Seconds()
	}
	if err := e.publisher.PublishPhaseComplete(context.Background(), taskID, progress.PhaseCompletePayload{
		PhaseID:         phase.StageID,
		ProcessedCount:  phase.ProcessedCount,
		TotalCount:      phase.TotalCount,
		ErrorCount:      phase.ErrorCount,
		DurationSeconds: duration,
	}); err != nil {
		slog.Warn("Phase complete publish failed", "task_id", taskID, "stage", phase.StageID, "error", err)
	}
}

func (e *Executor) publishPhaseUpdate(taskID string, phase models.PhaseState, eta *float64) {
	if err := e.publisher.PublishPhaseUpdate(context.Background(), taskID, progress.PhaseUpdatePayload{
		PhaseID:        phase.StageID,
		Status:         phase.Status,
		Message:        phase.Message,
		ProcessedCount: phase.ProcessedCount,
		TotalCount:     phase.TotalCount,
		ErrorCount:     phase.ErrorCount,
		ETASeconds:     eta,
	}); err != nil {
		slog.Warn("Phase update publish failed", "task_id", taskID, "stage", phase.StageID, "error", err)
	}
}

// classifyPhaseWriteError maps a failed phase write at stage start to a
// terminal result. A terminal or missing task here means a reaper or
// reset finished the task under us.
func (e *Executor) classifyPhaseWriteError(ctx context.Context, err error) *ExecutionResult {
	if errors.Is(err, services.ErrTaskTerminal) || errors.Is(err, services.ErrNotFound) {
		return cancelledResult()
	}
	if ctx.Err() != nil {
		return cancelledResult()
	}
	return fatalResult(err)
}

func percent(completedUnits, totalUnits int) float64 {
	return percentWithFraction(completedUnits, totalUnits, 0, 0)
}

func percentWithFraction(completedUnits, totalUnits int, inStage float64, stageUnits int) float64 {
	// A plan without work units never reports progress; the terminal
	// write pins 100 on success.
	if totalUnits == 0 {
		return 0
	}
	p := (float64(completedUnits) + inStage*float64(stageUnits)) / float64(totalUnits) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// etaSeconds projects time remaining from in-stage throughput.
func etaSeconds(startedAt time.Time, processed, total int) *float64 {
	if processed <= 0 || total <= processed {
		return nil
	}
	elapsed := time.Since(startedAt).Seconds()
	eta := elapsed / float64(processed) * float64(total-processed)
	return &eta
}

func fatalResult(err error) *ExecutionResult {
	kind := models.ErrorKindFatal
	return &ExecutionResult{
		Status:    models.TaskFailed,
		ErrorKind: &kind,
		Err:       err,
		Trace:     string(debug.Stack()),
	}
}

func cancelledResult() *ExecutionResult {
	return &ExecutionResult{Status: models.TaskCancelled, Err: context.Canceled}
}
