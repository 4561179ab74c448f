package pipeline

import (
	"errors"
	"fmt"

	"github.com/curioworks/curio/pkg/models"
	"github.com/curioworks/curio/pkg/services"
)

// ErrContradictoryDirectives is returned when preferences skip and force
// the same stage. Mapped to HTTP 400 with a dedicated error code.
var ErrContradictoryDirectives = errors.New("contradictory directives")

// SynthesisModes are the accepted synthesis document styles.
var SynthesisModes = []string{"comprehensive", "technical", "practical"}

// DefaultSynthesisMode is used when preferences leave the mode empty.
const DefaultSynthesisMode = "comprehensive"

// Directives is the validated, immutable execution intent derived from a
// task's preferences. The planner and stage handlers consume it; nothing
// mutates it after BuildDirectives returns.
type Directives struct {
	RunMode models.RunMode

	// Stages is the full pipeline in DAG order. Stages the run mode does
	// not execute stay listed as skipped, so every run reports a phase
	// entry for all of them.
	Stages []StageID

	skip      map[StageID]bool
	outOfMode map[StageID]bool
	force     map[StageID]bool

	SynthesisMode string
	// MaxConcurrentItems bounds per-stage item concurrency; zero means
	// the configured default.
	MaxConcurrentItems int
	FailFast           bool
}

// Skipped reports whether the stage will not run: skip-flagged by the
// preferences or outside the run mode's stage set.
func (d *Directives) Skipped(id StageID) bool { return d.skip[id] || d.outOfMode[id] }

// OutOfMode reports whether the run mode excludes the stage.
func (d *Directives) OutOfMode(id StageID) bool { return d.outOfMode[id] }

// Forced reports whether the stage is force-flagged.
func (d *Directives) Forced(id StageID) bool { return d.force[id] }

// stageSetFor resolves a run mode to the stage set it executes, in DAG
// order.
func stageSetFor(prefs models.Preferences) ([]StageID, error) {
	switch prefs.RunMode {
	case models.RunFullPipeline:
		return StageOrder(), nil
	case models.RunFetchOnly:
		return []StageID{StageFetch}, nil
	case models.RunSynthesisOnly:
		return []StageID{StageSynthesize}, nil
	case models.RunEmbeddingOnly:
		return []StageID{StageEmbed}, nil
	case models.RunGitOnly:
		return []StageID{StageGitSync}, nil
	case models.RunCustom:
		if len(prefs.CustomStages) == 0 {
			return nil, services.NewValidationError("custom_stages", "run_mode custom requires a non-empty stage set")
		}
		requested := make(map[StageID]bool, len(prefs.CustomStages))
		for _, s := range prefs.CustomStages {
			id := StageID(s)
			if !KnownStage(id) {
				return nil, services.NewValidationError("custom_stages", "unknown stage: "+s)
			}
			requested[id] = true
		}
		// Normalize to DAG order regardless of request order.
		set := make([]StageID, 0, len(requested))
		for _, id := range StageOrder() {
			if requested[id] {
				set = append(set, id)
			}
		}
		return set, nil
	default:
		return nil, services.NewValidationError("run_mode", "unknown run mode: "+string(prefs.RunMode))
	}
}

// BuildDirectives validates preferences against the stage set and returns
// the immutable directives for planning and execution.
func BuildDirectives(prefs models.Preferences) (*Directives, error) {
	if prefs.RunMode == "" {
		return nil, services.NewValidationError("run_mode", "run_mode is required")
	}
	if prefs.RunMode != models.RunCustom && len(prefs.CustomStages) > 0 {
		return nil, services.NewValidationError("custom_stages", "custom_stages is only valid with run_mode custom")
	}

	stages, err := stageSetFor(prefs)
	if err != nil {
		return nil, err
	}

	skip := make(map[StageID]bool)
	force := make(map[StageID]bool)
	for _, id := range StageOrder() {
		s, f := prefs.SkipFor(string(id)), prefs.ForceFor(string(id))
		if s && f {
			return nil, fmt.Errorf("%w: stage %s is both skipped and forced", ErrContradictoryDirectives, id)
		}
		skip[id] = s
		force[id] = f
	}

	// Skipping the very stages a narrow run mode exists to run is a
	// contradiction in intent, not a no-op.
	if prefs.RunMode != models.RunFullPipeline {
		for _, id := range stages {
			if skip[id] {
				return nil, services.NewValidationError(
					"skip_"+string(id),
					fmt.Sprintf("run_mode %s executes stage %s; skipping it leaves nothing to do", prefs.RunMode, id))
			}
		}
	}

	mode := prefs.SynthesisMode
	if mode == "" {
		mode = DefaultSynthesisMode
	}
	if !validSynthesisMode(mode) {
		return nil, services.NewValidationError("synthesis_mode", "unknown synthesis mode: "+mode)
	}

	if prefs.MaxConcurrentItems < 0 {
		return nil, services.NewValidationError("max_concurrent_items", "must be zero or positive")
	}

	active := make(map[StageID]bool, len(stages))
	for _, id := range stages {
		active[id] = true
	}
	outOfMode := make(map[StageID]bool)
	for _, id := range StageOrder() {
		if !active[id] {
			outOfMode[id] = true
		}
	}

	return &Directives{
		RunMode:            prefs.RunMode,
		Stages:             StageOrder(),
		skip:               skip,
		outOfMode:          outOfMode,
		force:              force,
		SynthesisMode:      mode,
		MaxConcurrentItems: prefs.MaxConcurrentItems,
		FailFast:           prefs.FailFast,
	}, nil
}

func validSynthesisMode(mode string) bool {
	for _, m := range SynthesisModes {
		if m == mode {
			return true
		}
	}
	return false
}
