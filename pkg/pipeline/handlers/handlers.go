// Package handlers holds the concrete stage implementations. Every
// handler is stateless; collaborators and stores arrive through the
// StageContext, so one registry instance serves all tasks.
package handlers

import (
	"fmt"

	"github.com/curioworks/curio/pkg/pipeline"
)

// DefaultRegistry returns a registry with all ten pipeline stages wired.
func DefaultRegistry() *pipeline.Registry {
	r := pipeline.NewRegistry()
	for _, h := range []pipeline.Handler{
		fetchHandler{},
		cacheHandler{},
		mediaHandler{},
		categorizeHandler{},
		generateHandler{},
		dbSyncHandler{},
		synthesizeHandler{},
		embedHandler{},
		readmeHandler{},
		gitSyncHandler{},
	} {
		r.Register(h)
	}
	return r
}

// mustDescriptor looks up a built-in stage descriptor. All handler stage
// IDs are declared in the pipeline package, so a miss is a programming
// error.
func mustDescriptor(id pipeline.StageID) pipeline.StageDescriptor {
	d, ok := pipeline.DescriptorFor(id)
	if !ok {
		panic(fmt.Sprintf("handlers: no descriptor for stage %q", id))
	}
	return d
}

// perItemPlanLine renders the operator preview for a per-item stage.
func perItemPlanLine(desc pipeline.StageDescriptor, sp pipeline.StagePlan) string {
	if sp.Skipped {
		return fmt.Sprintf("%s: skipped", desc.ID)
	}
	line := fmt.Sprintf("%s: %d to process, %d already complete",
		desc.ID, len(sp.NeedsProcessing), len(sp.AlreadyComplete))
	if len(sp.Ineligible) > 0 {
		line += fmt.Sprintf(", %d ineligible", len(sp.Ineligible))
	}
	if sp.Forced {
		line += " (forced)"
	}
	return line
}
