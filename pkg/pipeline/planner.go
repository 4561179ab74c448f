package pipeline

import (
	"sort"

	"github.com/curioworks/curio/pkg/models"
)

// IneligibleReason explains why an item cannot be processed by a stage
// even though its prerequisites are met.
type IneligibleReason string

const (
	ReasonMissingCategory IneligibleReason = "MISSING_CATEGORY"
	ReasonMissingArtifact IneligibleReason = "MISSING_ARTIFACT"
)

// IneligibleItem pairs an item with the reason it was excluded.
type IneligibleItem struct {
	ItemID string           `json:"item_id"`
	Reason IneligibleReason `json:"reason"`
}

// StagePlan is one stage's share of the execution plan. For per-item
// stages the work units are item IDs; for aggregate stages, group keys;
// for global stages, the stage's own ID as a single pseudo-unit.
type StagePlan struct {
	StageID StageID   `json:"stage_id"`
	Kind    StageKind `json:"kind"`
	Skipped bool      `json:"skipped"`
	Forced  bool      `json:"forced"`

	NeedsProcessing []string         `json:"needs_processing"`
	AlreadyComplete []string         `json:"already_complete"`
	Ineligible      []IneligibleItem `json:"ineligible,omitempty"`

	// PendingMembers counts items whose group key an earlier stage of
	// this same run will assign. Aggregate stages with no known groups
	// but a non-zero pending count still execute; the handler re-groups
	// from live item state.
	PendingMembers int `json:"pending_members,omitempty"`
}

// Plan is the ordered execution plan for one task. Immutable after
// creation; the worker recomputes it at run start from a fresh item scan.
type Plan struct {
	Stages []StagePlan `json:"stages"`
}

// WorkUnits is the total number of units the plan will process.
func (p *Plan) WorkUnits() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.NeedsProcessing)
	}
	return n
}

// StageFor returns the plan entry for a stage, if present.
func (p *Plan) StageFor(id StageID) (StagePlan, bool) {
	for _, s := range p.Stages {
		if s.StageID == id {
			return s, true
		}
	}
	return StagePlan{}, false
}

// projection tracks the flags an item is expected to have at each point
// of the plan: stored state, minus force invalidation, plus the flags
// earlier planned stages will set.
type projection struct {
	flags map[string]map[string]bool // item_id -> flag column -> value
	// inPlan records which items each stage will process, so data
	// eligibility checks know when a missing field will be filled in by
	// an earlier stage of this same run.
	inPlan map[StageID]map[string]bool
}

func project(items []models.Item) *projection {
	p := &projection{
		flags:  make(map[string]map[string]bool, len(items)),
		inPlan: make(map[StageID]map[string]bool),
	}
	for i := range items {
		it := &items[i]
		p.flags[it.ItemID] = map[string]bool{
			"cached":      it.Cached,
			"media_done":  it.MediaDone,
			"categorized": it.Categorized,
			"generated":   it.Generated,
			"db_synced":   it.DBSynced,
			"embedded":    it.Embedded,
		}
	}
	return p
}

func (p *projection) get(itemID, flag string) bool { return p.flags[itemID][flag] }

func (p *projection) clear(itemID string, flags []string) {
	for _, f := range flags {
		p.flags[itemID][f] = false
	}
}

func (p *projection) markInPlan(stage StageID, itemID string) {
	if p.inPlan[stage] == nil {
		p.inPlan[stage] = make(map[string]bool)
	}
	p.inPlan[stage][itemID] = true
}

func (p *projection) willProcess(stage StageID, itemID string) bool {
	return p.inPlan[stage][itemID]
}

// prereqMet reports whether an item's prerequisite flags for a per-item
// stage hold in the projection.
func (p *projection) prereqMet(stage StageID, itemID string) bool {
	switch stage {
	case StageCache:
		return true
	case StageMedia:
		return p.get(itemID, "cached")
	case StageCategorize:
		return p.get(itemID, "media_done")
	case StageGenerate:
		return p.get(itemID, "categorized")
	case StageDBSync, StageEmbed:
		return p.get(itemID, "generated")
	}
	return false
}

// BuildPlan computes the execution plan for the given item snapshot and
// directives. Pure: no I/O, no mutation of its inputs, deterministic
// output with ties broken by item_id ascending.
func BuildPlan(items []models.Item, d *Directives) *Plan {
	sorted := make([]models.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ItemID < sorted[j].ItemID })

	proj := project(sorted)

	// Forcing a stage invalidates its flag and everything downstream for
	// the items it can reach, so later placement re-selects them.
	for _, id := range stageOrder {
		desc := descriptors[id]
		if desc.Kind != KindPerItem || !enabled(d, id) || !d.Forced(id) {
			continue
		}
		for i := range sorted {
			if proj.prereqMet(id, sorted[i].ItemID) {
				proj.clear(sorted[i].ItemID, downstreamFlags[id])
			}
		}
	}

	plan := &Plan{Stages: make([]StagePlan, 0, len(d.Stages))}
	for _, id := range d.Stages {
		desc := descriptors[id]
		sp := StagePlan{StageID: id, Kind: desc.Kind, Forced: d.Forced(id)}
		if d.Skipped(id) {
			sp.Skipped = true
			sp.Forced = false
			plan.Stages = append(plan.Stages, sp)
			continue
		}

		switch desc.Kind {
		case KindPerItem:
			planPerItem(&sp, sorted, proj)
		case KindAggregate:
			planAggregate(&sp, sorted, proj)
		case KindGlobal:
			sp.NeedsProcessing = []string{string(id)}
		}
		plan.Stages = append(plan.Stages, sp)
	}
	return plan
}

func enabled(d *Directives, id StageID) bool {
	for _, s := range d.Stages {
		if s == id {
			return !d.Skipped(id)
		}
	}
	return false
}

func planPerItem(sp *StagePlan, items []models.Item, proj *projection) {
	flag := descriptors[sp.StageID].FlagColumn
	for i := range items {
		it := &items[i]
		if !proj.prereqMet(sp.StageID, it.ItemID) {
			continue
		}
		if proj.get(it.ItemID, flag) && !sp.Forced {
			sp.AlreadyComplete = append(sp.AlreadyComplete, it.ItemID)
			continue
		}
		if reason, ok := ineligibleFor(sp.StageID, it, proj); ok {
			sp.Ineligible = append(sp.Ineligible, IneligibleItem{ItemID: it.ItemID, Reason: reason})
			continue
		}
		sp.NeedsProcessing = append(sp.NeedsProcessing, it.ItemID)
		proj.markInPlan(sp.StageID, it.ItemID)
		proj.flags[it.ItemID][flag] = true
	}
}

// ineligibleFor checks data requirements beyond prerequisite flags. A
// field an earlier stage of this same plan will fill is not missing.
func ineligibleFor(stage StageID, it *models.Item, proj *projection) (IneligibleReason, bool) {
	switch stage {
	case StageGenerate:
		if it.SubCategory == nil && !proj.willProcess(StageCategorize, it.ItemID) {
			return ReasonMissingCategory, true
		}
	case StageDBSync, StageEmbed:
		if it.ArtifactPath == nil && !proj.willProcess(StageGenerate, it.ItemID) {
			return ReasonMissingArtifact, true
		}
	}
	return "", false
}

// planAggregate shapes the synthesize stage: one work unit per distinct
// sub-category among generated items. Items generated earlier in this
// plan re-group at execution time; the plan previews stored categories.
func planAggregate(sp *StagePlan, items []models.Item, proj *projection) {
	groups := make(map[string]bool)
	for i := range items {
		it := &items[i]
		if !proj.get(it.ItemID, "generated") {
			continue
		}
		if it.SubCategory == nil {
			if proj.willProcess(StageCategorize, it.ItemID) {
				sp.PendingMembers++
			} else {
				sp.Ineligible = append(sp.Ineligible, IneligibleItem{ItemID: it.ItemID, Reason: ReasonMissingCategory})
			}
			continue
		}
		groups[*it.SubCategory] = true
	}
	for g := range groups {
		sp.NeedsProcessing = append(sp.NeedsProcessing, g)
	}
	sort.Strings(sp.NeedsProcessing)
}
