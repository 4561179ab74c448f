// Package pipeline holds the stage model: descriptors and DAG order,
// preference validation into immutable directives, the pure execution
// planner, and the stage handler contract.
package pipeline

// StageID identifies one pipeline stage.
type StageID string

const (
	StageFetch      StageID = "fetch"
	StageCache      StageID = "cache"
	StageMedia      StageID = "media"
	StageCategorize StageID = "categorize"
	StageGenerate   StageID = "generate"
	StageDBSync     StageID = "db_sync"
	StageSynthesize StageID = "synthesize"
	StageEmbed      StageID = "embed"
	StageReadme     StageID = "readme"
	StageGitSync    StageID = "git_sync"
)

// StageKind determines how the planner shapes a stage's work units.
type StageKind string

const (
	// KindPerItem stages process each eligible item independently.
	KindPerItem StageKind = "per_item"
	// KindAggregate stages process groups of items (one unit per group).
	KindAggregate StageKind = "aggregate"
	// KindGlobal stages run once over the whole project.
	KindGlobal StageKind = "global"
)

// StageDescriptor declares a stage's position in the pipeline.
type StageDescriptor struct {
	ID   StageID
	Kind StageKind
	// Dependencies are the stages whose output this stage consumes.
	Dependencies []StageID
	// FlagColumn is the item flag this stage sets, empty for stages
	// without per-item completion state.
	FlagColumn string
	// Description is the one-line operator-facing summary.
	Description string
}

// stageOrder is the full pipeline in DAG execution order.
var stageOrder = []StageID{
	StageFetch,
	StageCache,
	StageMedia,
	StageCategorize,
	StageGenerate,
	StageDBSync,
	StageSynthesize,
	StageEmbed,
	StageReadme,
	StageGitSync,
}

var descriptors = map[StageID]StageDescriptor{
	StageFetch: {
		ID: StageFetch, Kind: KindGlobal,
		Description: "discover bookmarks at the source and register new items",
	},
	StageCache: {
		ID: StageCache, Kind: KindPerItem,
		Dependencies: []StageID{StageFetch},
		FlagColumn:   "cached",
		Description:  "materialize raw payloads and media locally",
	},
	StageMedia: {
		ID: StageMedia, Kind: KindPerItem,
		Dependencies: []StageID{StageCache},
		FlagColumn:   "media_done",
		Description:  "describe media assets with the vision model",
	},
	StageCategorize: {
		ID: StageCategorize, Kind: KindPerItem,
		Dependencies: []StageID{StageMedia},
		FlagColumn:   "categorized",
		Description:  "assign main/sub category and short name",
	},
	StageGenerate: {
		ID: StageGenerate, Kind: KindPerItem,
		Dependencies: []StageID{StageCategorize},
		FlagColumn:   "generated",
		Description:  "generate the markdown article artifact",
	},
	StageDBSync: {
		ID: StageDBSync, Kind: KindPerItem,
		Dependencies: []StageID{StageGenerate},
		FlagColumn:   "db_synced",
		Description:  "materialize queryable knowledge rows",
	},
	StageSynthesize: {
		ID: StageSynthesize, Kind: KindAggregate,
		Dependencies: []StageID{StageGenerate},
		Description:  "write per-subcategory synthesis documents",
	},
	StageEmbed: {
		ID: StageEmbed, Kind: KindPerItem,
		Dependencies: []StageID{StageGenerate},
		FlagColumn:   "embedded",
		Description:  "embed artifacts into the vector store",
	},
	StageReadme: {
		ID: StageReadme, Kind: KindGlobal,
		Dependencies: []StageID{StageGenerate},
		Description:  "regenerate the project index",
	},
	StageGitSync: {
		ID: StageGitSync, Kind: KindGlobal,
		Dependencies: []StageID{StageReadme},
		Description:  "commit and push the project tree",
	},
}

// StageOrder returns the full pipeline stage list in execution order.
func StageOrder() []StageID {
	out := make([]StageID, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// DescriptorFor returns the descriptor for a stage ID.
func DescriptorFor(id StageID) (StageDescriptor, bool) {
	d, ok := descriptors[id]
	return d, ok
}

// KnownStage reports whether id names a pipeline stage.
func KnownStage(id StageID) bool {
	_, ok := descriptors[id]
	return ok
}

// downstreamFlags maps a per-item stage to the item flags invalidated
// when that stage is forced to re-run: its own flag plus every flag whose
// stage consumes its output, transitively.
var downstreamFlags = map[StageID][]string{
	StageCache:      {"cached", "media_done", "categorized", "generated", "db_synced", "embedded"},
	StageMedia:      {"media_done", "categorized", "generated", "db_synced", "embedded"},
	StageCategorize: {"categorized", "generated", "db_synced", "embedded"},
	StageGenerate:   {"generated", "db_synced", "embedded"},
	StageDBSync:     {"db_synced"},
	StageEmbed:      {"embedded"},
}

// InvalidatedFlags returns the item flag columns a forced re-run of the
// stage invalidates: its own flag plus everything downstream. Nil for
// stages without per-item flags.
func InvalidatedFlags(id StageID) []string {
	flags := downstreamFlags[id]
	out := make([]string, len(flags))
	copy(out, flags)
	return out
}
