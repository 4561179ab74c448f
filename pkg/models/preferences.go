package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RunMode selects which stages a task executes.
type RunMode string

const (
	RunFullPipeline  RunMode = "full_pipeline"
	RunFetchOnly     RunMode = "fetch_only"
	RunSynthesisOnly RunMode = "synthesis_only"
	RunEmbeddingOnly RunMode = "embedding_only"
	RunGitOnly       RunMode = "git_only"
	RunCustom        RunMode = "custom"
)

// Valid reports whether m is a known run mode.
func (m RunMode) Valid() bool {
	switch m {
	case RunFullPipeline, RunFetchOnly, RunSynthesisOnly, RunEmbeddingOnly, RunGitOnly, RunCustom:
		return true
	}
	return false
}

// Preferences is the closed set of user inputs accepted at task creation.
// A frozen copy is stored on the task record. Unknown JSON fields are
// rejected at the API boundary via ParsePreferences.
type Preferences struct {
	RunMode RunMode `json:"run_mode"`

	SkipFetch      bool `json:"skip_fetch,omitempty"`
	SkipCache      bool `json:"skip_cache,omitempty"`
	SkipMedia      bool `json:"skip_media,omitempty"`
	SkipCategorize bool `json:"skip_categorize,omitempty"`
	SkipGenerate   bool `json:"skip_generate,omitempty"`
	SkipDBSync     bool `json:"skip_db_sync,omitempty"`
	SkipSynthesize bool `json:"skip_synthesize,omitempty"`
	SkipEmbed      bool `json:"skip_embed,omitempty"`
	SkipReadme     bool `json:"skip_readme,omitempty"`
	SkipGitSync    bool `json:"skip_git_sync,omitempty"`

	ForceFetch      bool `json:"force_fetch,omitempty"`
	ForceCache      bool `json:"force_cache,omitempty"`
	ForceMedia      bool `json:"force_media,omitempty"`
	ForceCategorize bool `json:"force_categorize,omitempty"`
	ForceGenerate   bool `json:"force_generate,omitempty"`
	ForceDBSync     bool `json:"force_db_sync,omitempty"`
	ForceSynthesize bool `json:"force_synthesize,omitempty"`
	ForceEmbed      bool `json:"force_embed,omitempty"`
	ForceReadme     bool `json:"force_readme,omitempty"`
	ForceGitSync    bool `json:"force_git_sync,omitempty"`

	// ForceAll implies every force flag above.
	ForceAll bool `json:"force_all,omitempty"`

	// SynthesisMode is comprehensive, technical, or practical.
	// Empty means the configured default.
	SynthesisMode string `json:"synthesis_mode,omitempty"`

	// MaxConcurrentItems bounds per-stage item concurrency.
	// Zero means the configured default.
	MaxConcurrentItems int `json:"max_concurrent_items,omitempty"`

	// FailFast fails a stage on its first item error.
	FailFast bool `json:"fail_fast,omitempty"`

	// CustomStages is the explicit stage set for run_mode=custom.
	CustomStages []string `json:"custom_stages,omitempty"`
}

// SkipFor reports whether the skip flag for the given stage is set.
func (p Preferences) SkipFor(stageID string) bool {
	switch stageID {
	case "fetch":
		return p.SkipFetch
	case "cache":
		return p.SkipCache
	case "media":
		return p.SkipMedia
	case "categorize":
		return p.SkipCategorize
	case "generate":
		return p.SkipGenerate
	case "db_sync":
		return p.SkipDBSync
	case "synthesize":
		return p.SkipSynthesize
	case "embed":
		return p.SkipEmbed
	case "readme":
		return p.SkipReadme
	case "git_sync":
		return p.SkipGitSync
	}
	return false
}

// ForceFor reports whether the force flag for the given stage is set,
// honoring ForceAll.
func (p Preferences) ForceFor(stageID string) bool {
	if p.ForceAll {
		return true
	}
	switch stageID {
	case "fetch":
		return p.ForceFetch
	case "cache":
		return p.ForceCache
	case "media":
		return p.ForceMedia
	case "categorize":
		return p.ForceCategorize
	case "generate":
		return p.ForceGenerate
	case "db_sync":
		return p.ForceDBSync
	case "synthesize":
		return p.ForceSynthesize
	case "embed":
		return p.ForceEmbed
	case "readme":
		return p.ForceReadme
	case "git_sync":
		return p.ForceGitSync
	}
	return false
}

// ParsePreferences decodes raw JSON strictly: unknown fields are rejected.
func ParsePreferences(data []byte) (*Preferences, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Preferences
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid preferences: %w", err)
	}
	return &p, nil
}

// Value implements driver.Valuer for JSONB storage of the frozen copy.
func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (p *Preferences) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Preferences{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("unsupported preferences source type %T", src)
}
