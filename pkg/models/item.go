package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// JSONText is a raw JSON column with database round-tripping.
type JSONText = types.JSONText

// Item is one content unit the pipeline processes. Stage flags gate the
// planner: generated implies categorized implies media_done implies cached;
// embedded and db_synced each imply generated.
type Item struct {
	ItemID     string   `db:"item_id" json:"item_id"`
	RawPayload JSONText `db:"raw_payload" json:"raw_payload,omitempty"`

	Cached      bool `db:"cached" json:"cached"`
	MediaDone   bool `db:"media_done" json:"media_done"`
	Categorized bool `db:"categorized" json:"categorized"`
	Generated   bool `db:"generated" json:"generated"`
	DBSynced    bool `db:"db_synced" json:"db_synced"`
	Embedded    bool `db:"embedded" json:"embedded"`

	MainCategory     *string    `db:"main_category" json:"main_category,omitempty"`
	SubCategory      *string    `db:"sub_category" json:"sub_category,omitempty"`
	ShortName        *string    `db:"short_name" json:"short_name,omitempty"`
	ContentHash      *string    `db:"content_hash" json:"content_hash,omitempty"`
	MediaDescriptors JSONText   `db:"media_descriptors" json:"media_descriptors,omitempty"`
	ArtifactPath     *string    `db:"artifact_path" json:"artifact_path,omitempty"`
	MediaPaths       StringList `db:"media_paths" json:"media_paths,omitempty"`

	// Version is the optimistic concurrency counter; every committed
	// update increments it.
	Version   int64     `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ItemPatch is a scoped update applied through the item repository.
// Nil fields are left untouched.
type ItemPatch struct {
	Cached      *bool `json:"cached,omitempty"`
	MediaDone   *bool `json:"media_done,omitempty"`
	Categorized *bool `json:"categorized,omitempty"`
	Generated   *bool `json:"generated,omitempty"`
	DBSynced    *bool `json:"db_synced,omitempty"`
	Embedded    *bool `json:"embedded,omitempty"`

	RawPayload       *JSONText   `json:"raw_payload,omitempty"`
	MainCategory     *string     `json:"main_category,omitempty"`
	SubCategory      *string     `json:"sub_category,omitempty"`
	ShortName        *string     `json:"short_name,omitempty"`
	ContentHash      *string     `json:"content_hash,omitempty"`
	MediaDescriptors *JSONText   `json:"media_descriptors,omitempty"`
	ArtifactPath     *string     `json:"artifact_path,omitempty"`
	MediaPaths       *StringList `json:"media_paths,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p ItemPatch) IsZero() bool {
	return p == ItemPatch{}
}

// ItemUpdate pairs an item with the patch a stage produced for it.
type ItemUpdate struct {
	ItemID          string    `json:"item_id"`
	Patch           ItemPatch `json:"patch"`
	ExpectedVersion int64     `json:"expected_version"`
}

// ItemFilter selects items by stage-flag state. Nil fields match anything.
type ItemFilter struct {
	Cached      *bool
	MediaDone   *bool
	Categorized *bool
	Generated   *bool
	DBSynced    *bool
	Embedded    *bool
	SubCategory *string
}

// StringList is a []string stored as a JSONB column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported string list source type %T", src)
}
