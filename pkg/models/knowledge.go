package models

import "time"

// KnowledgeItem is the queryable row the db_sync stage materializes from a
// generated artifact.
type KnowledgeItem struct {
	ItemID          string    `db:"item_id" json:"item_id"`
	Title           string    `db:"title" json:"title"`
	MainCategory    string    `db:"main_category" json:"main_category"`
	SubCategory     string    `db:"sub_category" json:"sub_category"`
	ContentMarkdown string    `db:"content_markdown" json:"content_markdown"`
	SourceURL       *string   `db:"source_url" json:"source_url,omitempty"`
	SyncedAt        time.Time `db:"synced_at" json:"synced_at"`
}

// Embedding is one stored vector for an item's artifact.
type Embedding struct {
	ItemID     string    `db:"item_id" json:"item_id"`
	Vector     JSONText  `db:"vector" json:"vector"`
	Model      string    `db:"model" json:"model"`
	EmbeddedAt time.Time `db:"embedded_at" json:"embedded_at"`
}
