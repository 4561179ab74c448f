// Package collab defines the collaborator boundaries the pipeline stages
// call out through: the AI model, the bookmark source scraper, the
// markdown renderer, the vector store, and the git publisher. Stage
// handlers depend only on these interfaces; wiring picks concrete
// implementations at startup.
package collab

import (
	"context"

	"github.com/curioworks/curio/pkg/models"
)

// Classification is the model's category verdict for one item.
type Classification struct {
	MainCategory string `json:"main_category"`
	SubCategory  string `json:"sub_category"`
	ShortName    string `json:"short_name"`
}

// MediaDescriptor describes one media asset attached to an item.
type MediaDescriptor struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"` // image, video, pdf
	Description string `json:"description"`
}

// Article is a generated long-form document for an item.
type Article struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
}

// ModelClient is the AI model boundary.
type ModelClient interface {
	// Classify assigns main/sub category and a short name to an item.
	Classify(ctx context.Context, item *models.Item) (*Classification, error)
	// DescribeMedia produces descriptors for an item's media assets.
	DescribeMedia(ctx context.Context, item *models.Item) ([]MediaDescriptor, error)
	// GenerateArticle produces the long-form markdown document for an item.
	GenerateArticle(ctx context.Context, item *models.Item) (*Article, error)
	// Synthesize produces an aggregate document over a sub-category's
	// articles in the given synthesis mode.
	Synthesize(ctx context.Context, subCategory, mode string, sources []*models.KnowledgeItem) (*Article, error)
	// Embed produces one vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Discovered is one bookmark found at the source.
type Discovered struct {
	ItemID      string
	RawPayload  []byte
	ContentHash string
}

// Scraper is the bookmark source boundary.
type Scraper interface {
	// Discover lists the bookmarks currently at the source.
	Discover(ctx context.Context) ([]Discovered, error)
	// Fetch materializes an item's full payload and media references.
	Fetch(ctx context.Context, item *models.Item) (payload []byte, mediaPaths []string, err error)
}

// Renderer writes artifacts under the project root and returns their
// project-root-relative paths.
type Renderer interface {
	RenderItem(item *models.Item, article *Article) (artifactPath string, err error)
	RenderSynthesis(subCategory string, article *Article) (artifactPath string, err error)
	RenderReadme(items []*models.Item) (artifactPath string, err error)
}

// VectorStore persists embedding vectors keyed by item.
type VectorStore interface {
	Upsert(ctx context.Context, itemID string, vector []float32, model string) error
	Delete(ctx context.Context, itemID string) error
}

// GitPublisher syncs the project tree to the remote.
type GitPublisher interface {
	// Sync stages everything under the project root, commits with the
	// given message, and pushes. A clean tree is not an error.
	Sync(ctx context.Context, message string) (committed bool, err error)
}
