// Package local provides a deterministic, offline implementation of
// collab.ModelClient. Classification, article generation, synthesis, and
// embeddings are all pure functions of their inputs, so full pipeline
// runs work without network access and tests get stable outputs.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"strings"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
)

// EmbeddingDim is the vector width the local embedder produces.
const EmbeddingDim = 64

// ModelName identifies the local model in stored embeddings.
const ModelName = "local-deterministic-v1"

// taxonomy is the fixed category vocabulary the classifier draws from.
var taxonomy = map[string][]string{
	"engineering": {"golang", "databases", "distributed-systems", "tooling"},
	"science":     {"physics", "biology", "mathematics"},
	"culture":     {"history", "design", "writing"},
}

// Model implements collab.ModelClient with hash-derived outputs.
type Model struct{}

// NewModel returns the deterministic local model.
func NewModel() *Model {
	return &Model{}
}

var _ collab.ModelClient = (*Model)(nil)

// Classify derives a stable category from the item's identity and payload.
func (m *Model) Classify(_ context.Context, item *models.Item) (*collab.Classification, error) {
	if item == nil {
		return nil, fmt.Errorf("classify: nil item")
	}

	mains := make([]string, 0, len(taxonomy))
	for main := range taxonomy {
		mains = append(mains, main)
	}
	sort.Strings(mains)

	h := hashOf(item.ItemID, string(item.RawPayload))
	main := mains[h%uint64(len(mains))]
	subs := taxonomy[main]
	sub := subs[(h/7)%uint64(len(subs))]

	return &collab.Classification{
		MainCategory: main,
		SubCategory:  sub,
		ShortName:    shortName(item.ItemID),
	}, nil
}

// DescribeMedia produces one descriptor per attached media path. The
// description is derived from the path so repeated runs agree.
func (m *Model) DescribeMedia(_ context.Context, item *models.Item) ([]collab.MediaDescriptor, error) {
	if item == nil {
		return nil, fmt.Errorf("describe media: nil item")
	}

	out := make([]collab.MediaDescriptor, 0, len(item.MediaPaths))
	for _, p := range item.MediaPaths {
		out = append(out, collab.MediaDescriptor{
			Path:        p,
			Kind:        mediaKind(p),
			Description: fmt.Sprintf("%s asset %s attached to %s", mediaKind(p), filepath.Base(p), item.ItemID),
		})
	}
	return out, nil
}

// GenerateArticle renders a stable long-form document for the item.
func (m *Model) GenerateArticle(_ context.Context, item *models.Item) (*collab.Article, error) {
	if item == nil {
		return nil, fmt.Errorf("generate article: nil item")
	}

	title := shortName(item.ItemID)
	if item.ShortName != nil && *item.ShortName != "" {
		title = *item.ShortName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	if item.MainCategory != nil && item.SubCategory != nil {
		fmt.Fprintf(&b, "Category: %s / %s\n\n", *item.MainCategory, *item.SubCategory)
	}
	fmt.Fprintf(&b, "## Source\n\nBookmark `%s`.\n\n", item.ItemID)
	if len(item.RawPayload) > 0 {
		fmt.Fprintf(&b, "## Notes\n\n```json\n%s\n```\n", strings.TrimSpace(string(item.RawPayload)))
	}
	if len(item.MediaPaths) > 0 {
		b.WriteString("\n## Media\n\n")
		for _, p := range item.MediaPaths {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}

	return &collab.Article{Title: title, Markdown: b.String()}, nil
}

// Synthesize composes an aggregate document over a sub-category. Sources
// are ordered by item ID so output does not depend on input order.
func (m *Model) Synthesize(_ context.Context, subCategory, mode string, sources []*models.KnowledgeItem) (*collab.Article, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("synthesize %s: no sources", subCategory)
	}

	ordered := make([]*models.KnowledgeItem, len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ItemID < ordered[j].ItemID })

	title := fmt.Sprintf("%s overview", subCategory)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "A %s synthesis of %d entries.\n\n", mode, len(ordered))
	for _, src := range ordered {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", src.Title, excerpt(src.ContentMarkdown, 280))
	}

	return &collab.Article{Title: title, Markdown: b.String()}, nil
}

// Embed maps each text to a unit-free vector seeded by its content hash.
func (m *Model) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, EmbeddingDim)
		for d := range vec {
			h := hashOf(text, fmt.Sprintf("dim:%d", d))
			// Map the hash onto [-1, 1).
			vec[d] = float32(int64(h%2000))/1000 - 1
		}
		out[i] = vec
	}
	return out, nil
}

func hashOf(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// shortName turns an item ID into a readable title.
func shortName(itemID string) string {
	name := strings.NewReplacer("-", " ", "_", " ").Replace(itemID)
	return strings.TrimSpace(name)
}

func mediaKind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return "image"
	case ".mp4", ".mov", ".webm":
		return "video"
	case ".pdf":
		return "pdf"
	}
	return "file"
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n]) + "…"
}
