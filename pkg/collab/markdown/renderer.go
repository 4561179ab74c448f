// Package markdown implements collab.Renderer over a plain directory
// tree. Item articles land under docs/{sub_category}/, synthesis
// documents under docs/{sub_category}/_synthesis.md, and the index at
// README.md. All returned paths are relative to the project root and
// slash-separated, which is what item records store.
package markdown

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
)

// Renderer writes markdown artifacts under a project root.
type Renderer struct {
	root string
}

var _ collab.Renderer = (*Renderer)(nil)

// NewRenderer creates a renderer rooted at dir.
func NewRenderer(dir string) *Renderer {
	return &Renderer{root: dir}
}

// RenderItem writes the article for one item and returns its relative path.
func (r *Renderer) RenderItem(item *models.Item, article *collab.Article) (string, error) {
	sub := "uncategorized"
	if item.SubCategory != nil && *item.SubCategory != "" {
		sub = slug(*item.SubCategory)
	}
	rel := path.Join("docs", sub, item.ItemID+".md")
	if err := r.write(rel, article.Markdown); err != nil {
		return "", fmt.Errorf("render item %s: %w", item.ItemID, err)
	}
	return rel, nil
}

// RenderSynthesis writes the aggregate document for a sub-category.
func (r *Renderer) RenderSynthesis(subCategory string, article *collab.Article) (string, error) {
	rel := path.Join("docs", slug(subCategory), "_synthesis.md")
	if err := r.write(rel, article.Markdown); err != nil {
		return "", fmt.Errorf("render synthesis %s: %w", subCategory, err)
	}
	return rel, nil
}

// RenderReadme writes the top-level index over all generated items,
// grouped by main and sub category.
func (r *Renderer) RenderReadme(items []*models.Item) (string, error) {
	var b strings.Builder
	b.WriteString("# Knowledge Base\n\n")
	fmt.Fprintf(&b, "%d entries.\n", countGenerated(items))

	for _, main := range mainCategories(items) {
		fmt.Fprintf(&b, "\n## %s\n\n", main)
		for _, item := range itemsUnder(items, main) {
			title := item.ItemID
			if item.ShortName != nil && *item.ShortName != "" {
				title = *item.ShortName
			}
			if item.ArtifactPath != nil {
				fmt.Fprintf(&b, "- [%s](%s)\n", title, *item.ArtifactPath)
			} else {
				fmt.Fprintf(&b, "- %s\n", title)
			}
		}
	}

	if err := r.write("README.md", b.String()); err != nil {
		return "", fmt.Errorf("render readme: %w", err)
	}
	return "README.md", nil
}

// write creates parent directories and replaces the file at the relative
// path. A rewrite with identical content is a no-op from the reader's
// point of view, which keeps stage reruns idempotent.
func (r *Renderer) write(rel, content string) error {
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func countGenerated(items []*models.Item) int {
	n := 0
	for _, item := range items {
		if item.Generated {
			n++
		}
	}
	return n
}

func mainCategories(items []*models.Item) []string {
	seen := map[string]bool{}
	for _, item := range items {
		if item.Generated && item.MainCategory != nil {
			seen[*item.MainCategory] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func itemsUnder(items []*models.Item, main string) []*models.Item {
	var out []*models.Item
	for _, item := range items {
		if item.Generated && item.MainCategory != nil && *item.MainCategory == main {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}

// slug normalizes a category name into a directory name.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "-", "/", "-").Replace(s)
	return s
}
