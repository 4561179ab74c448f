package markdown

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curioworks/curio/pkg/collab"
	"github.com/curioworks/curio/pkg/models"
)

func strp(s string) *string { return &s }

func TestRenderItemWritesUnderSubCategory(t *testing.T) {
	root := t.TempDir()
	r := NewRenderer(root)

	item := &models.Item{ItemID: "b-001", SubCategory: strp("Distributed Systems")}
	rel, err := r.RenderItem(item, &collab.Article{Title: "x", Markdown: "# x\n"})
	require.NoError(t, err)
	assert.Equal(t, "docs/distributed-systems/b-001.md", rel)

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "# x\n", string(content))
}

func TestRenderItemWithoutCategoryFallsBack(t *testing.T) {
	r := NewRenderer(t.TempDir())
	rel, err := r.RenderItem(&models.Item{ItemID: "b-002"}, &collab.Article{Markdown: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "docs/uncategorized/b-002.md", rel)
}

func TestRenderItemIsIdempotent(t *testing.T) {
	root := t.TempDir()
	r := NewRenderer(root)
	item := &models.Item{ItemID: "b-001", SubCategory: strp("golang")}
	article := &collab.Article{Markdown: "# same\n"}

	first, err := r.RenderItem(item, article)
	require.NoError(t, err)
	second, err := r.RenderItem(item, article)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(first)))
	require.NoError(t, err)
	assert.Equal(t, "# same\n", string(content))
}

func TestRenderSynthesisPath(t *testing.T) {
	r := NewRenderer(t.TempDir())
	rel, err := r.RenderSynthesis("golang", &collab.Article{Markdown: "# overview\n"})
	require.NoError(t, err)
	assert.Equal(t, "docs/golang/_synthesis.md", rel)
}

func TestRenderReadmeGroupsByCategory(t *testing.T) {
	root := t.TempDir()
	r := NewRenderer(root)

	items := []*models.Item{
		{
			ItemID: "b-002", Generated: true,
			MainCategory: strp("engineering"), ShortName: strp("Raft"),
			ArtifactPath: strp("docs/golang/b-002.md"),
		},
		{
			ItemID: "b-001", Generated: true,
			MainCategory: strp("engineering"),
			ArtifactPath: strp("docs/golang/b-001.md"),
		},
		{
			ItemID: "b-003", Generated: true,
			MainCategory: strp("culture"), ShortName: strp("Type design"),
			ArtifactPath: strp("docs/design/b-003.md"),
		},
		{ItemID: "b-004"}, // not generated: excluded
	}

	rel, err := r.RenderReadme(items)
	require.NoError(t, err)
	assert.Equal(t, "README.md", rel)

	content, err := os.ReadFile(filepath.Join(root, "README.md"))
	require.NoError(t, err)
	text := string(content)

	assert.Contains(t, text, "3 entries.")
	assert.Contains(t, text, "## culture")
	assert.Contains(t, text, "## engineering")
	assert.Contains(t, text, "[Raft](docs/golang/b-002.md)")
	assert.Contains(t, text, "[b-001](docs/golang/b-001.md)")
	assert.NotContains(t, text, "b-004")
}
