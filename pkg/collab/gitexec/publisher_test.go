package gitexec

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a throwaway git repository with one commit so HEAD
// exists. Tests are skipped when git is not installed.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "seed")
	return dir
}

func TestSyncCommitsNewContent(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("# note\n"), 0o644))

	p := NewPublisher(dir, false)
	committed, err := p.Sync(context.Background(), "update knowledge base")
	require.NoError(t, err)
	assert.True(t, committed)

	out, err := exec.Command("git", "-C", dir, "log", "-1", "--format=%s").Output()
	require.NoError(t, err)
	assert.Equal(t, "update knowledge base", strings.TrimSpace(string(out)))
}

func TestSyncCleanTreeCommitsNothing(t *testing.T) {
	dir := initRepo(t)

	p := NewPublisher(dir, false)
	committed, err := p.Sync(context.Background(), "no-op")
	require.NoError(t, err)
	assert.False(t, committed)

	out, err := exec.Command("git", "-C", dir, "rev-list", "--count", "HEAD").Output()
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(string(out)))
}

func TestSyncIsIdempotentPerContent(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("# note\n"), 0o644))

	p := NewPublisher(dir, false)
	committed, err := p.Sync(context.Background(), "first")
	require.NoError(t, err)
	assert.True(t, committed)

	// Nothing changed since the last sync.
	committed, err = p.Sync(context.Background(), "second")
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestSyncFailsOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	p := NewPublisher(t.TempDir(), false)
	_, err := p.Sync(context.Background(), "nope")
	assert.Error(t, err)
}
