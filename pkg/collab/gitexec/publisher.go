// Package gitexec implements collab.GitPublisher by shelling out to the
// git binary. The project root must already be a clone with a configured
// remote and upstream; this package only stages, commits, and pushes.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/curioworks/curio/pkg/collab"
)

// Publisher syncs a working tree to its remote.
type Publisher struct {
	dir    string
	push   bool
	logger *slog.Logger
}

var _ collab.GitPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher for the repository at dir. When push
// is false the commit stays local, which is what dev setups want.
func NewPublisher(dir string, push bool) *Publisher {
	return &Publisher{
		dir:    dir,
		push:   push,
		logger: slog.Default(),
	}
}

// Sync stages everything, commits with the given message, and pushes.
// A clean tree commits nothing and returns committed=false.
func (p *Publisher) Sync(ctx context.Context, message string) (bool, error) {
	if _, err := p.git(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}

	clean, err := p.stagedClean(ctx)
	if err != nil {
		return false, err
	}
	if clean {
		p.logger.Info("Git tree clean, nothing to publish", "dir", p.dir)
		return false, nil
	}

	if _, err := p.git(ctx, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("git commit: %w", err)
	}
	if p.push {
		if _, err := p.git(ctx, "push"); err != nil {
			return true, fmt.Errorf("git push: %w", err)
		}
	}
	return true, nil
}

// stagedClean reports whether the index matches HEAD. diff --cached
// exits 1 when there are staged changes, which is not an error here.
func (p *Publisher) stagedClean(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", p.dir, "diff", "--cached", "--quiet")
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("git diff --cached: %w", err)
}

// git runs one git subcommand in the repository and returns its combined
// output, which is folded into the error on failure.
func (p *Publisher) git(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", p.dir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}
