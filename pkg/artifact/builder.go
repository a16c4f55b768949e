// Package artifact builds a local job artifact and locates the file to
// upload.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/livyctl/pkg/submission"
)

// Resolution errors.
var (
	ErrNoMatch        = errors.New("artifact pattern matched no files")
	ErrAmbiguousMatch = errors.New("artifact pattern matched more than one file")
)

// DefaultShell runs build commands.
var DefaultShell = []string{"sh", "-c"}

// Builder runs an optional build command and resolves the parameter's
// artifact pattern to one file.
type Builder struct {
	// Command is the build command line. Empty skips the build.
	Command string

	// WorkDir is where Command runs and relative patterns resolve.
	WorkDir string

	// Shell overrides DefaultShell.
	Shell []string

	// Output receives build stdout and stderr. Nil discards.
	Output io.Writer

	Logger *zap.Logger
}

var _ submission.ArtifactBuilder = (*Builder)(nil)

// Build implements submission.ArtifactBuilder.
func (b *Builder) Build(ctx context.Context, p submission.Parameter) (string, error) {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cmdline := strings.TrimSpace(b.Command); cmdline != "" {
		logger.Info("Building artifact", zap.String("command", cmdline), zap.String("dir", b.WorkDir))
		if err := b.run(ctx, cmdline); err != nil {
			return "", err
		}
	}
	path, err := Resolve(b.WorkDir, p.Artifact())
	if err != nil {
		return "", err
	}
	logger.Debug("Resolved artifact", zap.String("path", path))
	return path, nil
}

func (b *Builder) run(ctx context.Context, cmdline string) error {
	shell := b.Shell
	if len(shell) == 0 {
		shell = DefaultShell
	}
	args := append(append([]string{}, shell[1:]...), cmdline)
	cmd := exec.CommandContext(ctx, shell[0], args...)
	cmd.Dir = b.WorkDir
	cmd.Env = os.Environ()
	out := b.Output
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("build command %q failed: %w", cmdline, err)
	}
	return nil
}

// Resolve returns the single regular file matching pattern. Relative
// patterns are resolved against dir. A pattern without glob syntax must
// name an existing file.
func Resolve(dir, pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", errors.New("artifact pattern is empty")
	}
	if !filepath.IsAbs(pattern) && dir != "" {
		pattern = filepath.Join(dir, pattern)
	}
	pattern = filepath.Clean(pattern)

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return "", fmt.Errorf("invalid artifact pattern %q: %w", pattern, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoMatch, pattern)
	case 1:
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", fmt.Errorf("%w: %s (%s)", ErrAmbiguousMatch, pattern, strings.Join(matches, ", "))
}
