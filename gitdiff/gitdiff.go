// Package gitdiff collects a best-effort git diff for the Reviewer's
// prompt assembly. Failures are never fatal: an empty string is returned
// and the caller proceeds.
package gitdiff

import (
	"bytes"
	"context"
	"os/exec"
)

// Collect runs `git diff` in repoDir and returns its output, or "" if git
// is unavailable, the directory isn't a repo, or the command fails for
// any reason.
func Collect(ctx context.Context, repoDir string) string {
	out, err := runGit(ctx, repoDir, "diff", "--no-color")
	if err != nil {
		return ""
	}
	return string(out)
}

func runGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	// #nosec G204 -- args are static subcommand literals, dir is a known repo path
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &bytes.Buffer{}
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
