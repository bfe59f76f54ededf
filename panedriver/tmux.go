package panedriver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// TmuxDriver implements Driver by shelling out to the tmux binary. The
// thin run/runOutput helpers are a plain exec.CommandContext wrapper
// (stdout/stderr captured into buffers, exit status surfaced as an
// error wrapping ErrPaneDriverFailed).
type TmuxDriver struct {
	bin string // resolved tmux binary path
}

// NewTmuxDriver resolves the tmux binary named by path (or "tmux" via
// PATH if path is empty).
func NewTmuxDriver(path string) *TmuxDriver {
	if path == "" {
		path = "tmux"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		resolved = path // defer the failure to the first real invocation
	}
	return &TmuxDriver{bin: resolved}
}

func (d *TmuxDriver) runOutput(ctx context.Context, args ...string) ([]byte, error) {
	// #nosec G204 -- args are built internally from validated pane/group identifiers
	cmd := exec.CommandContext(ctx, d.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: tmux %s: %v: %s", ErrPaneDriverFailed, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (d *TmuxDriver) run(ctx context.Context, args ...string) error {
	_, err := d.runOutput(ctx, args...)
	return err
}

// ListGroups lists tmux sessions (spec's "pane groups").
func (d *TmuxDriver) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	out, err := d.runOutput(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServerErr(err) {
			return nil, nil
		}
		return nil, err
	}
	var groups []GroupInfo
	for _, line := range splitLines(out) {
		if line != "" {
			groups = append(groups, GroupInfo{Name: line})
		}
	}
	return groups, nil
}

// ListPanes lists the panes belonging to a tmux session.
func (d *TmuxDriver) ListPanes(ctx context.Context, group string) ([]PaneInfo, error) {
	out, err := d.runOutput(ctx, "list-panes", "-t", group, "-F", "#{pane_id}\t#{pane_index}\t#{pane_active}\t#{pane_pid}")
	if err != nil {
		if isNoServerErr(err) {
			return nil, nil
		}
		return nil, err
	}
	var panes []PaneInfo
	for _, line := range splitLines(out) {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		idx, _ := strconv.Atoi(fields[1])
		pid, _ := strconv.Atoi(fields[3])
		panes = append(panes, PaneInfo{
			ID:     fields[0],
			Index:  idx,
			Active: fields[2] == "1",
			PID:    pid,
		})
	}
	return panes, nil
}

// PaneExists reports whether paneID is still alive by asking tmux to
// display the pane's id. The OS process table is not consulted.
func (d *TmuxDriver) PaneExists(ctx context.Context, paneID string) (bool, error) {
	err := d.run(ctx, "display-message", "-p", "-t", paneID, "#{pane_id}")
	if err != nil {
		if isNoServerErr(err) || isPaneNotFoundErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SpawnPane creates a new window in group (creating the group/session if
// it does not exist) and returns its pane id.
func (d *TmuxDriver) SpawnPane(ctx context.Context, group, window, cwd string) (string, error) {
	groups, err := d.ListGroups(ctx)
	if err != nil {
		return "", err
	}
	exists := false
	for _, g := range groups {
		if g.Name == group {
			exists = true
			break
		}
	}

	args := []string{}
	if !exists {
		args = []string{"new-session", "-d", "-s", group}
		if cwd != "" {
			args = append(args, "-c", cwd)
		}
		if err := d.run(ctx, args...); err != nil {
			return "", err
		}
	} else {
		args = []string{"new-window", "-t", group}
		if window != "" {
			args = append(args, "-n", window)
		}
		if cwd != "" {
			args = append(args, "-c", cwd)
		}
		if err := d.run(ctx, args...); err != nil {
			return "", err
		}
	}

	out, err := d.runOutput(ctx, "list-panes", "-t", group, "-F", "#{pane_id}\t#{pane_active}")
	if err != nil {
		return "", err
	}
	var lastID string
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) == 2 {
			lastID = fields[0]
			if fields[1] == "1" {
				return fields[0], nil
			}
		}
	}
	if lastID == "" {
		return "", fmt.Errorf("%w: no pane found after spawn in group %s", ErrPaneDriverFailed, group)
	}
	return lastID, nil
}

// SendText types literal text into a pane without pressing Enter.
func (d *TmuxDriver) SendText(ctx context.Context, paneID, text string) error {
	return d.run(ctx, "send-keys", "-t", paneID, "-l", text)
}

// SendKey sends a named key (Enter, Escape, C-c, ...) to a pane.
func (d *TmuxDriver) SendKey(ctx context.Context, paneID, keyName string) error {
	return d.run(ctx, "send-keys", "-t", paneID, keyName)
}

// CapturePane returns lines appended since sinceCursor. The cursor is an
// opaque encoding of the total line count already consumed by the caller.
func (d *TmuxDriver) CapturePane(ctx context.Context, paneID, sinceCursor string) (CaptureResult, error) {
	out, err := d.runOutput(ctx, "capture-pane", "-p", "-t", paneID)
	if err != nil {
		if isPaneNotFoundErr(err) {
			return CaptureResult{}, ErrPaneNotFound
		}
		return CaptureResult{}, err
	}
	all := splitLines(out)
	seen := 0
	if sinceCursor != "" {
		if n, err := strconv.Atoi(sinceCursor); err == nil && n <= len(all) {
			seen = n
		}
	}
	return CaptureResult{
		Lines:  append([]string(nil), all[seen:]...),
		Cursor: strconv.Itoa(len(all)),
	}, nil
}

// KillPane destroys a pane.
func (d *TmuxDriver) KillPane(ctx context.Context, paneID string) error {
	err := d.run(ctx, "kill-pane", "-t", paneID)
	if err != nil && (isNoServerErr(err) || isPaneNotFoundErr(err)) {
		return nil // idempotent
	}
	return err
}

// FocusPane selects a pane in its window and switches the client to it.
func (d *TmuxDriver) FocusPane(ctx context.Context, paneID string) error {
	if err := d.run(ctx, "select-pane", "-t", paneID); err != nil {
		return err
	}
	return d.run(ctx, "select-window", "-t", paneID)
}

// PaneOSPID returns the OS-level pid backing a pane, for liveness
// cross-checks via go-ps.
func (d *TmuxDriver) PaneOSPID(ctx context.Context, paneID string) (int, error) {
	out, err := d.runOutput(ctx, "display-message", "-p", "-t", paneID, "#{pane_pid}")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(out)))
}

// IsPIDAlive cross-checks a PID against the OS process table.
func IsPIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := ps.FindProcess(pid)
	return err == nil && proc != nil
}

func splitLines(out []byte) []string {
	s := strings.TrimRight(string(out), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func isNoServerErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no server running")
}

func isPaneNotFoundErr(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "can't find pane") ||
		strings.Contains(err.Error(), "can't find session") ||
		strings.Contains(err.Error(), "can't find window"))
}
