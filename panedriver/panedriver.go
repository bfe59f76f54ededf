// Package panedriver defines the PaneDriver capability (spec §4.1): the
// engine's abstraction over a terminal multiplexer. The core never talks
// to tmux directly — it calls through this interface, so tests can supply
// a fake implementation with the same contract as the tmux-backed one.
package panedriver

import (
	"context"
	"errors"
)

// Errors returned by any PaneDriver implementation.
var (
	ErrPaneNotFound    = errors.New("pane not found")
	ErrPaneDriverFailed = errors.New("pane driver operation failed")
)

// GroupInfo describes one pane group (a multiplexer "session").
type GroupInfo struct {
	Name string
}

// PaneInfo describes one pane within a group.
type PaneInfo struct {
	ID     string
	Index  int
	Active bool
	PID    int
}

// CaptureResult is the incremental output returned by CapturePane.
type CaptureResult struct {
	Lines  []string
	Cursor string // opaque; pass back on the next call
}

// Driver is the capability the core consumes to spawn, inspect, and drive
// panes. All methods may be slow (they shell out to an external process);
// callers must never hold internal locks across a call.
type Driver interface {
	ListGroups(ctx context.Context) ([]GroupInfo, error)
	ListPanes(ctx context.Context, group string) ([]PaneInfo, error)
	PaneExists(ctx context.Context, paneID string) (bool, error)

	SpawnPane(ctx context.Context, group, window, cwd string) (paneID string, err error)

	SendText(ctx context.Context, paneID, text string) error
	SendKey(ctx context.Context, paneID, keyName string) error

	// CapturePane returns only lines appended since sinceCursor (empty
	// string captures from the start of the visible scrollback).
	CapturePane(ctx context.Context, paneID, sinceCursor string) (CaptureResult, error)

	KillPane(ctx context.Context, paneID string) error
	FocusPane(ctx context.Context, paneID string) error
}

// Key names accepted by SendKey, per spec §4.1.
const (
	KeyEnter  = "Enter"
	KeyEscape = "Escape"
	KeyCtrlC  = "C-c"
)
