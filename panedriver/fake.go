package panedriver

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Driver implementation satisfying the same contract
// as TmuxDriver, used by component tests across the engine — a
// hand-rolled fake rather than a mocking framework.
type Fake struct {
	mu        sync.Mutex
	nextPane  int
	panes     map[string]*fakePane
	SendTexts []SentText
	SendKeys  []SentKey
}

type fakePane struct {
	group, window, cwd string
	lines               []string
	killed              bool
}

// SentText records a SendText call for assertions.
type SentText struct {
	PaneID, Text string
}

// SentKey records a SendKey call for assertions.
type SentKey struct {
	PaneID, Key string
}

// NewFake creates an empty Fake driver.
func NewFake() *Fake {
	return &Fake{panes: make(map[string]*fakePane)}
}

func (f *Fake) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var groups []GroupInfo
	for _, p := range f.panes {
		if !seen[p.group] {
			seen[p.group] = true
			groups = append(groups, GroupInfo{Name: p.group})
		}
	}
	return groups, nil
}

func (f *Fake) ListPanes(ctx context.Context, group string) ([]PaneInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var panes []PaneInfo
	for id, p := range f.panes {
		if p.group == group && !p.killed {
			panes = append(panes, PaneInfo{ID: id})
		}
	}
	return panes, nil
}

func (f *Fake) PaneExists(ctx context.Context, paneID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	return ok && !p.killed, nil
}

func (f *Fake) SpawnPane(ctx context.Context, group, window, cwd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPane++
	id := fmt.Sprintf("%%%d", f.nextPane)
	f.panes[id] = &fakePane{group: group, window: window, cwd: cwd}
	return id, nil
}

func (f *Fake) SendText(ctx context.Context, paneID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[paneID]; !ok {
		return ErrPaneNotFound
	}
	f.SendTexts = append(f.SendTexts, SentText{paneID, text})
	return nil
}

func (f *Fake) SendKey(ctx context.Context, paneID, keyName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[paneID]; !ok {
		return ErrPaneNotFound
	}
	f.SendKeys = append(f.SendKeys, SentKey{paneID, keyName})
	return nil
}

// AppendOutput simulates the pane producing new output lines, for tests
// driving SessionSupervisor's poll loop.
func (f *Fake) AppendOutput(paneID string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[paneID]; ok {
		p.lines = append(p.lines, lines...)
	}
}

func (f *Fake) CapturePane(ctx context.Context, paneID, sinceCursor string) (CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.panes[paneID]
	if !ok {
		return CaptureResult{}, ErrPaneNotFound
	}
	seen := 0
	if sinceCursor != "" {
		fmt.Sscanf(sinceCursor, "%d", &seen)
	}
	if seen > len(p.lines) {
		seen = len(p.lines)
	}
	return CaptureResult{
		Lines:  append([]string(nil), p.lines[seen:]...),
		Cursor: fmt.Sprintf("%d", len(p.lines)),
	}, nil
}

func (f *Fake) KillPane(ctx context.Context, paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.panes[paneID]; ok {
		p.killed = true
	}
	return nil
}

func (f *Fake) FocusPane(ctx context.Context, paneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[paneID]; !ok {
		return ErrPaneNotFound
	}
	return nil
}

var _ Driver = (*Fake)(nil)
