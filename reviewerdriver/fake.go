package reviewerdriver

import (
	"context"
	"time"
)

// Fake is a scripted Driver for tests.
type Fake struct {
	Response string
	Err      error
	Calls    []string // prompts received, in order
}

func (f *Fake) Run(ctx context.Context, prompt string, model string, timeout time.Duration) (string, error) {
	f.Calls = append(f.Calls, prompt)
	if f.Err != nil {
		return "", f.Err
	}
	return f.Response, nil
}

var _ Driver = (*Fake)(nil)
