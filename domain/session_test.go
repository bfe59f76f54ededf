package domain

import "testing"

func TestIsValidSessionTransition(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionPending, SessionRunning, true},
		{SessionRunning, SessionPaused, true},
		{SessionPaused, SessionRunning, true},
		{SessionRunning, SessionCompleted, true},
		{SessionRunning, SessionError, true},
		{SessionCompleted, SessionRunning, false},
		{SessionError, SessionRunning, false},
		{SessionPending, SessionPaused, false},
	}
	for _, c := range cases {
		if got := IsValidSessionTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidSessionTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTerminalSessionStatus(t *testing.T) {
	if !IsTerminalSessionStatus(SessionCompleted) {
		t.Error("completed should be terminal")
	}
	if !IsTerminalSessionStatus(SessionError) {
		t.Error("error should be terminal")
	}
	if IsTerminalSessionStatus(SessionRunning) {
		t.Error("running should not be terminal")
	}
}
