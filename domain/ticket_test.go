package domain

import "testing"

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to TicketState
		want     bool
	}{
		{StateBacklog, StateInProgress, true},
		{StateInProgress, StateReview, true},
		{StateReview, StateDone, true},
		{StateReview, StateInProgress, true},
		{StateBacklog, StateDone, false},
		{StateBacklog, StateReview, false},
		{StateDone, StateInProgress, false},
		{StateInProgress, StateDone, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestLookupTransitionRejectRequiresFeedback(t *testing.T) {
	trigger, reason, requiresFeedback, err := LookupTransition(StateReview, StateInProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trigger != TriggerManual || reason != ReasonUserRejected {
		t.Errorf("got trigger=%s reason=%s", trigger, reason)
	}
	if !requiresFeedback {
		t.Error("expected reject to require feedback")
	}
}

func TestLookupTransitionInvalid(t *testing.T) {
	_, _, _, err := LookupTransition(StateBacklog, StateDone)
	if err == nil {
		t.Fatal("expected error for invalid transition")
	}
}

func TestValidSlug(t *testing.T) {
	accept := []string{"a-b-c", "abc", "add-x", "x2y"}
	reject := []string{"-a", "a-", "a--b", "A", "a_b", "ab", "a"}
	for _, s := range accept {
		if len(s) < 3 {
			continue // length bound tested separately
		}
		if !ValidSlug(s) {
			t.Errorf("expected %q to be accepted", s)
		}
	}
	for _, s := range reject {
		if ValidSlug(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}

func TestValidSlugLengthBounds(t *testing.T) {
	if ValidSlug("ab") {
		t.Error("2-char slug should be rejected (min 3)")
	}
	long := make([]byte, 51)
	for i := range long {
		long[i] = 'a'
	}
	if ValidSlug(string(long)) {
		t.Error("51-char slug should be rejected (max 50)")
	}
}

func TestFormatRejectionFeedback(t *testing.T) {
	got := FormatRejectionFeedback("Missing tests")
	want := "[REVIEW FEEDBACK] The reviewer rejected your work with this feedback:\n\"Missing tests\"\nPlease address this and continue working on the ticket."
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
