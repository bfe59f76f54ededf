package hookingress

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"paneforge/waiting"
)

type fakeDetector struct {
	received []waiting.HookPayload
}

func (f *fakeDetector) HandleHookEvent(p waiting.HookPayload) {
	f.received = append(f.received, p)
}

func TestHandleClaudeHookAlwaysReturns200(t *testing.T) {
	det := &fakeDetector{}
	ingress := New(det)

	req := httptest.NewRequest("POST", "/hooks/claude", bytes.NewBufferString("not json"))
	w := httptest.NewRecorder()
	ingress.HandleClaudeHook(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["received"] != true {
		t.Fatal("expected received=true even for a malformed body")
	}
	if len(det.received) != 0 {
		t.Fatal("malformed body should not reach the detector")
	}
}

func TestHandleClaudeHookForwardsValidPayload(t *testing.T) {
	det := &fakeDetector{}
	ingress := New(det)

	payload := `{"hook_event_name":"Notification","notification_type":"permission_prompt","session_id":"abc"}`
	req := httptest.NewRequest("POST", "/hooks/claude", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	ingress.HandleClaudeHook(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(det.received) != 1 {
		t.Fatalf("expected one forwarded payload, got %d", len(det.received))
	}
	if det.received[0].NotificationType != "permission_prompt" {
		t.Fatalf("notification type = %s", det.received[0].NotificationType)
	}
}

func TestHandleSessionStart(t *testing.T) {
	det := &fakeDetector{}
	ingress := New(det)

	payload := `{"session_id":"abc","cwd":"/repo/demo"}`
	req := httptest.NewRequest("POST", "/hooks/session-start", bytes.NewBufferString(payload))
	w := httptest.NewRecorder()
	ingress.HandleSessionStart(w, req)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(det.received) != 1 || det.received[0].HookEventName != "SessionStart" {
		t.Fatal("expected a SessionStart payload to be forwarded")
	}
}
