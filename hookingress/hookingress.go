// Package hookingress implements HookIngress (spec §4.8): the always-200
// HTTP endpoints that accept push payloads from the assistant CLI's hook
// mechanism and feed them to WaitingDetector.
package hookingress

import (
	"encoding/json"
	"net/http"

	"paneforge/waiting"
)

// Detector is the narrow slice of WaitingDetector this package calls
// into, avoiding an import cycle.
type Detector interface {
	HandleHookEvent(p waiting.HookPayload)
}

// Ingress is the HookIngress component.
type Ingress struct {
	detector Detector
}

// New constructs an Ingress.
func New(detector Detector) *Ingress {
	return &Ingress{detector: detector}
}

// rawClaudeHook is the free-form body accepted by /hooks/claude, per
// spec §4.4 Layer 1.
type rawClaudeHook struct {
	HookEventName    string `json:"hook_event_name"`
	NotificationType string `json:"notification_type"`
	SessionID        string `json:"session_id"`
	CWD              string `json:"cwd"`
	TranscriptPath   string `json:"transcript_path"`
}

// HandleClaudeHook implements POST /hooks/claude. A malformed body is
// ignored and reported in the response's "warning" field, never failing
// the response, per spec §4.8.
func (i *Ingress) HandleClaudeHook(w http.ResponseWriter, r *http.Request) {
	var body rawClaudeHook
	warning := ""
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		warning = "malformed body; ignored"
	} else {
		i.detector.HandleHookEvent(waiting.HookPayload{
			HookEventName:    body.HookEventName,
			NotificationType: body.NotificationType,
			SessionID:        body.SessionID,
			CWD:              body.CWD,
			TranscriptPath:   body.TranscriptPath,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true, "warning": nonEmptyOrOmit(warning)})
}

// sessionStartHook is the body accepted by /hooks/session-start.
type sessionStartHook struct {
	SessionID      string `json:"session_id"`
	CWD            string `json:"cwd"`
	TranscriptPath string `json:"transcript_path"`
	Source         string `json:"source"`
}

// HandleSessionStart implements POST /hooks/session-start.
func (i *Ingress) HandleSessionStart(w http.ResponseWriter, r *http.Request) {
	var body sessionStartHook
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		i.detector.HandleHookEvent(waiting.HookPayload{
			HookEventName:  "SessionStart",
			SessionID:      body.SessionID,
			CWD:            body.CWD,
			TranscriptPath: body.TranscriptPath,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func nonEmptyOrOmit(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
