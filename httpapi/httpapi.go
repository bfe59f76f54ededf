// Package httpapi implements the engine's REST surface (spec §6): CRUD
// over projects/tickets/sessions/notifications, the ticket lifecycle
// actions, and the health endpoint. Hooks and the WebSocket upgrade are
// mounted by the caller alongside this router (hookingress, fanout).
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"paneforge/domain"
	"paneforge/internal/logging"
	"paneforge/reviewer"
	"paneforge/store"
	"paneforge/supervisor"
	"paneforge/ticketfsm"
)

// API holds the dependencies every handler needs.
type API struct {
	store      *store.Store
	supervisor *supervisor.Supervisor
	tickets    *ticketfsm.Machine
	reviewer   *reviewer.Reviewer
	log        *slog.Logger
	apiKey     string
	startedAt  time.Time
	version    string
}

// New constructs an API. apiKey empty disables auth entirely. A nil
// logger falls back to slog.Default().
func New(st *store.Store, sup *supervisor.Supervisor, tickets *ticketfsm.Machine, rv *reviewer.Reviewer, log *slog.Logger, apiKey, version string) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		store:      st,
		supervisor: sup,
		tickets:    tickets,
		reviewer:   rv,
		log:        log,
		apiKey:     apiKey,
		startedAt:  time.Now(),
		version:    version,
	}
}

// Router builds the http.Handler for every REST endpoint in spec §6,
// plus the two supplemented read endpoints. Hooks and the WebSocket
// upgrade path are mounted separately by the caller, since hooks must
// bypass auth and the websocket is a distinct subsystem.
func (a *API) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)

	mux.HandleFunc("GET /projects", a.withAuth(a.listProjects))
	mux.HandleFunc("POST /projects", a.withAuth(a.createProject))
	mux.HandleFunc("GET /projects/{id}", a.withAuth(a.getProject))
	mux.HandleFunc("PATCH /projects/{id}", a.withAuth(a.updateProject))
	mux.HandleFunc("DELETE /projects/{id}", a.withAuth(a.deleteProject))
	mux.HandleFunc("GET /projects/{id}/tickets", a.withAuth(a.listTickets))
	mux.HandleFunc("POST /projects/{id}/adhoc-tickets", a.withAuth(a.createAdhocTicket))
	mux.HandleFunc("GET /projects/{id}/sessions", a.withAuth(a.listSessionsForProject))

	mux.HandleFunc("GET /tickets/{id}/content", a.withAuth(a.getTicketContent))
	mux.HandleFunc("PUT /tickets/{id}/content", a.withAuth(a.putTicketContent))
	mux.HandleFunc("PATCH /tickets/{id}/title", a.withAuth(a.patchTicketTitle))
	mux.HandleFunc("DELETE /tickets/{id}", a.withAuth(a.deleteTicket))
	mux.HandleFunc("POST /tickets/{id}/start", a.withAuth(a.startTicket))
	mux.HandleFunc("POST /tickets/{id}/approve", a.withAuth(a.approveTicket))
	mux.HandleFunc("POST /tickets/{id}/reject", a.withAuth(a.rejectTicket))
	mux.HandleFunc("GET /tickets/{id}/history", a.withAuth(a.getTicketHistory))

	mux.HandleFunc("POST /sessions", a.withAuth(a.createSession))
	mux.HandleFunc("GET /sessions/{id}", a.withAuth(a.getSession))
	mux.HandleFunc("DELETE /sessions/{id}", a.withAuth(a.deleteSession))
	mux.HandleFunc("POST /sessions/{id}/input", a.withAuth(a.sessionInput))
	mux.HandleFunc("POST /sessions/{id}/focus", a.withAuth(a.sessionFocus))
	mux.HandleFunc("POST /sessions/sync", a.withAuth(a.syncSessions))

	mux.HandleFunc("GET /notifications", a.withAuth(a.listNotifications))
	mux.HandleFunc("DELETE /notifications/{id}", a.withAuth(a.deleteNotification))
	mux.HandleFunc("DELETE /notifications", a.withAuth(a.deleteAllNotifications))

	return a.withLogging(mux)
}

// --- middleware ---

// statusRecorder captures the status code written by a downstream
// handler so withLogging can report it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging logs method/path/status/duration at Debug level, and
// elevates to Warn for 4xx/5xx responses.
func (a *API) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		attrs := []any{"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", dur}
		if rec.status >= 400 {
			a.log.Warn("request", attrs...)
		} else {
			a.log.Debug("request", attrs...)
		}
	})
}

func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" {
			next(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != a.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid X-API-Key", nil)
			return
		}
		next(w, r)
	}
}

// --- health ---

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := a.store.DB().Ping(); err != nil {
		dbStatus = "unreachable"
	}
	var dbSizeBytes int64
	if size, err := a.store.DB().FileSize(); err == nil {
		dbSizeBytes = size
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"statusDisplay":     logging.Component("ok"),
		"uptime":            time.Since(a.startedAt).String(),
		"version":           a.version,
		"database":          dbStatus,
		"databaseSizeBytes": dbSizeBytes,
		"timestamp":         time.Now().UTC(),
	})
}

// --- projects ---

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	projects, total, err := a.store.ListProjects(page, limit)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects, "total": total, "page": page, "limit": limit})
}

type createProjectRequest struct {
	Name        string `json:"name"`
	RepoPath    string `json:"repoPath"`
	PaneGroup   string `json:"paneGroup"`
	PaneWindow  string `json:"paneWindow"`
	TicketsPath string `json:"ticketsPath"`
	HandoffPath string `json:"handoffPath"`
	Description string `json:"description"`
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.RepoPath) == "" || strings.TrimSpace(req.PaneGroup) == "" {
		writeError(w, http.StatusBadRequest, "validation", "name, repoPath, and paneGroup are required", nil)
		return
	}
	p := &domain.Project{
		Name:        req.Name,
		RepoPath:    req.RepoPath,
		PaneGroup:   req.PaneGroup,
		PaneWindow:  req.PaneWindow,
		TicketsPath: req.TicketsPath,
		HandoffPath: req.HandoffPath,
		Description: req.Description,
	}
	if err := a.store.CreateProject(p); err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetProject(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	_, total, err := a.store.ListTickets(store.TicketFilter{ProjectID: p.ID}, 1, 1)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	active, err := a.store.GetActiveSessionForProject(p.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":       p,
		"ticketCount":   total,
		"activeSession": active,
	})
}

type updateProjectRequest struct {
	Name        *string `json:"name"`
	PaneGroup   *string `json:"paneGroup"`
	PaneWindow  *string `json:"paneWindow"`
	TicketsPath *string `json:"ticketsPath"`
	HandoffPath *string `json:"handoffPath"`
	Description *string `json:"description"`
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	p, err := a.store.GetProject(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.PaneGroup != nil {
		p.PaneGroup = *req.PaneGroup
	}
	if req.PaneWindow != nil {
		p.PaneWindow = *req.PaneWindow
	}
	if req.TicketsPath != nil {
		p.TicketsPath = *req.TicketsPath
	}
	if req.HandoffPath != nil {
		p.HandoffPath = *req.HandoffPath
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if err := a.store.UpdateProject(p); err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if active, err := a.store.GetActiveSessionForProject(id); err == nil {
		if err := a.supervisor.StopSession(r.Context(), active.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed stopping active session before delete", nil)
			return
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		mapStoreError(w, err)
		return
	}
	if err := a.store.DeleteProject(id); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listSessionsForProject(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	sessions, total, err := a.store.ListSessionsForProject(r.PathValue("id"), page, limit)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total, "page": page, "limit": limit})
}

// --- tickets ---

func (a *API) listTickets(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := a.store.GetProject(projectID)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	f := store.TicketFilter{ProjectID: projectID, State: domain.TicketState(r.URL.Query().Get("state"))}
	if prefixes := r.URL.Query().Get("prefixes"); prefixes != "" {
		f.Prefixes = strings.Split(prefixes, ",")
	}
	page, limit := pageParams(r)
	tickets, total, err := a.store.ListTickets(f, page, limit)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	if r.URL.Query().Get("sync") == "true" {
		a.syncTicketsFromDisk(project, tickets)
	}

	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets, "total": total, "page": page, "limit": limit})
}

// syncTicketsFromDisk logs tickets whose backing markdown file has
// disappeared from the repo; it never deletes the row itself, since
// ticket deletion is always an explicit user action via
// DELETE /tickets/:id, never an implicit side effect of listing.
func (a *API) syncTicketsFromDisk(project *domain.Project, tickets []domain.Ticket) {
	for _, t := range tickets {
		full := filepath.Join(project.RepoPath, t.FilePath)
		if _, err := os.Stat(full); err != nil {
			a.log.Warn("ticket file missing on disk", "ticketId", t.ID, "filePath", t.FilePath)
		}
	}
}

type createAdhocTicketRequest struct {
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	IsExplore bool   `json:"isExplore"`
}

func (a *API) createAdhocTicket(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	project, err := a.store.GetProject(projectID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	var req createAdhocTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if len(req.Title) < 3 || len(req.Title) > 100 {
		writeError(w, http.StatusBadRequest, "validation", "title must be 3-100 characters", nil)
		return
	}
	if !domain.ValidSlug(req.Slug) {
		writeError(w, http.StatusBadRequest, "validation", "slug must be 3-50 lowercase alphanumeric segments joined by hyphens", nil)
		return
	}

	filePath := filepath.Join(project.TicketsDir(), req.Slug+".md")
	t := &domain.Ticket{
		ProjectID: projectID,
		Title:     req.Title,
		FilePath:  filePath,
		IsAdhoc:   true,
		IsExplore: req.IsExplore,
		CreatedBy: domain.CreatedByUser,
	}
	if err := a.store.CreateTicket(t); err != nil {
		mapStoreError(w, err)
		return
	}

	content := "# " + req.Title + "\n"
	absPath := filepath.Join(project.RepoPath, filePath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		a.store.DeleteTicket(t.ID)
		writeError(w, http.StatusInternalServerError, "internal", "failed creating ticket directory", nil)
		return
	}
	if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
		a.store.DeleteTicket(t.ID)
		writeError(w, http.StatusInternalServerError, "internal", "failed writing ticket file", nil)
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (a *API) getTicketContent(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTicket(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	project, err := a.store.GetProject(t.ProjectID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	raw, err := os.ReadFile(filepath.Join(project.RepoPath, t.FilePath))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "ticket file is missing on disk", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"content":  string(raw),
		"rendered": renderMarkdown(string(raw)),
	})
}

type putTicketContentRequest struct {
	Content string `json:"content"`
}

func (a *API) putTicketContent(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTicket(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	var req putTicketContentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if len(req.Content) > domain.MaxTicketContentLen {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("content exceeds %d characters", domain.MaxTicketContentLen), nil)
		return
	}
	project, err := a.store.GetProject(t.ProjectID)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	if err := os.WriteFile(filepath.Join(project.RepoPath, t.FilePath), []byte(req.Content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed writing ticket content", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type patchTicketTitleRequest struct {
	Title string `json:"title"`
}

func (a *API) patchTicketTitle(w http.ResponseWriter, r *http.Request) {
	t, err := a.store.GetTicket(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	var req patchTicketTitleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if len(req.Title) < 3 || len(req.Title) > 100 {
		writeError(w, http.StatusBadRequest, "validation", "title must be 3-100 characters", nil)
		return
	}
	if err := a.store.UpdateTicketTitle(t.ID, req.Title, t.FilePath); err != nil {
		mapStoreError(w, err)
		return
	}
	t.Title = req.Title
	writeJSON(w, http.StatusOK, t)
}

func (a *API) deleteTicket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := a.store.GetTicket(id)
	if err != nil {
		mapStoreError(w, err)
		return
	}
	if sess, err := a.store.GetActiveSessionForProject(t.ProjectID); err == nil && sess.TicketID == t.ID {
		writeError(w, http.StatusConflict, "conflict", "ticket has a running session", nil)
		return
	}
	if err := a.store.DeleteTicket(id); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startTicketRequest struct {
	CWD string `json:"cwd"`
}

func (a *API) startTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("id")
	t, err := a.tickets.StartTicket(r.Context(), ticketID, "user")
	if err != nil {
		mapStoreError(w, err)
		return
	}
	var req startTicketRequest
	decodeJSON(r, &req)

	sess, err := a.supervisor.StartSession(r.Context(), supervisor.StartParams{
		ProjectID: t.ProjectID,
		TicketID:  t.ID,
		CWD:       req.CWD,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "external_failure", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ticket": t, "session": sess})
}

func (a *API) approveTicket(w http.ResponseWriter, r *http.Request) {
	t, err := a.tickets.Approve(r.Context(), r.PathValue("id"), "user")
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type rejectTicketRequest struct {
	Feedback string `json:"feedback"`
}

func (a *API) rejectTicket(w http.ResponseWriter, r *http.Request) {
	var req rejectTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if len(req.Feedback) < domain.MinRejectFeedbackLen || len(req.Feedback) > domain.MaxRejectFeedbackLen {
		writeError(w, http.StatusBadRequest, "validation", "feedback must be 1-5000 characters", nil)
		return
	}
	t, err := a.tickets.Reject(r.Context(), r.PathValue("id"), req.Feedback, "user")
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) getTicketHistory(w http.ResponseWriter, r *http.Request) {
	history, err := a.store.GetTicketHistory(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

// --- sessions ---

type createSessionRequest struct {
	ProjectID     string `json:"projectId"`
	TicketID      string `json:"ticketId"`
	InitialPrompt string `json:"initialPrompt"`
	CWD           string `json:"cwd"`
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, "validation", "projectId is required", nil)
		return
	}
	sess, err := a.supervisor.StartSession(r.Context(), supervisor.StartParams{
		ProjectID:     req.ProjectID,
		TicketID:      req.TicketID,
		InitialPrompt: req.InitialPrompt,
		CWD:           req.CWD,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
			return
		}
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.GetSession(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.supervisor.StopSession(r.Context(), r.PathValue("id")); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sessionInputRequest struct {
	Text string `json:"text"`
}

func (a *API) sessionInput(w http.ResponseWriter, r *http.Request) {
	var req sessionInputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "malformed request body", nil)
		return
	}
	if err := a.supervisor.SendInput(r.Context(), r.PathValue("id"), req.Text); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) sessionFocus(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.GetSession(r.PathValue("id"))
	if err != nil {
		mapStoreError(w, err)
		return
	}
	if sess.PaneID == "" {
		writeError(w, http.StatusBadRequest, "validation", "session has no pane to focus", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) syncSessions(w http.ResponseWriter, r *http.Request) {
	result, err := a.supervisor.SyncSessions(r.Context(), r.URL.Query().Get("projectId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- notifications ---

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := a.store.ListNotifications()
	if err != nil {
		mapStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (a *API) deleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteNotification(r.PathValue("id")); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := a.store.DeleteAllNotifications()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// --- error taxonomy ---

type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, apiError{Error: message, Code: code, Details: details})
}

// mapStoreError maps a store/domain error to the spec §7 taxonomy.
func mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTicketNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, domain.ErrMissingFeedback):
		writeError(w, http.StatusBadRequest, "validation", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyRunning), errors.Is(err, domain.ErrNotRunning):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "an internal error occurred", nil)
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func pageParams(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	return page, limit
}
