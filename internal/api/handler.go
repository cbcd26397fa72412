package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/overseer/internal/group"
	"github.com/nidhogg/overseer/internal/orchestrate"
	"github.com/nidhogg/overseer/internal/session"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	registry   *group.Registry
	directory  *session.Directory
	dispatcher *orchestrate.Dispatcher
	logger     *zap.Logger

	runMu   sync.Mutex
	running map[string]context.CancelFunc // groupID -> cancel; one run per group
	results map[string]*orchestrate.Result
}

// NewHandler creates a new API handler.
func NewHandler(registry *group.Registry, directory *session.Directory, dispatcher *orchestrate.Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{
		registry:   registry,
		directory:  directory,
		dispatcher: dispatcher,
		logger:     logger,
		running:    make(map[string]context.CancelFunc),
		results:    make(map[string]*orchestrate.Result),
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/sessions", h.listSessions)
		r.Post("/sessions", h.registerSession)
		r.Delete("/sessions/{name}", h.removeSession)

		r.Get("/groups", h.listGroups)
		r.Post("/groups", h.createGroup)
		r.Get("/groups/{id}", h.getGroup)
		r.Delete("/groups/{id}", h.deleteGroup)

		r.Post("/groups/{id}/members", h.addMember)
		r.Post("/groups/{id}/members/{name}/promote", h.promoteMember)

		r.Post("/groups/{id}/dispatch", h.dispatch)
		r.Get("/groups/{id}/result", h.getResult)
		r.Get("/groups/{id}/reflection", h.getReflection)
		r.Post("/groups/{id}/reflection/pause", h.pauseReflection)
		r.Post("/groups/{id}/reflection/resume", h.resumeReflection)
		r.Post("/groups/{id}/reflection/cancel", h.cancelReflection)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "overseer"})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	type sessionView struct {
		Name string `json:"name"`
		Busy bool   `json:"busy"`
	}
	names := h.directory.Names()
	out := make([]sessionView, 0, len(names))
	for _, n := range names {
		out = append(out, sessionView{Name: n, Busy: h.directory.IsBusy(n)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) registerSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	h.directory.Register(req.Name)
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (h *Handler) removeSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.directory.Remove(name)
	h.registry.RemoveMember(name)
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name               string     `json:"name"`
		Mode               group.Mode `json:"mode"`
		IsMultiAgent       bool       `json:"isMultiAgent"`
		OrchestratorPrompt string     `json:"orchestratorPrompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	switch req.Mode {
	case group.ModeBroadcast, group.ModeSequential, group.ModeOrchestrator, group.ModeOrchestratorReflect:
	case "":
		req.Mode = group.ModeBroadcast
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown mode"})
		return
	}
	g := h.registry.Create(req.Name, req.Mode, req.IsMultiAgent)
	if req.OrchestratorPrompt != "" {
		if err := h.registry.SetOrchestratorPrompt(g.ID, req.OrchestratorPrompt); err == nil {
			g.OrchestratorPrompt = req.OrchestratorPrompt
		}
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, ok := h.registry.GroupSnapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group":   g,
		"members": h.registry.MembersOf(id),
	})
}

func (h *Handler) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.registry.Delete(id)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		SessionName    string     `json:"sessionName"`
		Role           group.Role `json:"role"`
		PreferredModel string     `json:"preferredModel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sessionName is required"})
		return
	}
	if req.Role == "" {
		req.Role = group.RoleWorker
	}
	h.directory.Register(req.SessionName)
	m, err := h.registry.AddMember(id, req.SessionName, req.Role)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if req.PreferredModel != "" {
		if err := h.registry.SetPreferredModel(req.SessionName, req.PreferredModel); err == nil {
			m.PreferredModel = req.PreferredModel
		}
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) promoteMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")
	if err := h.registry.Promote(id, name); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"orchestrator": name})
}

// dispatch starts a delivery for the group in its configured mode. The call
// returns immediately; reflect runs report through the reflection endpoints
// and the phase bus. A group runs at most one dispatch at a time.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Prompt        string `json:"prompt"`
		MaxIterations int    `json:"maxIterations"`
		EvalPrompt    string `json:"evalPrompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "prompt is required"})
		return
	}
	if _, ok := h.registry.Get(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "group not found"})
		return
	}

	h.runMu.Lock()
	if _, busy := h.running[id]; busy {
		h.runMu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "group dispatch already running"})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running[id] = cancel
	h.runMu.Unlock()

	var over *orchestrate.RunOverrides
	if req.MaxIterations > 0 || req.EvalPrompt != "" {
		over = &orchestrate.RunOverrides{MaxIterations: req.MaxIterations, EvalPrompt: req.EvalPrompt}
	}

	go func() {
		defer func() {
			cancel()
			h.runMu.Lock()
			delete(h.running, id)
			h.runMu.Unlock()
		}()
		result, err := h.dispatcher.Dispatch(ctx, id, req.Prompt, over)
		if err != nil {
			h.logger.Warn("dispatch failed", zap.String("group", id), zap.Error(err))
			return
		}
		h.runMu.Lock()
		h.results[id] = result
		h.runMu.Unlock()
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

func (h *Handler) getResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.runMu.Lock()
	result, ok := h.results[id]
	_, active := h.running[id]
	h.runMu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"running": active})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": active, "result": result})
}

func (h *Handler) getReflection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rs, ok := h.registry.ReflectionSnapshot(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reflection state"})
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *Handler) pauseReflection(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *Handler) resumeReflection(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

// setPaused goes through the registry so the toggle is serialized against the
// run loop's saves and persisted; a pause must survive a process restart.
func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := chi.URLParam(r, "id")
	if err := h.registry.SetPaused(id, paused); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

func (h *Handler) cancelReflection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.runMu.Lock()
	cancel, ok := h.running[id]
	h.runMu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no running dispatch"})
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
