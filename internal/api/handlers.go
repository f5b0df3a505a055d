package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/ruleservice"
	"github.com/starford/tgmonitor/internal/session"
	"github.com/starford/tgmonitor/internal/transport"
)

// Monitor is the session manager as used by the admin surface.
type Monitor interface {
	Login(ctx context.Context, phone, proof string) (models.SessionState, error)
	SetProxy(ctx context.Context, tc transport.Config) error
	Status() session.Status
	ListDialogs(ctx context.Context) ([]session.Dialog, error)
	SetTarget(id int64) error
	StartMonitor(ctx context.Context) models.StartOutcome
	StopMonitor(ctx context.Context)
}

// Rules is the rule administration service.
type Rules interface {
	List(ctx context.Context) ([]models.KeywordRule, error)
	Get(ctx context.Context, id int64) (models.KeywordRule, error)
	Create(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	CreateBatch(ctx context.Context, rules []models.KeywordRule) (ruleservice.BatchResult, error)
	Update(ctx context.Context, r models.KeywordRule) (models.KeywordRule, error)
	Delete(ctx context.Context, id int64) error
	DeleteBatch(ctx context.Context, ids []int64) (int, error)
}

// Handler holds API route handlers.
type Handler struct {
	mon    Monitor
	rules  Rules
	events EventStream
}

// NewHandler creates a new Handler. events may be nil.
func NewHandler(mon Monitor, rules Rules, events EventStream) *Handler {
	return &Handler{mon: mon, rules: rules, events: events}
}

func (h *Handler) ruleEvent(kind string, ids ...int64) {
	if h.events != nil {
		h.events.PublishRuleEvent(kind, ids...)
	}
}

// Login handles POST /api/login.
//
//	@Summary		Start or advance the login sequence
//	@Tags			session
//	@Accept			json
//	@Produce		json
//	@Param			body	body		LoginRequest	true	"Phone and proof"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.mon.Login(r.Context(), req.Phone, req.Proof)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "state": st})
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{State: st})
}

// SetProxy handles POST /api/proxy.
//
//	@Summary		Change the transport and reconnect
//	@Tags			session
//	@Accept			json
//	@Param			body	body		transport.Config	true	"Transport"
//	@Success		200		{object}	StatusResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/proxy [post]
func (h *Handler) SetProxy(w http.ResponseWriter, r *http.Request) {
	var tc transport.Config
	if !decodeJSON(w, r, &tc) {
		return
	}
	if err := h.mon.SetProxy(r.Context(), tc); err != nil {
		writeError(w, "set proxy", err)
		return
	}
	writeJSON(w, http.StatusOK, h.mon.Status())
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mon.Status())
}

// Dialogs handles GET /api/dialogs.
//
//	@Summary		List chats usable as the destination
//	@Tags			session
//	@Produce		json
//	@Success		200	{object}	DialogListResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dialogs [get]
func (h *Handler) Dialogs(w http.ResponseWriter, r *http.Request) {
	dialogs, err := h.mon.ListDialogs(r.Context())
	if err != nil {
		writeError(w, "list dialogs", err)
		return
	}
	writeJSON(w, http.StatusOK, DialogListResponse{Dialogs: dialogs})
}

// SetTarget handles POST /api/target.
func (h *Handler) SetTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.mon.SetTarget(req.ID); err != nil {
		writeError(w, "set target", err)
		return
	}
	writeJSON(w, http.StatusOK, h.mon.Status())
}

// Start handles POST /api/start.
//
//	@Summary		Start monitoring
//	@Tags			monitor
//	@Produce		json
//	@Success		200	{object}	StartResponse
//	@Failure		400	{object}	StartResponse
//	@Failure		409	{object}	StartResponse
//	@Security		BearerAuth
//	@Router			/start [post]
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	out := h.mon.StartMonitor(r.Context())
	status := http.StatusOK
	switch out {
	case models.StartStarted:
	case models.StartAlreadyRunning, models.StartNotAuthenticated:
		status = http.StatusConflict
	case models.StartFailed:
		status = http.StatusBadGateway
	default:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, StartResponse{Outcome: out})
}

// Stop handles POST /api/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.mon.StopMonitor(r.Context())
	writeJSON(w, http.StatusOK, h.mon.Status())
}

func ruleID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// ListRules handles GET /api/rules.
//
//	@Summary		List keyword rules
//	@Tags			rules
//	@Produce		json
//	@Success		200	{object}	RuleListResponse
//	@Security		BearerAuth
//	@Router			/rules [get]
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		writeError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, RuleListResponse{Rules: rules})
}

// GetRule handles GET /api/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid rule id"))
		return
	}
	rule, err := h.rules.Get(r.Context(), id)
	if err != nil {
		writeError(w, "get rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/rules.
//
//	@Summary		Add a keyword rule
//	@Tags			rules
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.KeywordRule	true	"Rule to add"
//	@Success		201		{object}	models.KeywordRule
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rules [post]
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req models.KeywordRule
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = 0
	rule, err := h.rules.Create(r.Context(), req)
	if err != nil {
		writeError(w, "create rule", err)
		return
	}
	h.ruleEvent("created", rule.ID)
	writeJSON(w, http.StatusCreated, rule)
}

// CreateRules handles POST /api/rules/batch. Duplicates are skipped; the
// request fails with 409 only when every rule was a duplicate.
func (h *Handler) CreateRules(w http.ResponseWriter, r *http.Request) {
	var req BatchCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	for i := range req.Rules {
		req.Rules[i].ID = 0
	}
	res, err := h.rules.CreateBatch(r.Context(), req.Rules)
	if err != nil {
		writeError(w, "create rules", err)
		return
	}
	ids := make([]int64, len(res.Added))
	for i, rule := range res.Added {
		ids[i] = rule.ID
	}
	h.ruleEvent("created", ids...)
	writeJSON(w, http.StatusOK, res)
}

// UpdateRule handles PUT /api/rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid rule id"))
		return
	}
	var req models.KeywordRule
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ID = id
	rule, err := h.rules.Update(r.Context(), req)
	if err != nil {
		writeError(w, "update rule", err)
		return
	}
	h.ruleEvent("updated", rule.ID)
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid rule id"))
		return
	}
	if err := h.rules.Delete(r.Context(), id); err != nil {
		writeError(w, "delete rule", err)
		return
	}
	h.ruleEvent("deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRules handles POST /api/rules/batch-delete.
func (h *Handler) DeleteRules(w http.ResponseWriter, r *http.Request) {
	var req BatchDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.rules.DeleteBatch(r.Context(), req.IDs)
	if err != nil {
		writeError(w, "delete rules", err)
		return
	}
	if n > 0 {
		h.ruleEvent("deleted", req.IDs...)
	}
	writeJSON(w, http.StatusOK, BatchDeleteResponse{Deleted: n})
}
