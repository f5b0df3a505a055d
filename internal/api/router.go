package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Deps are the services the API is built on. Events is optional.
type Deps struct {
	Monitor     Monitor
	Rules       Rules
	Events      EventStream
	AuthEnabled bool
	Token       string
}

// NewRouter creates a chi router with all admin routes mounted. When
// d.Events is set, GET /events streams it behind the same auth middleware.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Monitor, d.Rules, d.Events)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

	// Session and monitor.
	r.Post("/login", h.Login)
	r.Post("/proxy", h.SetProxy)
	r.Get("/status", h.Status)
	r.Get("/dialogs", h.Dialogs)
	r.Post("/target", h.SetTarget)
	r.Post("/start", h.Start)
	r.Post("/stop", h.Stop)

	// Keyword rules.
	r.Get("/rules", h.ListRules)
	r.Post("/rules", h.CreateRule)
	r.Post("/rules/batch", h.CreateRules)
	r.Post("/rules/batch-delete", h.DeleteRules)
	r.Get("/rules/{id}", h.GetRule)
	r.Put("/rules/{id}", h.UpdateRule)
	r.Delete("/rules/{id}", h.DeleteRule)

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}

// EventStream is the SSE broker as seen by the API.
type EventStream interface {
	http.Handler
	PublishRuleEvent(kind string, ids ...int64)
}
