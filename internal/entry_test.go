package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/session"
)

type staticStatus session.Status

func (s staticStatus) Status() session.Status { return session.Status(s) }

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyHandler(t *testing.T) {
	st := staticStatus{Session: models.SessionAuthenticated, Monitor: models.MonitorRunning}

	tests := []struct {
		name     string
		ping     error
		wantCode int
		wantStat string
	}{
		{"ok", nil, http.StatusOK, "ok"},
		{"store down", errors.New("disk gone"), http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := readyHandler(st, pingFunc(func(context.Context) error { return tt.ping }))
			w := httptest.NewRecorder()
			h(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body["status"] != tt.wantStat {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantStat)
			}
			if body["session"] != "authenticated" || body["monitor"] != "running" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}
