package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/termweave/termweave/internal/tmux"
)

func TestHealthCheck(t *testing.T) {
	run := func(ctx context.Context, args ...string) (tmux.Result, error) {
		return tmux.Result{Stdout: "tmux 3.4\n"}, nil
	}
	h := &Health{Dir: tmux.NewDirectoryWithRunner("local", "tmux", run)}

	w := httptest.NewRecorder()
	h.Check(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result map[string]interface{}
	json.NewDecoder(w.Body).Decode(&result)
	if result["status"] != "ok" {
		t.Errorf("expected status ok, got %v", result["status"])
	}
	if result["tmux_available"] != true {
		t.Errorf("expected tmux_available true, got %v", result["tmux_available"])
	}
}

func TestHealthCheckNoTmux(t *testing.T) {
	run := func(ctx context.Context, args ...string) (tmux.Result, error) {
		return tmux.Result{}, fmt.Errorf("exec: not found")
	}
	h := &Health{Dir: tmux.NewDirectoryWithRunner("local", "missing-tmux", run)}

	w := httptest.NewRecorder()
	h.Check(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var result map[string]interface{}
	json.NewDecoder(w.Body).Decode(&result)
	if result["tmux_available"] != false {
		t.Errorf("expected tmux_available false, got %v", result["tmux_available"])
	}
}
