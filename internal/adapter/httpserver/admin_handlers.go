package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/octup/sentinel/internal/domain"
	"github.com/octup/sentinel/internal/resilience"
)

type replayRequest struct {
	Tenant string `json:"tenant"`
	Limit  int    `json:"limit"`
}

// AdminReplay handles POST /admin/replay.
func (s *Server) AdminReplay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
	}
	report, err := s.Replay.Replay(r.Context(), req.Tenant, req.Limit)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AdminDLQStats handles GET /admin/dlq/stats.
func (s *Server) AdminDLQStats(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	stats, err := s.Replay.Stats(r.Context(), tenant)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// AdminDLQCleanup handles POST /admin/dlq/cleanup?days_old=N.
func (s *Server) AdminDLQCleanup(w http.ResponseWriter, r *http.Request) {
	var olderThan time.Duration
	if raw := r.URL.Query().Get("days_old"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 1 {
			writeError(w, r, fmt.Errorf("%w: days_old must be a positive integer", domain.ErrInvalidArgument), nil)
			return
		}
		olderThan = time.Duration(days) * 24 * time.Hour
	}
	removed, err := s.Replay.Cleanup(r.Context(), olderThan)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type lintRequest struct {
	PolicyText string `json:"policy_text"`
	PolicyType string `json:"policy_type"`
}

// AdminLintPolicy handles POST /admin/ai/lint-policy.
func (s *Server) AdminLintPolicy(w http.ResponseWriter, r *http.Request) {
	var req lintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", domain.ErrInvalidArgument, err), nil)
		return
	}
	if req.PolicyText == "" {
		writeError(w, r, fmt.Errorf("%w: policy_text required", domain.ErrInvalidArgument), nil)
		return
	}
	if req.PolicyType == "" {
		req.PolicyType = "sla"
	}
	report, err := s.AI.LintPolicy(r.Context(), req.PolicyText, req.PolicyType)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// AdminCacheClear handles POST /admin/cache/clear: drops the AI response
// cache, reloads prompt templates and invalidates cached tenant policy.
func (s *Server) AdminCacheClear(w http.ResponseWriter, r *http.Request) {
	evicted := s.AI.ClearCache()
	s.AI.ReloadPrompts()
	s.Policy.Invalidate("")
	writeJSON(w, http.StatusOK, map[string]any{"evicted": evicted})
}

// AdminSystemHealth handles GET /admin/system/health.
func (s *Server) AdminSystemHealth(w http.ResponseWriter, r *http.Request) {
	results := s.Health.CheckAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy":         s.Health.Overall(r.Context()),
		"services":        results,
		"breakers":        s.Breakers.Stats(),
		"ai_tokens_today": s.AI.BudgetUsed(),
	})
}

// Healthz is liveness: 200 whenever the process is up.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz is readiness: 503 until critical dependencies are healthy.
func (s *Server) Readyz(w http.ResponseWriter, r *http.Request) {
	if !s.Health.Overall(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ServiceHealth handles GET /api/health and GET /api/health/{service}.
func (s *Server) ServiceHealth(w http.ResponseWriter, r *http.Request) {
	if name := chi.URLParam(r, "service"); name != "" {
		res, ok := s.Health.Check(r.Context(), name)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: unknown service %q", domain.ErrNotFound, name), nil)
			return
		}
		status := http.StatusOK
		if res.Status == resilience.Unhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, res)
		return
	}
	writeJSON(w, http.StatusOK, s.Health.CheckAll(r.Context()))
}
