package handler

import (
	"log/slog"
	"net/http"

	"github.com/gitforme/gitforme/internal/service"
)

// StatsHandler serves the small public statistics surface.
type StatsHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

func NewStatsHandler(authSvc *service.AuthService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{authSvc: authSvc, logger: logger}
}

// HandleUserCount returns the total number of registered users.
//
// HTTP: GET /api/stats/user-count
// Auth: none — this is a public vanity metric for the landing page.
func (h *StatsHandler) HandleUserCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.authSvc.UserCount(r.Context())
	if err != nil {
		h.logger.Error("user count failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// HandleHealth is the liveness probe.
//
// HTTP: GET /api/health
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
