package handlers

import (
	"net/http"
	"time"

	"civicdesk/internal/repository/postgres"
	"civicdesk/internal/utils"
)

type ReportsHTTP struct {
	repo *postgres.ComplaintRepo
}

func NewReportsHTTP(r *postgres.ComplaintRepo) *ReportsHTTP { return &ReportsHTTP{repo: r} }

// GET /api/reports/summary
// Returns: { open, overdue, resolved7d, highCriticalOpen }
func (h *ReportsHTTP) Summary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		open, err := h.repo.CountByStatus(r.Context(), []string{"RESOLVED", "CLOSED"}, false)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		overdue, err := h.repo.CountOverdue(r.Context())
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		resolved7d, err := h.repo.CountResolvedSince(r.Context(), time.Now().Add(-7*24*time.Hour))
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		highCritOpen, err := h.repo.CountOpenByPriorities(r.Context(), []string{"HIGH", "CRITICAL"})
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		utils.JSON(w, http.StatusOK, map[string]int{
			"open":             open,
			"overdue":          overdue,
			"resolved7d":       resolved7d,
			"highCriticalOpen": highCritOpen,
		})
	}
}
