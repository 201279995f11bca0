package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"civicdesk/internal/middleware"
	"civicdesk/internal/models"
	"civicdesk/internal/repository"
	"civicdesk/internal/utils"
	"civicdesk/internal/workflow"
)

// ComplaintHTTP wires the complaint endpoints to the workflow engine (writes)
// and the read repo (lists, history). All lifecycle rules live in the engine.
type ComplaintHTTP struct {
	engine *workflow.Service
	reader repository.ComplaintReader
	users  repository.UserRepository
}

func NewComplaintHTTP(engine *workflow.Service, reader repository.ComplaintReader, users repository.UserRepository) *ComplaintHTTP {
	return &ComplaintHTTP{engine: engine, reader: reader, users: users}
}

// actor loads the authenticated user, or nil when unauthenticated.
func (h *ComplaintHTTP) actor(r *http.Request) (*models.User, error) {
	uid, _ := utils.GetString(r.Context(), middleware.CtxUserID)
	if uid == "" {
		return nil, nil
	}
	return h.users.GetByID(r.Context(), uid)
}

// writeWorkflowError renders a Refusal with its kind and rule so the caller
// can show a precise message; raw store errors never leak.
func writeWorkflowError(w http.ResponseWriter, err error) {
	if errors.Is(err, workflow.ErrNotFound) {
		utils.Error(w, http.StatusNotFound, "not found")
		return
	}
	if ref, ok := workflow.AsRefusal(err); ok {
		status := http.StatusBadRequest
		switch ref.Kind {
		case workflow.RefusalAuthorization:
			status = http.StatusForbidden
		case workflow.RefusalState, workflow.RefusalAllocationExhausted:
			status = http.StatusConflict
		case workflow.RefusalExpiredCredential:
			status = http.StatusGone
		}
		utils.JSON(w, status, map[string]any{
			"error": ref.Rule,
			"kind":  ref.Kind,
			"field": ref.Field,
		})
		return
	}
	utils.Error(w, http.StatusInternalServerError, "internal error")
}

// -----------------------------------------------------------------------------
// GET /api/complaints
// -----------------------------------------------------------------------------
func (h *ComplaintHTTP) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qv := r.URL.Query()
		f := repository.ComplaintFilter{
			Q:        strings.TrimSpace(qv.Get("q")),
			Status:   strings.TrimSpace(qv.Get("status")),
			Priority: strings.TrimSpace(qv.Get("priority")),
			Type:     strings.TrimSpace(qv.Get("type")),
			WardID:   strings.TrimSpace(qv.Get("ward")),
			Limit:    utils.QueryInt(qv, "limit", 20),
			Offset:   utils.QueryInt(qv, "offset", 0),
			Sort:     qv.Get("sort"),
			Order:    qv.Get("order"),
		}

		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if actor == nil {
			utils.Error(w, http.StatusUnauthorized, "authentication required")
			return
		}
		// Visibility scoping by role.
		switch actor.Role {
		case models.RoleCitizen:
			f.SubmittedBy = actor.ID
		case models.RoleWardOfficer:
			if actor.WardID != nil {
				f.WardID = *actor.WardID
			}
		case models.RoleMaintenance:
			f.Maintenance = actor.ID
		}

		items, total, err := h.reader.List(r.Context(), f)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		now := time.Now()
		for i := range items {
			workflow.RefreshSla(&items[i], now)
		}
		utils.JSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
	}
}

// -----------------------------------------------------------------------------
// GET /api/complaints/{ref}
// -----------------------------------------------------------------------------
func (h *ComplaintHTTP) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		if ref == "" {
			utils.Error(w, http.StatusBadRequest, "missing reference")
			return
		}
		c, err := h.reader.Get(r.Context(), ref)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if c == nil {
			utils.Error(w, http.StatusNotFound, "not found")
			return
		}

		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !canView(actor, c) {
			utils.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		workflow.RefreshSla(c, time.Now())
		utils.JSON(w, http.StatusOK, c)
	}
}

// GET /api/complaints/{ref}/log
func (h *ComplaintHTTP) StatusLog() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		c, err := h.reader.Get(r.Context(), ref)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if c == nil {
			utils.Error(w, http.StatusNotFound, "not found")
			return
		}
		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !canView(actor, c) {
			utils.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		entries, err := h.reader.StatusLog(r.Context(), c.ID)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		utils.JSON(w, http.StatusOK, map[string]any{"items": entries})
	}
}

func canView(actor *models.User, c *models.Complaint) bool {
	if actor == nil {
		return false
	}
	switch actor.Role {
	case models.RoleAdmin:
		return true
	case models.RoleWardOfficer:
		if c.WardOfficerID != nil && *c.WardOfficerID == actor.ID {
			return true
		}
		return actor.WardID != nil && *actor.WardID == c.WardID
	case models.RoleMaintenance:
		return c.MaintenanceTeamID != nil && *c.MaintenanceTeamID == actor.ID
	default:
		return c.SubmittedByID != nil && *c.SubmittedByID == actor.ID
	}
}

// -----------------------------------------------------------------------------
// POST /api/complaints (authenticated create)
// -----------------------------------------------------------------------------
func (h *ComplaintHTTP) Create() http.HandlerFunc {
	type inDTO struct {
		Type         string          `json:"type"`
		Description  string          `json:"description"`
		Area         string          `json:"area"`
		WardID       string          `json:"wardId"`
		Priority     models.Priority `json:"priority"`
		ContactPhone string          `json:"contactPhone"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		if actor == nil {
			utils.Error(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		c, err := h.engine.CreateComplaint(r.Context(), workflow.CreateInput{
			Type:         in.Type,
			Description:  in.Description,
			Area:         in.Area,
			WardID:       in.WardID,
			Priority:     in.Priority,
			ContactPhone: in.ContactPhone,
		}, actor)
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		utils.JSON(w, http.StatusCreated, c)
	}
}

// -----------------------------------------------------------------------------
// POST /api/complaints/{ref}/transition
// -----------------------------------------------------------------------------
func (h *ComplaintHTTP) Transition() http.HandlerFunc {
	type inDTO struct {
		Status            models.ComplaintStatus `json:"status"`
		MaintenanceTeamID string                 `json:"maintenanceTeamId"`
		WardOfficerID     string                 `json:"wardOfficerId"`
		Comment           string                 `json:"comment"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		c, err := h.engine.TransitionComplaint(r.Context(), ref, in.Status, actor, workflow.AssignmentFields{
			MaintenanceTeamID: strings.TrimSpace(in.MaintenanceTeamID),
			WardOfficerID:     strings.TrimSpace(in.WardOfficerID),
			Comment:           strings.TrimSpace(in.Comment),
		})
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		utils.JSON(w, http.StatusOK, c)
	}
}

// POST /api/complaints/{ref}/reopen
func (h *ComplaintHTTP) Reopen() http.HandlerFunc {
	type inDTO struct {
		Comment string `json:"comment"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ref := chi.URLParam(r, "ref")
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		actor, err := h.actor(r)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		c, err := h.engine.ReopenComplaint(r.Context(), ref, actor, strings.TrimSpace(in.Comment))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		utils.JSON(w, http.StatusOK, c)
	}
}
