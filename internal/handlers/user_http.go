package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"civicdesk/internal/models"
	"civicdesk/internal/repository"
	"civicdesk/internal/utils"

	"github.com/go-chi/chi/v5"
)

type UserHTTP struct {
	repo repository.UserRepository
}

func NewUserHTTP(r repository.UserRepository) *UserHTTP {
	return &UserHTTP{repo: r}
}

// GET /api/users?q=&role=&ward=&active=&limit=&offset=
func (h *UserHTTP) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qv := r.URL.Query()
		q := qv.Get("q")
		role := qv.Get("role")
		ward := qv.Get("ward")
		var active *bool
		if s := qv.Get("active"); s != "" {
			v, _ := strconv.ParseBool(s)
			active = &v
		}
		limit := utils.QueryInt(qv, "limit", 20)
		offset := utils.QueryInt(qv, "offset", 0)

		users, total, err := h.repo.List(r.Context(), q, role, ward, active, limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		utils.JSON(w, http.StatusOK, map[string]any{"items": users, "total": total})
	}
}

// POST /api/users — admin provisioning of staff accounts.
func (h *UserHTTP) Create() http.HandlerFunc {
	type inDTO struct {
		Email    string  `json:"email"`
		Name     string  `json:"name"`
		Phone    string  `json:"phone"`
		Role     string  `json:"role"`
		WardID   *string `json:"wardId"`
		Password string  `json:"password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		in.Email = strings.ToLower(strings.TrimSpace(in.Email))
		switch in.Role {
		case models.RoleWardOfficer, models.RoleMaintenance, models.RoleAdmin, models.RoleCitizen:
		default:
			utils.Error(w, http.StatusBadRequest, "unknown role")
			return
		}
		if in.Email == "" || in.Name == "" || len(in.Password) < 6 {
			utils.Error(w, http.StatusBadRequest, "email, name and a password of 6+ characters are required")
			return
		}
		// Ward staff need a ward to be scoped to.
		if (in.Role == models.RoleWardOfficer || in.Role == models.RoleMaintenance) && in.WardID == nil {
			utils.Error(w, http.StatusBadRequest, "ward is required for ward staff")
			return
		}

		hash, err := utils.HashPassword(in.Password)
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		u, err := h.repo.Create(r.Context(), &models.User{
			Email:  in.Email,
			Name:   strings.TrimSpace(in.Name),
			Phone:  strings.TrimSpace(in.Phone),
			Role:   in.Role,
			WardID: in.WardID,
			Active: true,
		}, hash)
		if err != nil {
			utils.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.JSON(w, http.StatusCreated, u)
	}
}

// PATCH /api/users/{id}/role
func (h *UserHTTP) UpdateRole() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		u, err := h.repo.UpdateRole(r.Context(), id, req.Role)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if u == nil {
			utils.Error(w, http.StatusNotFound, "not found")
			return
		}
		utils.JSON(w, http.StatusOK, u)
	}
}

// PATCH /api/users/{id}/active
func (h *UserHTTP) SetActive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		u, err := h.repo.SetActive(r.Context(), id, req.Active)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if u == nil {
			utils.Error(w, http.StatusNotFound, "not found")
			return
		}
		utils.JSON(w, http.StatusOK, u)
	}
}

// PATCH /api/users/{id}/password
func (h *UserHTTP) UpdatePassword() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Password) < 6 {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		hash, err := utils.HashPassword(req.Password)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := h.repo.UpdatePasswordHash(r.Context(), id, hash); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		utils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
