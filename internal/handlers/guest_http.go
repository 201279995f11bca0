package handlers

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"civicdesk/internal/captcha"
	"civicdesk/internal/models"
	"civicdesk/internal/utils"
	"civicdesk/internal/workflow"
)

// GuestHTTP serves the unauthenticated submission flow: captcha challenge,
// phase-1 submit, phase-2 verify, and code resend.
type GuestHTTP struct {
	engine   *workflow.Service
	captchas *captcha.Store
}

func NewGuestHTTP(engine *workflow.Service, captchas *captcha.Store) *GuestHTTP {
	return &GuestHTTP{engine: engine, captchas: captchas}
}

// GET /api/guest/captcha
// Issues an arithmetic challenge; rendering it as an image is the frontend's
// concern, the answer lives only in the TTL store.
func (h *GuestHTTP) Captcha() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, b := rand.Intn(9)+1, rand.Intn(9)+1
		id, err := h.captchas.Issue(r.Context(), fmt.Sprintf("%d", a+b))
		if err != nil {
			utils.Error(w, http.StatusInternalServerError, "captcha unavailable")
			return
		}
		utils.JSON(w, http.StatusOK, map[string]string{
			"challengeId": id,
			"question":    fmt.Sprintf("%d + %d = ?", a, b),
		})
	}
}

// POST /api/guest/complaints — phase 1.
func (h *GuestHTTP) Submit() http.HandlerFunc {
	type inDTO struct {
		Type          string          `json:"type"`
		Description   string          `json:"description"`
		Area          string          `json:"area"`
		WardID        string          `json:"wardId"`
		Priority      models.Priority `json:"priority"`
		FullName      string          `json:"fullName"`
		Email         string          `json:"email"`
		Phone         string          `json:"phone"`
		CaptchaID     string          `json:"captchaId"`
		CaptchaAnswer string          `json:"captchaAnswer"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}

		receipt, err := h.engine.SubmitGuest(r.Context(), workflow.GuestSubmission{
			CreateInput: workflow.CreateInput{
				Type:         in.Type,
				Description:  in.Description,
				Area:         in.Area,
				WardID:       in.WardID,
				Priority:     in.Priority,
				ContactName:  in.FullName,
				ContactEmail: in.Email,
				ContactPhone: in.Phone,
			},
			CaptchaID:     strings.TrimSpace(in.CaptchaID),
			CaptchaAnswer: strings.TrimSpace(in.CaptchaAnswer),
		})
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		// The code itself travels only over the notification channel.
		utils.JSON(w, http.StatusCreated, map[string]any{
			"complaintRef": receipt.Complaint.SequenceCode,
			"otpExpiresAt": receipt.OTPSession.ExpiresAt,
		})
	}
}

// POST /api/guest/verify — phase 2.
func (h *GuestHTTP) Verify() http.HandlerFunc {
	type inDTO struct {
		Email        string `json:"email"`
		Code         string `json:"code"`
		ComplaintRef string `json:"complaintRef"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		user, c, err := h.engine.VerifyGuest(r.Context(), in.Email, strings.TrimSpace(in.Code), strings.TrimSpace(in.ComplaintRef))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		utils.JSON(w, http.StatusOK, map[string]any{"user": user, "complaint": c})
	}
}

// POST /api/guest/resend
func (h *GuestHTTP) Resend() http.HandlerFunc {
	type inDTO struct {
		Email        string `json:"email"`
		ComplaintRef string `json:"complaintRef"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var in inDTO
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			utils.Error(w, http.StatusBadRequest, "invalid json")
			return
		}
		session, err := h.engine.ResendGuestCode(r.Context(), in.Email, strings.TrimSpace(in.ComplaintRef))
		if err != nil {
			writeWorkflowError(w, err)
			return
		}
		utils.JSON(w, http.StatusOK, map[string]any{"otpExpiresAt": session.ExpiresAt})
	}
}
