package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

const inviteSendTimeout = 15 * time.Second

type PagedResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

type PreRegisterRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type AdminUserResponse struct {
	User      UserDTO `json:"user"`
	EmailSent bool    `json:"emailSent"`
}

var preRegisterSchema = z.Struct(z.Shape{
	"Email": z.String().Required(z.Message("Email is required")).Email(z.Message("Invalid email")),
	"Role": z.String().Required(z.Message("Role is required")).
		OneOf([]string{models.RoleOperator, models.RoleAdmin, models.RoleReferrer}, z.Message("Invalid role")),
})

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	pageSize := parseInt(r.URL.Query().Get("pageSize"), 25)
	if pageSize > 100 {
		pageSize = 100
	}
	profiles, total, err := services.ListProfiles(r.Context(), s.DB, services.ProfileFilter{
		Search:   r.URL.Query().Get("search"),
		Status:   r.URL.Query().Get("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]UserDTO, 0, len(profiles))
	for _, profile := range profiles {
		items = append(items, toUserDTO(profile))
	}
	WriteJSON(w, http.StatusOK, PagedResponse[UserDTO]{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// PreRegisterUser creates a registered profile and mails the invitation. The
// profile is kept when the mail fails.
func (s *Server) PreRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req PreRegisterRequest
	req.Role = models.RoleOperator
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if issues := preRegisterSchema.Validate(&req); len(issues) > 0 {
		WriteError(w, http.StatusBadRequest, firstIssue(issues))
		return
	}
	profile, err := services.PreRegister(r.Context(), s.DB, CurrentUserID(r), req.Email, req.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sent := s.sendBestEffort(r.Context(), services.InviteEmail(profile.Email, s.Config.BaseURL))
	WriteJSON(w, http.StatusCreated, AdminUserResponse{User: toUserDTO(profile), EmailSent: sent})
}

func (s *Server) ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	profile, err := services.ForcePasswordReset(r.Context(), s.DB, CurrentUserID(r), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sent := s.sendBestEffort(r.Context(), services.PasswordResetEmail(profile.Email, s.Config.BaseURL))
	WriteJSON(w, http.StatusOK, AdminUserResponse{User: toUserDTO(profile), EmailSent: sent})
}

func (s *Server) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, err := services.DeleteProfile(r.Context(), s.DB, CurrentUserID(r), chi.URLParam(r, "userId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	items, err := services.ListAuditLogs(r.Context(), s.DB, r.URL.Query().Get("objectType"), parseInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string][]models.AuditLog{"items": items})
}

func (s *Server) sendBestEffort(ctx context.Context, email services.Email) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inviteSendTimeout)
	defer cancel()
	if err := s.Mailer.Send(ctx, email); err != nil {
		s.Logger.Warn("user email not sent", zap.String("to", strings.Join(email.To, ",")), zap.Error(err))
		return false
	}
	return true
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	if value < 1 {
		return fallback
	}
	return value
}
