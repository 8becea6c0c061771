package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"

	"sicet-backend-go/internal/services"
)

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

var changePasswordSchema = z.Struct(z.Shape{
	"CurrentPassword": z.String().Required(z.Message("Current password is required")),
	"NewPassword":     z.String().Required(z.Message("New password is required")),
})

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := services.GetProfile(r.Context(), s.DB, CurrentUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]UserDTO{"user": withCapabilities(toUserDTO(profile))})
}

func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !decodeValid(w, r, changePasswordSchema, &req) {
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		WriteError(w, http.StatusBadRequest, "Password confirmation does not match")
		return
	}
	if err := services.ChangePassword(r.Context(), s.DB, s.Tokens, CurrentUserID(r), req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
