package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ActivateRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type TokenResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresAt    int64   `json:"expiresAt"`
	User         UserDTO `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

var activateSchema = z.Struct(z.Shape{
	"Email":    z.String().Required(z.Message("Email is required")).Email(z.Message("Invalid email")),
	"Password": z.String().Required(z.Message("Password is required")),
})

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profile, err := services.Authenticate(r.Context(), s.DB, s.Tokens, req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTokens(w, r, profile)
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	profileID, err := s.Tokens.SubjectOf(req.RefreshToken, services.TokenRefresh)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	profile, err := services.GetProfile(r.Context(), s.DB, profileID)
	if err != nil || profile.Status != models.ProfileActivated {
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
		return
	}
	s.writeTokens(w, r, profile)
}

// Activate completes signup for a pre-registered email, or a forced reset.
func (s *Server) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !decodeValid(w, r, activateSchema, &req) {
		return
	}
	if req.ConfirmPassword != "" && req.Password != req.ConfirmPassword {
		WriteError(w, http.StatusBadRequest, "Password confirmation does not match")
		return
	}
	profile, err := services.ActivateProfile(r.Context(), s.DB, s.Tokens, req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeTokens(w, r, profile)
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeTokens(w http.ResponseWriter, r *http.Request, profile models.Profile) {
	pair, err := s.Tokens.IssuePair(profile.ID, profile.Email, profile.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		User:         withCapabilities(toUserDTO(profile)),
	})
}
