package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	z "github.com/Oudwins/zog"
	"go.uber.org/zap"

	"sicet-backend-go/internal/services"
)

const maxBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

func mapServiceError(w http.ResponseWriter, err error) bool {
	if err == nil {
		return false
	}
	if serr, ok := services.AsServiceError(err); ok {
		WriteError(w, serr.Status, serr.Message)
		return true
	}
	return false
}

// fail writes err as a service error, or logs it and answers 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if mapServiceError(w, err) {
		return
	}
	s.Logger.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	WriteError(w, http.StatusInternalServerError, "Internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "Invalid payload")
		return false
	}
	return true
}

// decodeValid decodes the body into dst and validates it against schema.
func decodeValid(w http.ResponseWriter, r *http.Request, schema *z.StructSchema, dst interface{}) bool {
	if !decodeJSON(w, r, dst) {
		return false
	}
	if issues := schema.Validate(dst); len(issues) > 0 {
		WriteError(w, http.StatusBadRequest, firstIssue(issues))
		return false
	}
	return true
}

func firstIssue(issues z.ZogIssueMap) string {
	keys := make([]string, 0, len(issues))
	for key := range issues {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, issue := range issues[key] {
			if issue != nil && issue.Message != "" {
				return issue.Message
			}
		}
	}
	return "Invalid payload"
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
