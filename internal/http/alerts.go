package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

type SubscriptionRequest struct {
	Scope    string `json:"scope"`
	TargetID string `json:"targetId"`
	Email    string `json:"email"`
}

var subscriptionSchema = z.Struct(z.Shape{
	"Scope": z.String().Required(z.Message("scope is required")).
		OneOf([]string{models.ScopeKPI, models.ScopeTodolist}, z.Message("Invalid scope")),
	"TargetID": z.String().Required(z.Message("targetId is required")),
	"Email":    z.String().Required(z.Message("Email is required")),
})

func (s *Server) alertFilter(r *http.Request) services.AlertLogFilter {
	return services.AlertLogFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  parseInt(r.URL.Query().Get("limit"), 100),
	}
}

func (s *Server) ListTodolistAlerts(w http.ResponseWriter, r *http.Request) {
	items, err := services.ListTodolistAlertLogs(r.Context(), s.DB, s.alertFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) ListKPIAlerts(w http.ResponseWriter, r *http.Request) {
	items, err := services.ListKPIAlertLogs(r.Context(), s.DB, s.alertFilter(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	items, err := services.ListSubscriptions(r.Context(), s.DB, r.URL.Query().Get("scope"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if !decodeValid(w, r, subscriptionSchema, &req) {
		return
	}
	sub, err := services.CreateSubscription(r.Context(), s.DB, services.SubscriptionInput{
		Scope:    req.Scope,
		TargetID: req.TargetID,
		Email:    req.Email,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, sub)
}

func (s *Server) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "subscriptionId")
	if !ok {
		return
	}
	if err := services.DeleteSubscription(r.Context(), s.DB, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunOverdueAlerts is invoked by the external scheduler.
func (s *Server) RunOverdueAlerts(w http.ResponseWriter, r *http.Request) {
	result, err := s.Overdue.Run(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
