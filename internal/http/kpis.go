package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"sicet-backend-go/internal/models"
	"sicet-backend-go/internal/services"
)

type KPIRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Value       models.KPIFields `json:"value"`
}

var kpiSchema = z.Struct(z.Shape{
	"Name":        z.String().Required(z.Message("KPI name is required")).Max(120, z.Message("KPI name is too long")),
	"Description": z.String().Max(2000, z.Message("Description is too long")),
})

func (req KPIRequest) input() services.KPIInput {
	return services.KPIInput{Name: req.Name, Description: req.Description, Fields: req.Value}
}

func (s *Server) ListKPIs(w http.ResponseWriter, r *http.Request) {
	caller, _ := CurrentCaller(r)
	includeDeleted := r.URL.Query().Get("includeDeleted") == "true" && caller.Can(services.ResourceKPIs, services.ActionDelete)
	items, err := services.ListKPIs(r.Context(), s.DB, includeDeleted)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) GetKPI(w http.ResponseWriter, r *http.Request) {
	kpi, err := services.GetKPI(r.Context(), s.DB, chi.URLParam(r, "kpiId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, kpi)
}

func (s *Server) CreateKPI(w http.ResponseWriter, r *http.Request) {
	var req KPIRequest
	if !decodeValid(w, r, kpiSchema, &req) {
		return
	}
	kpi, err := services.CreateKPI(r.Context(), s.DB, req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, kpi)
}

func (s *Server) UpdateKPI(w http.ResponseWriter, r *http.Request) {
	var req KPIRequest
	if !decodeValid(w, r, kpiSchema, &req) {
		return
	}
	kpi, err := services.UpdateKPI(r.Context(), s.DB, chi.URLParam(r, "kpiId"), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, kpi)
}

func (s *Server) DeleteKPI(w http.ResponseWriter, r *http.Request) {
	if err := services.DeleteKPI(r.Context(), s.DB, chi.URLParam(r, "kpiId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
