package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"

	"sicet-backend-go/internal/services"
)

type TemplateRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DeviceIDs   []string `json:"deviceIds"`
	KPIIDs      []string `json:"kpiIds"`
}

var templateSchema = z.Struct(z.Shape{
	"Name":        z.String().Required(z.Message("Template name is required")).Max(120, z.Message("Template name is too long")),
	"Description": z.String().Max(2000, z.Message("Description is too long")),
})

func (req TemplateRequest) input() services.TemplateInput {
	return services.TemplateInput{Name: req.Name, Description: req.Description, DeviceIDs: req.DeviceIDs, KPIIDs: req.KPIIDs}
}

func (s *Server) ListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := services.ListTemplates(r.Context(), s.DB)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "templateId")
	if !ok {
		return
	}
	template, err := services.GetTemplate(r.Context(), s.DB, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, template)
}

func (s *Server) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if !decodeValid(w, r, templateSchema, &req) {
		return
	}
	template, err := services.CreateTemplate(r.Context(), s.DB, CurrentUserID(r), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, template)
}

func (s *Server) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "templateId")
	if !ok {
		return
	}
	var req TemplateRequest
	if !decodeValid(w, r, templateSchema, &req) {
		return
	}
	template, err := services.UpdateTemplate(r.Context(), s.DB, id, req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, template)
}

func (s *Server) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "templateId")
	if !ok {
		return
	}
	if err := services.DeleteTemplate(r.Context(), s.DB, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
