package httpapi

import (
	"net/http"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"sicet-backend-go/internal/services"
)

type DeviceRequest struct {
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

var deviceSchema = z.Struct(z.Shape{
	"Name":        z.String().Required(z.Message("Device name is required")).Max(120, z.Message("Device name is too long")),
	"Location":    z.String().Max(200, z.Message("Location is too long")),
	"Description": z.String().Max(2000, z.Message("Description is too long")),
	"Tags":        z.Slice(z.String().Max(40, z.Message("Tag is too long"))),
})

func (req DeviceRequest) input() services.DeviceInput {
	return services.DeviceInput{Name: req.Name, Location: req.Location, Description: req.Description, Tags: req.Tags}
}

func (s *Server) ListDevices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	caller, _ := CurrentCaller(r)
	items, err := services.ListDevices(r.Context(), s.DB, services.DeviceFilter{
		Search:         query.Get("search"),
		Tag:            query.Get("tag"),
		IncludeDeleted: query.Get("includeDeleted") == "true" && caller.Can(services.ResourceDevices, services.ActionDelete),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) GetDevice(w http.ResponseWriter, r *http.Request) {
	device, err := services.GetDevice(r.Context(), s.DB, chi.URLParam(r, "deviceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, device)
}

func (s *Server) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeValid(w, r, deviceSchema, &req) {
		return
	}
	device, err := services.CreateDevice(r.Context(), s.DB, req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, device)
}

func (s *Server) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if !decodeValid(w, r, deviceSchema, &req) {
		return
	}
	device, err := services.UpdateDevice(r.Context(), s.DB, chi.URLParam(r, "deviceId"), req.input())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, device)
}

func (s *Server) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := services.DeleteDevice(r.Context(), s.DB, chi.URLParam(r, "deviceId")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
