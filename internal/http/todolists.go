package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"sicet-backend-go/internal/services"
)

const scheduleLayout = services.DateLayout + " 15:04"

type TodolistRequest struct {
	DeviceID      string   `json:"deviceId"`
	Dates         []string `json:"dates"`
	Time          string   `json:"time"`
	TimeSlotType  string   `json:"timeSlotType"`
	TimeSlotStart *string  `json:"timeSlotStart"`
	TimeSlotEnd   *string  `json:"timeSlotEnd"`
	KPIIDs        []string `json:"kpiIds"`
}

type TaskRequest struct {
	Status string          `json:"status"`
	Value  json.RawMessage `json:"value"`
}

var todolistSchema = z.Struct(z.Shape{
	"DeviceID": z.String().Required(z.Message("deviceId is required")),
	"Dates":    z.Slice(z.String()).Min(1, z.Message("At least one date is required")),
	"KPIIDs":   z.Slice(z.String()).Min(1, z.Message("At least one KPI is required")),
})

var taskSchema = z.Struct(z.Shape{
	"Status": z.String().Required(z.Message("status is required")),
})

// scheduledTimes combines each date with the time of day in the app timezone.
func (req TodolistRequest) scheduledTimes(loc *time.Location) ([]time.Time, error) {
	clock := strings.TrimSpace(req.Time)
	if clock == "" {
		clock = "00:00"
	}
	times := make([]time.Time, 0, len(req.Dates))
	for _, raw := range req.Dates {
		value, err := time.ParseInLocation(scheduleLayout, strings.TrimSpace(raw)+" "+clock, loc)
		if err != nil {
			return nil, services.ErrBadRequest(fmt.Sprintf("Invalid date %s, expected YYYY-MM-DD and HH:MM", raw))
		}
		times = append(times, value)
	}
	return times, nil
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid id")
		return "", false
	}
	return raw, true
}

func (s *Server) ListTodolists(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dates, err := services.ParseDateRange(query.Get("startDate"), query.Get("endDate"), s.location(), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter := services.TodolistFilter{
		DeviceID: query.Get("deviceId"),
		Status:   query.Get("status"),
		Page:     parseInt(query.Get("page"), 1),
		PageSize: parseInt(query.Get("pageSize"), 50),
	}
	if !dates.IsZero() {
		from, to := dates.Bounds()
		last := to.Add(-time.Nanosecond)
		filter.From, filter.To = &from, &last
	}
	items, total, err := services.ListTodolists(r.Context(), s.DB, s.Clock, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, PagedResponse[services.TodolistView]{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize})
}

func (s *Server) GetTodolist(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "todolistId")
	if !ok {
		return
	}
	detail, err := services.GetTodolist(r.Context(), s.DB, s.Clock, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

func (s *Server) CreateTodolists(w http.ResponseWriter, r *http.Request) {
	var req TodolistRequest
	if !decodeValid(w, r, todolistSchema, &req) {
		return
	}
	scheduled, err := req.scheduledTimes(s.location())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created, err := services.CreateTodolists(r.Context(), s.DB, CurrentUserID(r), services.TodolistInput{
		DeviceID:  req.DeviceID,
		Scheduled: scheduled,
		SlotType:  req.TimeSlotType,
		SlotStart: req.TimeSlotStart,
		SlotEnd:   req.TimeSlotEnd,
		KPIIDs:    req.KPIIDs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]interface{}{"items": created})
}

func (s *Server) DeleteTodolist(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "todolistId")
	if !ok {
		return
	}
	if err := services.DeleteTodolist(r.Context(), s.DB, CurrentUserID(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) DiscardTodolist(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "todolistId")
	if !ok {
		return
	}
	status, err := s.Lifecycle.DiscardPending(r.Context(), id, CurrentUserID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

func (s *Server) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "taskId")
	if !ok {
		return
	}
	var req TaskRequest
	if !decodeValid(w, r, taskSchema, &req) {
		return
	}
	task, err := s.Lifecycle.UpdateTask(r.Context(), id, CurrentUserID(r), services.TaskUpdate{Status: req.Status, Value: req.Value})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, task)
}
