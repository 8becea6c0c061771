package httpapi

import (
	"net/http"
	"strings"

	z "github.com/Oudwins/zog"

	"sicet-backend-go/internal/services"
)

type MatrixDeleteRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	DeviceID  string `json:"deviceId"`
	Signature string `json:"signature"`
	Type      string `json:"type"`
}

var matrixDeleteSchema = z.Struct(z.Shape{
	"Signature": z.String().Required(z.Message("signature is required")),
	"Type": z.String().Required(z.Message("type is required")).
		OneOf([]string{services.GroupSingle, services.GroupComposite}, z.Message("Invalid group type")),
})

func (s *Server) matrixQuery(startRaw, endRaw, deviceID string) (services.MatrixQuery, error) {
	dates, err := services.ParseDateRange(startRaw, endRaw, s.location(), true)
	if err != nil {
		return services.MatrixQuery{}, err
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID != "" && !services.IsDeviceID(deviceID) {
		return services.MatrixQuery{}, services.ErrBadRequest("Invalid device id")
	}
	return services.MatrixQuery{Range: dates, DeviceID: deviceID}, nil
}

func (s *Server) GetMatrix(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mq, err := s.matrixQuery(query.Get("startDate"), query.Get("endDate"), query.Get("deviceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	devices, err := s.Matrix.Read(r.Context(), mq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"startDate": mq.Range.From.Format(services.DateLayout),
		"endDate":   mq.Range.To.Format(services.DateLayout),
		"devices":   devices,
	})
}

// DeleteMatrixGroup removes every todolist of one device/signature group.
// The group is matched again server side at delete time.
func (s *Server) DeleteMatrixGroup(w http.ResponseWriter, r *http.Request) {
	var req MatrixDeleteRequest
	if !decodeValid(w, r, matrixDeleteSchema, &req) {
		return
	}
	mq, err := s.matrixQuery(req.StartDate, req.EndDate, req.DeviceID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.Matrix.BulkDelete(r.Context(), CurrentUserID(r), services.BulkDeleteRequest{
		MatrixQuery: mq,
		Signature:   req.Signature,
		Type:        req.Type,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
