package httpapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sicet-backend-go/internal/services"
)

// Export validates every query parameter before touching the database, so a
// bad request never starts a query or a download.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	req, err := services.ParseExportRequest(
		chi.URLParam(r, "kind"),
		chi.URLParam(r, "format"),
		query.Get("startDate"),
		query.Get("endDate"),
		query.Get("deviceId"),
		query.Get("kpiId"),
		query.Get("templateId"),
		s.location(),
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.Exporter.Prepare(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	setAttachment(w, services.ContentType(req.Format), req.Filename(s.Clock.Current()))
	if _, err := job.Stream(r.Context(), w); err != nil {
		// Headers are already sent; the client sees a truncated file.
		s.Logger.Error("export aborted", zap.String("kind", req.Kind), zap.String("format", req.Format), zap.Error(err))
	}
}

// ExportDeviceQRCodes renders the whole PDF before answering so a failure
// still returns a JSON error.
func (s *Server) ExportDeviceQRCodes(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := services.WriteDeviceQRCodes(r.Context(), s.DB, &buf, s.Config.BaseURL); err != nil {
		s.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("devices_qrcodes_%s.pdf", s.Clock.Current().Format("20060102-150405"))
	setAttachment(w, "application/pdf", filename)
	_, _ = w.Write(buf.Bytes())
}

func setAttachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
