package services

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"
	"github.com/jmoiron/sqlx"
	"github.com/skip2/go-qrcode"

	"sicet-backend-go/internal/models"
)

const (
	qrColumns  = 3
	qrRows     = 4
	qrCellW    = 63.0
	qrCellH    = 68.0
	qrImageMM  = 46.0
	qrMarginMM = 10.0
	qrPixels   = 512
)

// DeviceQRContent is what a scanner reads for a device: a deep link when the
// frontend URL is known, the bare id otherwise.
func DeviceQRContent(deviceID, baseURL string) string {
	if baseURL == "" {
		return deviceID
	}
	return fmt.Sprintf("%s/devices/%s", baseURL, deviceID)
}

// WriteDeviceQRCodes renders one labelled QR code per active device.
func WriteDeviceQRCodes(ctx context.Context, db *sqlx.DB, w io.Writer, baseURL string) (int, error) {
	devices, err := ListDevices(ctx, db, DeviceFilter{})
	if err != nil {
		return 0, err
	}
	if err := RenderDeviceQRCodes(w, devices, baseURL); err != nil {
		return 0, err
	}
	return len(devices), nil
}

func RenderDeviceQRCodes(w io.Writer, devices []models.Device, baseURL string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Sicet - QR code punti di controllo", true)
	pdf.SetAutoPageBreak(false, qrMarginMM)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if len(devices) == 0 {
		pdf.AddPage()
		pdf.SetFont("Helvetica", "", 12)
		pdf.Text(qrMarginMM, qrMarginMM+10, tr("Nessun punto di controllo attivo"))
		return pdf.Output(w)
	}

	perPage := qrColumns * qrRows
	imageOpts := fpdf.ImageOptions{ImageType: "PNG"}
	for i, device := range devices {
		if i%perPage == 0 {
			pdf.AddPage()
		}
		png, err := qrcode.Encode(DeviceQRContent(device.ID, baseURL), qrcode.Medium, qrPixels)
		if err != nil {
			return fmt.Errorf("qr for %s: %w", device.ID, err)
		}
		name := "qr-" + device.ID
		pdf.RegisterImageOptionsReader(name, imageOpts, bytes.NewReader(png))

		slot := i % perPage
		x := qrMarginMM + float64(slot%qrColumns)*qrCellW
		y := qrMarginMM + float64(slot/qrColumns)*qrCellH
		pdf.ImageOptions(name, x+(qrCellW-qrImageMM)/2, y, qrImageMM, qrImageMM, false, imageOpts, 0, "")

		pdf.SetXY(x, y+qrImageMM+1)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.CellFormat(qrCellW, 5, tr(device.Name), "", 2, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 8)
		pdf.CellFormat(qrCellW, 4, device.ID, "", 2, "C", false, 0, "")
		if device.Location != "" {
			pdf.CellFormat(qrCellW, 4, tr(device.Location), "", 2, "C", false, 0, "")
		}
	}
	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}
