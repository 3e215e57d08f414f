// Package certificate renders attendance certificates as PDF.
package certificate

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"
)

// Certificate holds what is printed on one certificate.
type Certificate struct {
	ParticipantName string
	SeminarTitle    string
	Speaker         string
	Date            string
	VerifyURL       string
	// Background is an optional PNG or JPEG drawn over the whole page.
	Background     []byte
	BackgroundType string
}

// Render produces a single-page landscape A4 PDF.
func Render(c Certificate) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if len(c.Background) > 0 && c.BackgroundType != "" {
		opts := gofpdf.ImageOptions{ImageType: c.BackgroundType}
		pdf.RegisterImageOptionsReader("background", opts, bytes.NewReader(c.Background))
		if pdf.Ok() {
			pdf.ImageOptions("background", 0, 0, pageW, pageH, false, opts, 0, "")
		} else {
			// An unreadable template falls back to the plain layout.
			pdf.ClearError()
		}
	} else {
		pdf.SetDrawColor(120, 120, 120)
		pdf.SetLineWidth(1)
		pdf.Rect(10, 10, pageW-20, pageH-20, "D")
	}

	pdf.SetY(40)
	pdf.SetFont("Helvetica", "B", 30)
	pdf.CellFormat(0, 14, "CERTIFICATE OF ATTENDANCE", "", 1, "C", false, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 26)
	pdf.CellFormat(0, 14, tr(c.ParticipantName), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 14)
	pdf.CellFormat(0, 8, "attended the seminar", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 10, tr(c.SeminarTitle), "", "C", false)

	pdf.SetFont("Helvetica", "", 12)
	if c.Speaker != "" {
		pdf.CellFormat(0, 7, tr("Speaker: "+c.Speaker), "", 1, "C", false, 0, "")
	}
	if c.Date != "" {
		pdf.CellFormat(0, 7, tr("Held on "+c.Date), "", 1, "C", false, 0, "")
	}

	if c.VerifyURL != "" {
		code, err := qrcode.Encode(c.VerifyURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("encode verification code: %w", err)
		}
		opts := gofpdf.ImageOptions{ImageType: "png"}
		pdf.RegisterImageOptionsReader("verify", opts, bytes.NewReader(code))
		pdf.ImageOptions("verify", pageW-55, pageH-55, 35, 0, false, opts, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
