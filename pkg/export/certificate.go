package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Certificate describes a course completion certificate.
type Certificate struct {
	StudentName string
	CourseTitle string
	Instructor  string
	CompletedAt time.Time
	Serial      string
}

// CertificateRenderer renders completion certificates as single page PDFs.
type CertificateRenderer struct {
	Issuer string
}

// NewCertificateRenderer constructs a renderer signing certificates as issuer.
func NewCertificateRenderer(issuer string) *CertificateRenderer {
	if issuer == "" {
		issuer = "Course Sync"
	}
	return &CertificateRenderer{Issuer: issuer}
}

// Render produces the certificate PDF.
func (r *CertificateRenderer) Render(cert Certificate) ([]byte, error) {
	if cert.StudentName == "" || cert.CourseTitle == "" {
		return nil, fmt.Errorf("certificate requires student name and course title")
	}
	if cert.CompletedAt.IsZero() {
		cert.CompletedAt = time.Now().UTC()
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	width, height := pdf.GetPageSize()
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, width-20, height-20, "D")

	pdf.SetY(40)
	pdf.SetFont("Arial", "B", 28)
	pdf.CellFormat(0, 14, "Certificate of Completion", "", 1, "C", false, 0, "")

	pdf.Ln(8)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 12, tr(cert.StudentName), "", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Arial", "", 14)
	pdf.CellFormat(0, 8, "has completed the course", "", 1, "C", false, 0, "")

	pdf.Ln(2)
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 10, tr(cert.CourseTitle), "", 1, "C", false, 0, "")

	pdf.Ln(10)
	pdf.SetFont("Arial", "", 11)
	if cert.Instructor != "" {
		pdf.CellFormat(0, 6, tr("Instructor: "+cert.Instructor), "", 1, "C", false, 0, "")
	}
	pdf.CellFormat(0, 6, "Completed on "+cert.CompletedAt.Format("2 January 2006"), "", 1, "C", false, 0, "")

	pdf.SetY(height - 30)
	pdf.SetFont("Arial", "I", 9)
	footer := tr(r.Issuer)
	if cert.Serial != "" {
		footer += " - " + cert.Serial
	}
	pdf.CellFormat(0, 5, footer, "", 1, "C", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
