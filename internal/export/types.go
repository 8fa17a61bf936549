// Package export renders an annotated version with its annotation table as PDF or DOCX.
package export

import (
	"errors"
	"time"

	"attackflow/api/internal/annotation"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request carries everything needed to render one version.
type Request struct {
	ProjectName string
	Filename    string
	// HTML is the annotated document body, markers included.
	HTML        string
	Annotations []annotation.Annotation
	SavedAt     time.Time
	Format      Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
