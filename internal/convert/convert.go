// Package convert turns uploaded PDF, DOCX and HTML files into sanitized HTML
// fragments that the highlight renderer can annotate.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

const (
	TypeHTML = "html"
	TypePDF  = "pdf"
	TypeDOCX = "docx"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrToolMissing     = errors.New("conversion tool missing")
	ErrInvalidPDF      = errors.New("invalid pdf")
	ErrEmptyOutput     = errors.New("conversion produced no content")
)

// runFunc executes an external tool inside dir.
type runFunc func(ctx context.Context, dir, name string, args ...string) error

// Converter shells out to pdftohtml and pandoc in a scratch directory per call.
type Converter struct {
	tempDir string
	run     runFunc
}

// New returns a converter using the system temp directory and real binaries.
func New() *Converter {
	return &Converter{run: runCommand}
}

// FileType maps an upload name to its file type, or "" when unsupported.
func FileType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return TypePDF
	case strings.HasSuffix(lower, ".docx"):
		return TypeDOCX
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return TypeHTML
	}
	return ""
}

// ContentType is the MIME type served for a file type.
func ContentType(fileType string) string {
	switch fileType {
	case TypePDF:
		return "application/pdf"
	case TypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case TypeHTML:
		return "text/html; charset=utf-8"
	}
	return "application/octet-stream"
}

// ToHTML converts file content of the given type into a sanitized HTML fragment.
func (c *Converter) ToHTML(ctx context.Context, fileType string, data []byte) (string, error) {
	var (
		raw string
		err error
	)
	switch fileType {
	case TypeHTML:
		raw = string(data)
	case TypePDF:
		raw, err = c.pdfToHTML(ctx, data)
	case TypeDOCX:
		raw, err = c.docxToHTML(ctx, data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(Sanitize(raw))
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

func (c *Converter) scratchDir() (string, error) {
	dir, err := os.MkdirTemp(c.tempDir, "attackflow-convert-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not installed", ErrToolMissing, name)
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
