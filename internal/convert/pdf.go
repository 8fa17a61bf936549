package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFInfo is what upload validation learns about a PDF.
type PDFInfo struct {
	Pages int
}

// InspectPDF validates data with pdfcpu and reports its page count.
func InspectPDF(data []byte) (PDFInfo, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return PDFInfo{}, fmt.Errorf("%w: %v", ErrInvalidPDF, err)
	}
	return PDFInfo{Pages: ctx.PageCount}, nil
}

func (c *Converter) pdfToHTML(ctx context.Context, data []byte) (string, error) {
	if _, err := InspectPDF(data); err != nil {
		return "", err
	}

	dir, err := c.scratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, "source.pdf"), data, 0o600); err != nil {
		return "", fmt.Errorf("write source pdf: %w", err)
	}
	if err := c.run(ctx, dir, "pdftohtml", "-s", "-noframes", "-q", "source.pdf", "document.html"); err != nil {
		return "", err
	}

	out, err := os.ReadFile(filepath.Join(dir, "document.html"))
	if errors.Is(err, os.ErrNotExist) {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.html"))
		if len(matches) == 0 {
			return "", ErrEmptyOutput
		}
		out, err = os.ReadFile(matches[0])
	}
	if err != nil {
		return "", fmt.Errorf("read pdftohtml output: %w", err)
	}
	return InlineImages(string(out), dir)
}
