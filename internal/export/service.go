package export

import (
	"context"
	"fmt"
	"html/template"
	"path/filepath"
	"strconv"
	"strings"

	"attackflow/api/internal/annotation"
)

// Converter turns a rendered HTML page into the output format.
type Converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides document export functionality
type Service struct {
	pdf  Converter
	docx Converter
}

// NewService creates an export service backed by headless Chrome and pandoc.
func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// NewServiceWithConverters swaps the output backends; used by tests.
func NewServiceWithConverters(pdf, docx Converter) *Service {
	return &Service{pdf: pdf, docx: docx}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	var convert Converter
	switch req.Format {
	case FormatPDF:
		convert = s.pdf
	case FormatDOCX:
		convert = s.docx
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}

	title := strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	if title == "" {
		title = req.ProjectName
	}

	html, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		ProjectName: req.ProjectName,
		SavedAt:     req.SavedAt,
		ContentHTML: template.HTML(req.HTML),
		Rows:        templateRows(req.Annotations),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return convert(ctx, html, title)
}

func templateRows(items []annotation.Annotation) []TemplateRow {
	rows := make([]TemplateRow, 0, len(items))
	for _, item := range items {
		related := make([]string, 0, len(item.RelatedIDs))
		for _, id := range item.RelatedIDs {
			related = append(related, strconv.Itoa(id))
		}
		rows = append(rows, TemplateRow{
			ID:           item.ID,
			SelectedText: item.SelectedText,
			Tag:          item.Tag,
			Code:         item.Code,
			Related:      strings.Join(related, ", "),
		})
	}
	return rows
}
