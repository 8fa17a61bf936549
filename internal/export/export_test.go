package export

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"testing"
	"time"

	"attackflow/api/internal/annotation"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"APT29 report", "APT29-report"},
		{"weird/../name?.html", "weirdnamehtml"},
		{"", "annotated-document"},
		{"!!!", "annotated-document"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"<p>#1</p>", "%3Cp%3E%231%3C%2Fp%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTMLKeepsMarkersAndTable(t *testing.T) {
	body := `<p>They used <span class="highlighted-text" data-tag="Execution" data-annotation-id="0">PowerShell</span></p>`
	html, err := RenderDocumentHTML(TemplateData{
		Title:       "report",
		ProjectName: "APT29",
		SavedAt:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		ContentHTML: template.HTML(body),
		Rows: []TemplateRow{
			{ID: 0, SelectedText: "PowerShell <script>", Tag: "Execution", Code: "TA0002", Related: "1, 2"},
		},
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}

	if !strings.Contains(html, body) {
		t.Error("annotated body should be rendered unescaped")
	}
	if !strings.Contains(html, "PowerShell &lt;script&gt;") {
		t.Error("table cells must be escaped")
	}
	if !strings.Contains(html, `class="tactic-ta0002"`) {
		t.Error("expected lowercased tactic class on row")
	}
	if !strings.Contains(html, "Mar 1, 2026 09:30") {
		t.Error("expected saved date in header")
	}
}

func TestRenderDocumentHTMLWithoutAnnotations(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{Title: "empty"})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	if strings.Contains(html, "<table") {
		t.Error("no table expected without annotations")
	}
	if strings.Contains(html, "saved") {
		t.Error("zero save time should not be printed")
	}
}

func TestExportDispatchesByFormat(t *testing.T) {
	var gotHTML, gotTitle string
	capture := func(format string) Converter {
		return func(_ context.Context, html, title string) (*Result, error) {
			gotHTML, gotTitle = html, title
			return &Result{Filename: title + "." + format}, nil
		}
	}
	svc := NewServiceWithConverters(capture("pdf"), capture("docx"))

	req := Request{
		ProjectName: "APT29",
		Filename:    "report.html",
		HTML:        "<p>x</p>",
		Annotations: []annotation.Annotation{
			{ID: 3, SelectedText: "x", Tag: "Discovery", Code: "TA0007", RelatedIDs: []int{1, 2}},
		},
		Format: FormatDOCX,
	}
	res, err := svc.Export(context.Background(), req)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if res.Filename != "report.docx" || gotTitle != "report" {
		t.Fatalf("unexpected result %+v title %q", res, gotTitle)
	}
	if !strings.Contains(gotHTML, "<td>1, 2</td>") {
		t.Fatalf("related ids missing from table: %s", gotHTML)
	}

	req.Format = "odt"
	if _, err := svc.Export(context.Background(), req); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExportTitleFallsBackToProject(t *testing.T) {
	var gotTitle string
	conv := func(_ context.Context, _, title string) (*Result, error) {
		gotTitle = title
		return &Result{}, nil
	}
	svc := NewServiceWithConverters(conv, conv)
	if _, err := svc.Export(context.Background(), Request{ProjectName: "Campaign", Format: FormatPDF}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if gotTitle != "Campaign" {
		t.Fatalf("title = %q", gotTitle)
	}
}
