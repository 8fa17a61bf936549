package highlight

import (
	"errors"
	"testing"

	"attackflow/api/internal/annotation"
)

func sampleAnnotations() []annotation.Annotation {
	return []annotation.Annotation{
		{ID: 1, SelectedText: "a", Tag: "Execution", Code: "TA0002", RelatedIDs: []int{2}},
		{ID: 2, SelectedText: "b", Tag: "Impact", Code: "TA0040", RelatedIDs: []int{}},
		{ID: 3, SelectedText: "c", Tag: "Impact", Code: "TA0040", RelatedIDs: []int{1}},
	}
}

func TestRedrawBuildsOneRowPerAnnotation(t *testing.T) {
	panel := NewPanel()
	panel.Redraw(sampleAnnotations())

	rows := panel.Rows()
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	first := rows[0].Relations
	if len(first.Checkboxes) != 2 {
		t.Fatalf("expected 2 checkboxes (no self), got %d", len(first.Checkboxes))
	}
	if first.Checkboxes[0].ElementID != "relation-1-2" || !first.Checkboxes[0].Checked {
		t.Fatalf("unexpected first checkbox %+v", first.Checkboxes[0])
	}
	if first.Checkboxes[1].Checked {
		t.Fatalf("expected relation-1-3 unchecked")
	}
}

func TestRedrawReplacesPreviousRows(t *testing.T) {
	panel := NewPanel()
	panel.Redraw(sampleAnnotations())
	panel.Redraw(sampleAnnotations()[:1])

	rows := panel.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if len(rows[0].Relations.Checkboxes) != 0 {
		t.Fatalf("stale checkboxes survived redraw: %+v", rows[0].Relations.Checkboxes)
	}
}

func TestSetCheckedAndToggle(t *testing.T) {
	panel := NewPanel()
	panel.Redraw(sampleAnnotations())

	if err := panel.SetChecked(1, []int{3}); err != nil {
		t.Fatalf("SetChecked() error = %v", err)
	}
	if got := panel.Sections()[0].Checked(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("checked = %v, want [3]", got)
	}
	if err := panel.Toggle(1, 2, true); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if got := panel.Sections()[0].Checked(); len(got) != 2 {
		t.Fatalf("checked = %v, want two entries", got)
	}

	if err := panel.SetChecked(1, []int{1}); !errors.Is(err, ErrUnknownCheckbox) {
		t.Fatalf("expected ErrUnknownCheckbox for self, got %v", err)
	}
	if err := panel.Toggle(9, 1, true); !errors.Is(err, ErrRowNotRendered) {
		t.Fatalf("expected ErrRowNotRendered, got %v", err)
	}
}

func TestRowsReturnsCopy(t *testing.T) {
	panel := NewPanel()
	panel.Redraw(sampleAnnotations())
	rows := panel.Rows()
	rows[0].Relations.Checkboxes[0].Checked = false
	if !panel.Rows()[0].Relations.Checkboxes[0].Checked {
		t.Fatal("Rows() exposed internal state")
	}
}

func TestReset(t *testing.T) {
	panel := NewPanel()
	panel.Redraw(sampleAnnotations())
	panel.Reset()
	if len(panel.Rows()) != 0 {
		t.Fatal("expected empty panel after Reset")
	}
}
