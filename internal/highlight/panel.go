package highlight

import (
	"errors"
	"fmt"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/relation"
)

var (
	ErrRowNotRendered  = errors.New("annotation row not rendered")
	ErrUnknownCheckbox = errors.New("no such relation checkbox")
)

// Row is one entry of the side panel.
type Row struct {
	AnnotationID int              `json:"annotationId"`
	SelectedText string           `json:"selectedText"`
	Tag          string           `json:"tag"`
	Code         string           `json:"code"`
	Relations    relation.Section `json:"relations"`
}

// Panel is the side-panel listing. It only ever changes through Redraw,
// Reset or checkbox edits, never by touching document markers.
type Panel struct {
	rows []Row
}

func NewPanel() *Panel {
	return &Panel{}
}

// Redraw discards every row and rebuilds the listing from items.
func (p *Panel) Redraw(items []annotation.Annotation) {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		rows = append(rows, Row{
			AnnotationID: item.ID,
			SelectedText: item.SelectedText,
			Tag:          item.Tag,
			Code:         item.Code,
			Relations:    relation.BuildSection(item, items),
		})
	}
	p.rows = rows
}

func (p *Panel) Reset() {
	p.rows = nil
}

// Rows returns a deep copy of the listing.
func (p *Panel) Rows() []Row {
	out := make([]Row, len(p.rows))
	for i, row := range p.rows {
		boxes := make([]relation.Checkbox, len(row.Relations.Checkboxes))
		copy(boxes, row.Relations.Checkboxes)
		row.Relations.Checkboxes = boxes
		out[i] = row
	}
	return out
}

// Sections is what the relation editor reads on save.
func (p *Panel) Sections() []relation.Section {
	rows := p.Rows()
	out := make([]relation.Section, len(rows))
	for i, row := range rows {
		out[i] = row.Relations
	}
	return out
}

// SetChecked makes exactly the boxes in checked ticked for owner's row.
func (p *Panel) SetChecked(owner int, checked []int) error {
	row := p.row(owner)
	if row == nil {
		return fmt.Errorf("%w: %d", ErrRowNotRendered, owner)
	}
	want := make(map[int]struct{}, len(checked))
	for _, id := range checked {
		if indexOfBox(row.Relations.Checkboxes, id) < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownCheckbox, relation.CheckboxID(owner, id))
		}
		want[id] = struct{}{}
	}
	for i := range row.Relations.Checkboxes {
		_, ok := want[row.Relations.Checkboxes[i].Value]
		row.Relations.Checkboxes[i].Checked = ok
	}
	return nil
}

// Toggle sets a single checkbox.
func (p *Panel) Toggle(owner, other int, checked bool) error {
	row := p.row(owner)
	if row == nil {
		return fmt.Errorf("%w: %d", ErrRowNotRendered, owner)
	}
	idx := indexOfBox(row.Relations.Checkboxes, other)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCheckbox, relation.CheckboxID(owner, other))
	}
	row.Relations.Checkboxes[idx].Checked = checked
	return nil
}

func (p *Panel) row(owner int) *Row {
	for i := range p.rows {
		if p.rows[i].AnnotationID == owner {
			return &p.rows[i]
		}
	}
	return nil
}

func indexOfBox(boxes []relation.Checkbox, value int) int {
	for i, box := range boxes {
		if box.Value == value {
			return i
		}
	}
	return -1
}
