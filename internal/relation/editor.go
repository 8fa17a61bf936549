// Package relation builds the per-annotation relation checkboxes and writes
// their state back to the annotation store.
package relation

import (
	"errors"
	"fmt"
	"strconv"

	"attackflow/api/internal/annotation"
)

// Checkbox is one "relates to" toggle inside an annotation's row.
type Checkbox struct {
	ElementID string `json:"elementId"`
	Value     int    `json:"value"`
	Label     string `json:"label"`
	Checked   bool   `json:"checked"`
}

// Section is the checkbox group rendered under one annotation.
type Section struct {
	OwnerID    int        `json:"ownerId"`
	Checkboxes []Checkbox `json:"checkboxes"`
}

// BuildSection offers one checkbox per other annotation in all, pre-checked
// when owner already relates to it.
func BuildSection(owner annotation.Annotation, all []annotation.Annotation) Section {
	related := make(map[int]struct{}, len(owner.RelatedIDs))
	for _, id := range owner.RelatedIDs {
		related[id] = struct{}{}
	}

	section := Section{OwnerID: owner.ID, Checkboxes: make([]Checkbox, 0, len(all))}
	for _, other := range all {
		if other.ID == owner.ID {
			continue
		}
		_, checked := related[other.ID]
		section.Checkboxes = append(section.Checkboxes, Checkbox{
			ElementID: CheckboxID(owner.ID, other.ID),
			Value:     other.ID,
			Label:     strconv.Itoa(other.ID),
			Checked:   checked,
		})
	}
	return section
}

func CheckboxID(owner, other int) string {
	return fmt.Sprintf("relation-%d-%d", owner, other)
}

// Checked returns the values of the checked boxes in display order.
func (s Section) Checked() []int {
	ids := make([]int, 0, len(s.Checkboxes))
	for _, box := range s.Checkboxes {
		if box.Checked {
			ids = append(ids, box.Value)
		}
	}
	return ids
}

// View exposes the sections currently on screen.
type View interface {
	Sections() []Section
}

// RelationSetter is the store write used on save.
type RelationSetter interface {
	SetRelations(id int, related []int) (annotation.Annotation, error)
}

type Editor struct {
	store RelationSetter
	view  View
}

func NewEditor(store RelationSetter, view View) *Editor {
	return &Editor{store: store, view: view}
}

// Save replaces the relation set of every rendered annotation with its checked
// boxes. Annotations without a rendered section keep their relations.
func (e *Editor) Save() error {
	var errs []error
	for _, section := range e.view.Sections() {
		_, err := e.store.SetRelations(section.OwnerID, section.Checked())
		if errors.Is(err, annotation.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("save relations for %d: %w", section.OwnerID, err))
		}
	}
	return errors.Join(errs...)
}
