// Package annotation keeps the ordered list of annotations for one editing
// session together with the id counter that numbers them.
package annotation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownTag     = errors.New("unknown tag")
	ErrCodeMismatch   = errors.New("tag and code do not match")
	ErrEmptySelection = errors.New("selected text is empty")
	ErrNotFound       = errors.New("annotation not found")
	ErrSelfRelation   = errors.New("annotation cannot relate to itself")
	ErrDuplicateID    = errors.New("duplicate annotation id")
	ErrInvalidID      = errors.New("annotation id must be non-negative")
)

// Annotation is the record exchanged with persistence. Field names are part
// of the stored format.
type Annotation struct {
	ID           int    `json:"annotation_id"`
	SelectedText string `json:"selected_text"`
	Tag          string `json:"tag"`
	Code         string `json:"code"`
	RelatedIDs   []int  `json:"related_annotation_ids"`
}

func (a Annotation) clone() Annotation {
	related := make([]int, len(a.RelatedIDs))
	copy(related, a.RelatedIDs)
	a.RelatedIDs = related
	return a
}

// Taxonomy resolves tag labels to codes.
type Taxonomy interface {
	Code(label string) (string, bool)
}

// Store is not safe for concurrent use; callers serialise access.
type Store struct {
	tags  Taxonomy
	items []Annotation
	next  int
}

func NewStore(tags Taxonomy) *Store {
	return &Store{tags: tags}
}

// Create appends an annotation for selectedText under tag and returns it.
// Ids are handed out from a counter that only moves forward until Clear or
// ReplaceAll.
func (s *Store) Create(selectedText, tag string) (Annotation, error) {
	code, ok := s.tags.Code(tag)
	if !ok {
		return Annotation{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	if strings.TrimSpace(selectedText) == "" {
		return Annotation{}, ErrEmptySelection
	}

	item := Annotation{
		ID:           s.next,
		SelectedText: selectedText,
		Tag:          tag,
		Code:         code,
		RelatedIDs:   []int{},
	}
	s.next++
	s.items = append(s.items, item)
	return item.clone(), nil
}

// Remove deletes id and drops it from every other annotation's relations.
func (s *Store) Remove(id int) (Annotation, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Annotation{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	removed := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	for i := range s.items {
		s.items[i].RelatedIDs = without(s.items[i].RelatedIDs, id)
	}
	return removed.clone(), nil
}

// SetRelations replaces the relation set of id. Duplicates collapse and ids
// that are not live are dropped; a self reference leaves the store unchanged.
func (s *Store) SetRelations(id int, related []int) (Annotation, error) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Annotation{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	for _, other := range related {
		if other == id {
			return Annotation{}, fmt.Errorf("%w: %d", ErrSelfRelation, id)
		}
	}
	s.items[idx].RelatedIDs = s.normalizeRelations(id, related)
	return s.items[idx].clone(), nil
}

// ReplaceAll swaps the whole collection for records, as done when a saved
// version is loaded. The counter resumes at the highest id plus one. Any
// structural problem rejects the load and leaves the store as it was.
func (s *Store) ReplaceAll(records []Annotation) error {
	items := make([]Annotation, 0, len(records))
	seen := make(map[int]struct{}, len(records))
	next := 0
	for _, record := range records {
		if record.ID < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidID, record.ID)
		}
		if _, dup := seen[record.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateID, record.ID)
		}
		code, ok := s.tags.Code(record.Tag)
		if !ok {
			return fmt.Errorf("annotation %d: %w: %q", record.ID, ErrUnknownTag, record.Tag)
		}
		if record.Code != code {
			return fmt.Errorf("annotation %d: %w: %s/%s", record.ID, ErrCodeMismatch, record.Tag, record.Code)
		}
		if strings.TrimSpace(record.SelectedText) == "" {
			return fmt.Errorf("annotation %d: %w", record.ID, ErrEmptySelection)
		}
		seen[record.ID] = struct{}{}
		items = append(items, record.clone())
		if record.ID >= next {
			next = record.ID + 1
		}
	}

	s.items = items
	s.next = next
	for i := range s.items {
		s.items[i].RelatedIDs = s.normalizeRelations(s.items[i].ID, s.items[i].RelatedIDs)
	}
	return nil
}

// Clear empties the store and restarts numbering at zero.
func (s *Store) Clear() {
	s.items = nil
	s.next = 0
}

// List returns copies of all annotations in creation (or load) order.
func (s *Store) List() []Annotation {
	out := make([]Annotation, len(s.items))
	for i, item := range s.items {
		out[i] = item.clone()
	}
	return out
}

func (s *Store) Get(id int) (Annotation, bool) {
	idx := s.indexOf(id)
	if idx < 0 {
		return Annotation{}, false
	}
	return s.items[idx].clone(), true
}

func (s *Store) Len() int {
	return len(s.items)
}

// NextID is the id the next Create will assign.
func (s *Store) NextID() int {
	return s.next
}

func (s *Store) indexOf(id int) int {
	for i, item := range s.items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) normalizeRelations(owner int, related []int) []int {
	out := make([]int, 0, len(related))
	seen := make(map[int]struct{}, len(related))
	for _, other := range related {
		if other == owner {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		if s.indexOf(other) < 0 {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

func without(ids []int, id int) []int {
	out := ids[:0]
	for _, candidate := range ids {
		if candidate != id {
			out = append(out, candidate)
		}
	}
	return out
}
