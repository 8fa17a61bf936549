// Package workspace is the editing session: it owns one annotation store, the
// document the annotations are drawn into, the side panel and the active text
// selection, and keeps them in step.
package workspace

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/relation"
)

var (
	ErrNoDocument     = errors.New("no annotatable document loaded")
	ErrNoSelection    = errors.New("no active selection")
	ErrMarkerMismatch = errors.New("document markers do not match annotations")
)

// Document is the renderer plus the read access the session needs.
type Document interface {
	highlight.Renderer
	TextIn(r highlight.Range) (string, error)
	HTML() (string, error)
	MarkerIDs() []int
}

// Selection is the range the user last highlighted, with its trimmed text.
type Selection struct {
	Range highlight.Range `json:"range"`
	Text  string          `json:"text"`
}

// Snapshot is what gets persisted on save.
type Snapshot struct {
	HTML        string
	Annotations []annotation.Annotation
}

// State is the full view of the session returned to the client.
type State struct {
	HasDocument bool                    `json:"hasDocument"`
	HTML        string                  `json:"html"`
	Annotations []annotation.Annotation `json:"annotations"`
	Panel       []highlight.Row         `json:"panel"`
	Selection   *Selection              `json:"selection"`
}

// Session serialises every operation on a mutex so each store mutation and
// its marker change happen together.
type Session struct {
	mu        sync.Mutex
	store     *annotation.Store
	panel     *highlight.Panel
	editor    *relation.Editor
	doc       Document
	selection *Selection
}

func New(tags annotation.Taxonomy) *Session {
	store := annotation.NewStore(tags)
	panel := highlight.NewPanel()
	return &Session{
		store:  store,
		panel:  panel,
		editor: relation.NewEditor(store, panel),
	}
}

// Select records r as the active selection.
func (s *Session) Select(r highlight.Range) (Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(r)
}

func (s *Session) selectLocked(r highlight.Range) (Selection, error) {
	if s.doc == nil {
		return Selection{}, ErrNoDocument
	}
	text, err := s.doc.TextIn(r)
	if err != nil {
		return Selection{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Selection{}, annotation.ErrEmptySelection
	}
	sel := Selection{Range: r, Text: text}
	s.selection = &sel
	return sel, nil
}

// CreateAnnotation tags the active selection. The store entry is rolled back
// if the marker cannot be drawn.
func (s *Session) CreateAnnotation(tag string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(tag)
}

// Annotate selects r and tags it in one step.
func (s *Session) Annotate(r highlight.Range, tag string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.selectLocked(r); err != nil {
		return annotation.Annotation{}, err
	}
	return s.createLocked(tag)
}

func (s *Session) createLocked(tag string) (annotation.Annotation, error) {
	if s.doc == nil {
		return annotation.Annotation{}, ErrNoDocument
	}
	if s.selection == nil {
		return annotation.Annotation{}, ErrNoSelection
	}
	item, err := s.store.Create(s.selection.Text, tag)
	if err != nil {
		return annotation.Annotation{}, err
	}
	if err := s.doc.Wrap(s.selection.Range, highlight.Marker{AnnotationID: item.ID, Tag: item.Tag}); err != nil {
		if _, rollbackErr := s.store.Remove(item.ID); rollbackErr != nil {
			return annotation.Annotation{}, errors.Join(err, rollbackErr)
		}
		return annotation.Annotation{}, fmt.Errorf("draw marker: %w", err)
	}
	s.selection = nil
	s.panel.Redraw(s.store.List())
	return item, nil
}

// RemoveAnnotation strips the marker of id, deletes it from the store and
// redraws the panel so no checkbox still offers it. If the marker cannot be
// stripped nothing changes.
func (s *Session) RemoveAnnotation(id int) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.store.Get(id); !ok {
		return annotation.Annotation{}, fmt.Errorf("%w: %d", annotation.ErrNotFound, id)
	}
	if s.doc != nil {
		if err := s.doc.Unwrap(id); err != nil {
			return annotation.Annotation{}, fmt.Errorf("remove marker %d: %w", id, err)
		}
	}
	removed, err := s.store.Remove(id)
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.panel.Redraw(s.store.List())
	return removed, nil
}

// SetCheckboxes updates the relation checkboxes of one rendered row. Nothing
// reaches the store until ApplyRelations.
func (s *Session) SetCheckboxes(owner int, checked []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel.SetChecked(owner, checked)
}

// ApplyRelations writes the checkbox state of every rendered row to the store.
func (s *Session) ApplyRelations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.editor.Save()
	s.panel.Redraw(s.store.List())
	return err
}

// Clear drops the document, annotations, panel and selection.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.panel.Reset()
	s.doc = nil
	s.selection = nil
}

// Load installs doc with the annotations persisted alongside it. The markers
// already embedded in doc must match records one to one; on any error the
// session is left as it was.
func (s *Session) Load(doc Document, records []annotation.Annotation) error {
	if doc == nil {
		return ErrNoDocument
	}
	if err := checkMarkers(doc.MarkerIDs(), records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.ReplaceAll(records); err != nil {
		return err
	}
	s.doc = doc
	s.selection = nil
	s.panel.Redraw(s.store.List())
	return nil
}

func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return Snapshot{}, ErrNoDocument
	}
	body, err := s.doc.HTML()
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{HTML: body, Annotations: s.store.List()}, nil
}

func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := State{
		HasDocument: s.doc != nil,
		Annotations: s.store.List(),
		Panel:       s.panel.Rows(),
	}
	if s.selection != nil {
		sel := *s.selection
		state.Selection = &sel
	}
	if s.doc != nil {
		body, err := s.doc.HTML()
		if err != nil {
			return State{}, err
		}
		state.HTML = body
	}
	return state, nil
}

func (s *Session) Annotations() []annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.List()
}

func (s *Session) HasDocument() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc != nil
}

func checkMarkers(markers []int, records []annotation.Annotation) error {
	got := append([]int(nil), markers...)
	want := make([]int, len(records))
	for i, record := range records {
		want[i] = record.ID
	}
	sort.Ints(got)
	sort.Ints(want)
	if len(got) != len(want) {
		return fmt.Errorf("%w: %d markers for %d annotations", ErrMarkerMismatch, len(got), len(want))
	}
	for i := range got {
		if got[i] != want[i] {
			return fmt.Errorf("%w: marker %d vs annotation %d", ErrMarkerMismatch, got[i], want[i])
		}
	}
	return nil
}
