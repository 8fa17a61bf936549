// Package gateway moves an editing session to and from persistence: loading
// a saved version or a converted upload into the session and submitting the
// session as a new version.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/workspace"
)

const (
	FileHTML = "html"
	FilePDF  = "pdf"
	FileDOCX = "docx"
)

var (
	ErrBusy            = errors.New("another request for this session is in flight")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrEmptyDocument   = errors.New("document is empty")
	ErrSaveRejected    = errors.New("save was not accepted")
)

// Record is a stored version as returned by persistence. HTML versions carry
// their body and annotations; PDF and DOCX versions only a URL to view them.
type Record struct {
	FileType    string                  `json:"filetype"`
	URL         string                  `json:"url,omitempty"`
	Content     string                  `json:"content,omitempty"`
	Annotations []annotation.Annotation `json:"annotations,omitempty"`
}

type SaveRequest struct {
	UpdatedHTML string                  `json:"updatedHtml"`
	Annotations []annotation.Annotation `json:"annotations"`
}

type SaveResult struct {
	Success   bool   `json:"success"`
	ProjectID string `json:"project_id,omitempty"`
}

// Target names where a save lands.
type Target struct {
	ProjectID string
	Filename  string
}

type Persistence interface {
	LoadVersion(ctx context.Context, fileID string) (Record, error)
	SaveVersion(ctx context.Context, target Target, req SaveRequest) (SaveResult, error)
}

// Render produces the HTML body of a document that has no saved version yet,
// such as a converted upload.
type Render func(ctx context.Context) (string, error)

// Gateway guards one session: at most one load and one save run at a time.
type Gateway struct {
	persistence Persistence
	loading     atomic.Bool
	saving      atomic.Bool
}

func New(persistence Persistence) *Gateway {
	return &Gateway{persistence: persistence}
}

// Load fetches fileID and installs it into session. An HTML version replaces
// the session's document and annotations; other types clear the session and
// only their URL is returned.
func (g *Gateway) Load(ctx context.Context, session *workspace.Session, fileID string) (Record, error) {
	if !g.loading.CompareAndSwap(false, true) {
		return Record{}, ErrBusy
	}
	defer g.loading.Store(false)

	record, err := g.persistence.LoadVersion(ctx, fileID)
	if err != nil {
		return Record{}, fmt.Errorf("load version %s: %w", fileID, err)
	}

	switch strings.ToLower(record.FileType) {
	case FileHTML:
		doc, err := highlight.Parse(record.Content)
		if err != nil {
			return Record{}, err
		}
		if err := session.Load(doc, record.Annotations); err != nil {
			return Record{}, fmt.Errorf("install version %s: %w", fileID, err)
		}
		if record.Annotations == nil {
			record.Annotations = []annotation.Annotation{}
		}
	case FilePDF, FileDOCX:
		session.Clear()
	default:
		return Record{}, fmt.Errorf("%w: %q", ErrUnsupportedType, record.FileType)
	}
	return record, nil
}

// LoadDocument installs the body produced by render as a fresh document with
// no annotations. It shares the load guard, so render runs while any other
// load for the session is refused.
func (g *Gateway) LoadDocument(ctx context.Context, session *workspace.Session, render Render) error {
	if !g.loading.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer g.loading.Store(false)

	body, err := render(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return ErrEmptyDocument
	}
	doc, err := highlight.Parse(body)
	if err != nil {
		return err
	}
	return session.Load(doc, nil)
}

// Save submits the session's markup and annotations in one write. The session
// itself is never modified, so a failed save leaves it as it was.
func (g *Gateway) Save(ctx context.Context, session *workspace.Session, target Target) (SaveResult, error) {
	if !g.saving.CompareAndSwap(false, true) {
		return SaveResult{}, ErrBusy
	}
	defer g.saving.Store(false)

	snapshot, err := session.Snapshot()
	if err != nil {
		return SaveResult{}, err
	}
	if strings.TrimSpace(snapshot.HTML) == "" {
		return SaveResult{}, ErrEmptyDocument
	}

	result, err := g.persistence.SaveVersion(ctx, target, SaveRequest{
		UpdatedHTML: snapshot.HTML,
		Annotations: snapshot.Annotations,
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save version: %w", err)
	}
	if !result.Success {
		return result, ErrSaveRejected
	}
	return result, nil
}
