package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/attackflow"
	"attackflow/api/internal/blob"
	"attackflow/api/internal/config"
	"attackflow/api/internal/convert"
	"attackflow/api/internal/export"
	"attackflow/api/internal/gateway"
	"attackflow/api/internal/gitrepo"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/search"
	"attackflow/api/internal/session"
	"attackflow/api/internal/store"
	"attackflow/api/internal/taxonomy"
	"attackflow/api/internal/util"
	"attackflow/api/internal/workspace"
)

// Saved versions are committed under this author; there are no user accounts.
const commitAuthor = "Annotator"

type dataStore interface {
	InsertProject(context.Context, store.Project) error
	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	DeleteProject(context.Context, string) ([]store.Version, error)
	InsertVersion(context.Context, store.Version) error
	ListVersions(context.Context, string) ([]store.Version, error)
	GetVersion(context.Context, string) (store.Version, error)
	DeleteVersion(context.Context, string) error
	ReplaceVersionAnnotations(context.Context, string, []store.AnnotationRow) error
	ListVersionAnnotations(context.Context, string) ([]store.AnnotationRow, error)
	ClearAll(context.Context) error
	Ping(ctx context.Context) error
}

type gitService interface {
	CommitVersion(string, gitrepo.Snapshot, string, string) (store.CommitInfo, error)
	ReadVersion(string, string) (gitrepo.Snapshot, error)
	History(string, int) ([]store.CommitInfo, error)
	DeleteRepo(string) error
	Reset() error
}

type sessionStore interface {
	Save(context.Context, string, session.Info) error
	Lookup(context.Context, string) (session.Info, error)
	Delete(context.Context, string) error
	Ping(context.Context) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexVersion([]search.Record)
	DeleteRecords([]string)
	Reset()
}

type documentExporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type htmlConverter interface {
	ToHTML(ctx context.Context, fileType string, data []byte) (string, error)
}

// Dependencies are the collaborators a Service is built from. Search,
// Exporter and Converter may be nil; the matching endpoints then report
// the feature as unavailable.
type Dependencies struct {
	Store     *store.PostgresStore
	Git       *gitrepo.Service
	Blobs     blob.Store
	Sessions  sessionStore
	Search    *search.Service
	Exporter  *export.Service
	Converter *convert.Converter
	Flows     *attackflow.Builder
	Tags      *taxonomy.Registry
}

// workspaceRecord is the live editing state of one session.
type workspaceRecord struct {
	session   *workspace.Session
	gateway   *gateway.Gateway
	expiresAt time.Time
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	blobs     blob.Store
	sessions  sessionStore
	search    searchService
	exporter  documentExporter
	converter htmlConverter
	flows     *attackflow.Builder
	tags      *taxonomy.Registry

	workspaceTTL time.Duration
	workspaceMu  sync.Mutex
	workspaces   map[string]*workspaceRecord
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:          cfg,
		store:        deps.Store,
		git:          deps.Git,
		blobs:        deps.Blobs,
		sessions:     deps.Sessions,
		flows:        deps.Flows,
		tags:         deps.Tags,
		workspaceTTL: cfg.SessionTTL,
		workspaces:   make(map[string]*workspaceRecord),
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	if deps.Exporter != nil {
		s.exporter = deps.Exporter
	}
	if deps.Converter != nil {
		s.converter = deps.Converter
	}
	if s.flows == nil {
		s.flows = attackflow.NewBuilder()
	}
	if s.tags == nil {
		s.tags = taxonomy.Default()
	}
	if s.workspaceTTL <= 0 {
		s.workspaceTTL = 12 * time.Hour
	}
	return s
}

// Ping verifies the database connection is alive
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions reports whether the session store is reachable.
func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

func (s *Service) Taxonomy() []taxonomy.Tactic {
	return s.tags.Entries()
}

func (s *Service) CreateSession(ctx context.Context) (string, error) {
	sessionID := util.NewID("ses")
	if err := s.sessions.Save(ctx, sessionID, session.Info{UpdatedAt: time.Now().UTC()}); err != nil {
		return "", err
	}
	s.workspaceFor(sessionID)
	return sessionID, nil
}

func (s *Service) SessionInfo(ctx context.Context, sessionID string) (session.Info, error) {
	return s.sessions.Lookup(ctx, sessionID)
}

// ClearSession empties the workspace and forgets the file it was showing.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.sessions.Lookup(ctx, sessionID); err != nil {
		return err
	}
	s.workspaceFor(sessionID).session.Clear()
	return s.sessions.Save(ctx, sessionID, session.Info{UpdatedAt: time.Now().UTC()})
}

func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	s.workspaceMu.Lock()
	delete(s.workspaces, sessionID)
	s.workspaceMu.Unlock()
	return s.sessions.Delete(ctx, sessionID)
}

func (s *Service) updateSessionInfo(ctx context.Context, sessionID string, update func(*session.Info)) (session.Info, error) {
	info, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return session.Info{}, err
	}
	update(&info)
	info.UpdatedAt = time.Now().UTC()
	if err := s.sessions.Save(ctx, sessionID, info); err != nil {
		return session.Info{}, err
	}
	return info, nil
}

// workspaceFor returns the session's workspace, creating an empty one when the
// process has none (first use, expiry, or a restart with the session still in Redis).
func (s *Service) workspaceFor(sessionID string) *workspaceRecord {
	s.workspaceMu.Lock()
	defer s.workspaceMu.Unlock()

	now := time.Now()
	for key, record := range s.workspaces {
		if now.After(record.expiresAt) {
			delete(s.workspaces, key)
		}
	}
	record, ok := s.workspaces[sessionID]
	if !ok {
		record = &workspaceRecord{session: workspace.New(s.tags)}
		record.gateway = gateway.New(s)
		s.workspaces[sessionID] = record
	}
	record.expiresAt = now.Add(s.workspaceTTL)
	return record
}

// Workspace resolves a live session id to its workspace.
func (s *Service) Workspace(ctx context.Context, sessionID string) (*workspace.Session, error) {
	if _, err := s.sessions.Lookup(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.workspaceFor(sessionID).session, nil
}

type UploadInput struct {
	ProjectName string
	Filename    string
	Data        []byte
}

type ProjectPayload struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	VersionCount int       `json:"versionCount"`
}

type VersionPayload struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"projectId"`
	Filename        string    `json:"filename"`
	FileType        string    `json:"filetype"`
	Storage         string    `json:"storage"`
	CommitHash      string    `json:"commitHash,omitempty"`
	ContentType     string    `json:"contentType"`
	SizeBytes       int64     `json:"sizeBytes"`
	PageCount       int       `json:"pageCount,omitempty"`
	AnnotationCount int       `json:"annotationCount"`
	URL             string    `json:"url"`
	CreatedAt       time.Time `json:"createdAt"`
}

func projectPayload(item store.Project) ProjectPayload {
	return ProjectPayload{
		ID:           item.ID,
		Name:         item.Name,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
		VersionCount: item.VersionCount,
	}
}

func versionPayload(item store.Version) VersionPayload {
	return VersionPayload{
		ID:              item.ID,
		ProjectID:       item.ProjectID,
		Filename:        item.Filename,
		FileType:        item.FileType,
		Storage:         item.Storage,
		CommitHash:      item.CommitHash,
		ContentType:     item.ContentType,
		SizeBytes:       item.SizeBytes,
		PageCount:       item.PageCount,
		AnnotationCount: item.AnnotationCount,
		URL:             fileURL(item.ID),
		CreatedAt:       item.CreatedAt,
	}
}

func fileURL(versionID string) string {
	return "/api/files/" + versionID
}

func blobKey(projectID, versionID, filename string) string {
	return projectID + "/" + versionID + "/" + filepath.Base(filename)
}

// CreateProject stores the uploaded file as the project's first version.
func (s *Service) CreateProject(ctx context.Context, input UploadInput) (ProjectPayload, VersionPayload, error) {
	name := strings.TrimSpace(input.ProjectName)
	if name == "" {
		return ProjectPayload{}, VersionPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectname is required", nil)
	}
	filename := filepath.Base(strings.TrimSpace(input.Filename))
	if filename == "" || filename == "." || len(input.Data) == 0 {
		return ProjectPayload{}, VersionPayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "initialfile is required", nil)
	}
	fileType := convert.FileType(filename)
	if fileType == "" {
		return ProjectPayload{}, VersionPayload{}, domainError(http.StatusUnprocessableEntity, "UNSUPPORTED_FILE_TYPE", "only .pdf, .docx and .html files are accepted", map[string]any{"filename": filename})
	}

	pageCount := 0
	if fileType == convert.TypePDF {
		info, err := convert.InspectPDF(input.Data)
		if err != nil {
			return ProjectPayload{}, VersionPayload{}, err
		}
		pageCount = info.Pages
	}

	project := store.Project{ID: util.NewID("prj"), Name: name}
	version := store.Version{
		ID:          util.NewID("ver"),
		ProjectID:   project.ID,
		Filename:    filename,
		FileType:    fileType,
		Storage:     store.StorageBlob,
		ContentType: convert.ContentType(fileType),
		SizeBytes:   int64(len(input.Data)),
		PageCount:   pageCount,
	}
	version.BlobKey = blobKey(project.ID, version.ID, filename)

	if _, err := s.blobs.Put(ctx, version.BlobKey, bytes.NewReader(input.Data), version.SizeBytes, blob.PutOptions{
		ContentType: version.ContentType,
		Metadata:    map[string]string{"project": project.ID, "version": version.ID},
	}); err != nil {
		return ProjectPayload{}, VersionPayload{}, fmt.Errorf("store upload: %w", err)
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		s.dropBlob(ctx, version.BlobKey)
		return ProjectPayload{}, VersionPayload{}, err
	}
	if err := s.store.InsertVersion(ctx, version); err != nil {
		s.dropBlob(ctx, version.BlobKey)
		return ProjectPayload{}, VersionPayload{}, err
	}

	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		return ProjectPayload{}, VersionPayload{}, err
	}
	created.VersionCount = 1
	stored, err := s.store.GetVersion(ctx, version.ID)
	if err != nil {
		return ProjectPayload{}, VersionPayload{}, err
	}
	return projectPayload(created), versionPayload(stored), nil
}

func (s *Service) ListProjects(ctx context.Context) ([]ProjectPayload, error) {
	items, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectPayload, 0, len(items))
	for _, item := range items {
		out = append(out, projectPayload(item))
	}
	return out, nil
}

// DeleteProject removes the project with every version, its uploaded files,
// its repository and its search records.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return err
	}
	versions, err := s.store.ListVersions(ctx, projectID)
	if err != nil {
		return err
	}
	recordIDs := make([]string, 0)
	for _, version := range versions {
		ids, err := s.searchRecordIDs(ctx, version.ID)
		if err != nil {
			return err
		}
		recordIDs = append(recordIDs, ids...)
	}

	removed, err := s.store.DeleteProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, version := range removed {
		if version.Storage == store.StorageBlob {
			s.dropBlob(ctx, version.BlobKey)
		}
	}
	if err := s.git.DeleteRepo(projectID); err != nil {
		log.Printf("app: delete repo for project %s: %v", projectID, err)
	}
	s.dropSearchRecords(recordIDs)
	return nil
}

// ListVersions lists a project's versions. When sessionID is set the project
// becomes the session's current project, which is where saves land.
func (s *Service) ListVersions(ctx context.Context, projectID, sessionID string) ([]VersionPayload, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := s.store.ListVersions(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		if _, err := s.updateSessionInfo(ctx, sessionID, func(info *session.Info) {
			if info.ProjectID != projectID {
				*info = session.Info{ProjectID: projectID}
			}
		}); err != nil {
			return nil, err
		}
	}
	out := make([]VersionPayload, 0, len(items))
	for _, item := range items {
		out = append(out, versionPayload(item))
	}
	return out, nil
}

func (s *Service) ProjectHistory(ctx context.Context, projectID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, err := s.git.History(projectID, limit)
	if errors.Is(err, gitrepo.ErrRepoNotFound) {
		return []store.CommitInfo{}, nil
	}
	return items, err
}

func (s *Service) DeleteVersion(ctx context.Context, versionID string) error {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	recordIDs, err := s.searchRecordIDs(ctx, versionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteVersion(ctx, versionID); err != nil {
		return err
	}
	if version.Storage == store.StorageBlob {
		s.dropBlob(ctx, version.BlobKey)
	}
	s.dropSearchRecords(recordIDs)
	return nil
}

// OpenFile streams a stored version. Saved versions are served as their HTML.
func (s *Service) OpenFile(ctx context.Context, versionID string) (store.Version, io.ReadCloser, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return store.Version{}, nil, err
	}
	switch version.Storage {
	case store.StorageGit:
		snapshot, err := s.git.ReadVersion(version.ProjectID, version.CommitHash)
		if err != nil {
			return store.Version{}, nil, err
		}
		return version, io.NopCloser(strings.NewReader(snapshot.HTML)), nil
	default:
		_, reader, err := s.blobs.Get(ctx, version.BlobKey)
		if err != nil {
			return store.Version{}, nil, err
		}
		return version, reader, nil
	}
}

func (s *Service) readBlob(ctx context.Context, key string) ([]byte, error) {
	_, reader, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *Service) dropBlob(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if _, err := s.blobs.Delete(ctx, key); err != nil {
		log.Printf("app: delete blob %s: %v", key, err)
	}
}

func (s *Service) searchRecordIDs(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.store.ListVersionAnnotations(ctx, versionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, search.RecordID(versionID, row.AnnotationID))
	}
	return ids, nil
}

func (s *Service) dropSearchRecords(ids []string) {
	if s.search != nil {
		s.search.DeleteRecords(ids)
	}
}

// LoadVersion returns a stored version in the form the gateway installs.
// PDF and DOCX uploads come back as a URL only; they become annotatable
// through Annotate.
func (s *Service) LoadVersion(ctx context.Context, fileID string) (gateway.Record, error) {
	version, err := s.store.GetVersion(ctx, fileID)
	if err != nil {
		return gateway.Record{}, err
	}
	record := gateway.Record{FileType: version.FileType, URL: fileURL(version.ID)}

	switch {
	case version.Storage == store.StorageGit:
		snapshot, err := s.git.ReadVersion(version.ProjectID, version.CommitHash)
		if err != nil {
			return gateway.Record{}, err
		}
		record.FileType = gateway.FileHTML
		record.Content = snapshot.HTML
		record.Annotations = snapshot.Annotations
	case version.FileType == convert.TypeHTML:
		content, err := s.convertUpload(ctx, version)
		if err != nil {
			return gateway.Record{}, err
		}
		record.Content = content
	}
	return record, nil
}

// SaveVersion commits the snapshot to the project's repository and records
// it as a new version.
func (s *Service) SaveVersion(ctx context.Context, target gateway.Target, req gateway.SaveRequest) (gateway.SaveResult, error) {
	if _, err := s.store.GetProject(ctx, target.ProjectID); err != nil {
		return gateway.SaveResult{}, err
	}
	commit, err := s.git.CommitVersion(target.ProjectID, gitrepo.Snapshot{
		HTML:        req.UpdatedHTML,
		Annotations: req.Annotations,
	}, commitAuthor, "Save "+target.Filename)
	if err != nil {
		return gateway.SaveResult{}, err
	}

	version := store.Version{
		ID:          util.NewID("ver"),
		ProjectID:   target.ProjectID,
		Filename:    target.Filename,
		FileType:    convert.TypeHTML,
		Storage:     store.StorageGit,
		CommitHash:  commit.Hash,
		ContentType: convert.ContentType(convert.TypeHTML),
		SizeBytes:   int64(len(req.UpdatedHTML)),
	}
	if err := s.store.InsertVersion(ctx, version); err != nil {
		return gateway.SaveResult{}, err
	}

	rows := make([]store.AnnotationRow, 0, len(req.Annotations))
	records := make([]search.Record, 0, len(req.Annotations))
	for _, item := range req.Annotations {
		rows = append(rows, store.AnnotationRow{
			AnnotationID: item.ID,
			SelectedText: item.SelectedText,
			Tag:          item.Tag,
			Code:         item.Code,
			RelatedIDs:   item.RelatedIDs,
		})
		records = append(records, search.Record{
			ID:           search.RecordID(version.ID, item.ID),
			VersionID:    version.ID,
			ProjectID:    target.ProjectID,
			AnnotationID: item.ID,
			SelectedText: item.SelectedText,
			Tag:          item.Tag,
			Code:         item.Code,
			Filename:     target.Filename,
		})
	}
	if err := s.store.ReplaceVersionAnnotations(ctx, version.ID, rows); err != nil {
		return gateway.SaveResult{}, err
	}
	if s.search != nil {
		s.search.IndexVersion(records)
	}
	return gateway.SaveResult{Success: true, ProjectID: target.ProjectID}, nil
}

func (s *Service) convertUpload(ctx context.Context, version store.Version) (string, error) {
	if s.converter == nil {
		return "", fmt.Errorf("%w: no converter configured", convert.ErrToolMissing)
	}
	data, err := s.readBlob(ctx, version.BlobKey)
	if err != nil {
		return "", err
	}
	return s.converter.ToHTML(ctx, version.FileType, data)
}

type LoadResult struct {
	Record  gateway.Record  `json:"record"`
	Session session.Info    `json:"session"`
	State   workspace.State `json:"workspace"`
}

// LoadIntoSession loads a version through the session's gateway and makes it
// the session's current file.
func (s *Service) LoadIntoSession(ctx context.Context, sessionID, versionID string) (LoadResult, error) {
	if _, err := s.sessions.Lookup(ctx, sessionID); err != nil {
		return LoadResult{}, err
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return LoadResult{}, err
	}
	ws := s.workspaceFor(sessionID)
	record, err := ws.gateway.Load(ctx, ws.session, versionID)
	if err != nil {
		return LoadResult{}, err
	}
	info, err := s.updateSessionInfo(ctx, sessionID, func(info *session.Info) {
		info.ProjectID = version.ProjectID
		info.FileID = version.ID
		info.Filename = version.Filename
		info.FileType = version.FileType
	})
	if err != nil {
		return LoadResult{}, err
	}
	state, err := ws.session.State()
	if err != nil {
		return LoadResult{}, err
	}
	return LoadResult{Record: record, Session: info, State: state}, nil
}

// Annotate turns the session's current file into an annotatable document.
// Saved versions are reloaded with their annotations; uploads are converted
// to HTML and start with none.
func (s *Service) Annotate(ctx context.Context, sessionID string) (workspace.State, error) {
	info, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return workspace.State{}, err
	}
	if info.FileID == "" {
		return workspace.State{}, domainError(http.StatusConflict, "NO_FILE", "Load a file before annotating", nil)
	}
	version, err := s.store.GetVersion(ctx, info.FileID)
	if err != nil {
		return workspace.State{}, err
	}

	ws := s.workspaceFor(sessionID)
	if version.Storage == store.StorageGit {
		if _, err := ws.gateway.Load(ctx, ws.session, version.ID); err != nil {
			return workspace.State{}, err
		}
		return ws.session.State()
	}

	err = ws.gateway.LoadDocument(ctx, ws.session, func(ctx context.Context) (string, error) {
		content, err := s.convertUpload(ctx, version)
		if err != nil {
			return "", err
		}
		current, err := s.sessions.Lookup(ctx, sessionID)
		if err != nil {
			return "", err
		}
		if current.FileID != version.ID {
			return "", domainError(http.StatusConflict, "FILE_CHANGED", "The session loaded another file while converting", nil)
		}
		return content, nil
	})
	if err != nil {
		return workspace.State{}, err
	}
	return ws.session.State()
}

type CreateAnnotationInput struct {
	Tag   string `json:"tag"`
	Start *int   `json:"start"`
	End   *int   `json:"end"`
}

// CreateAnnotation tags the given range, or the active selection when no
// range is sent.
func (s *Service) CreateAnnotation(ctx context.Context, sessionID string, input CreateAnnotationInput) (annotation.Annotation, error) {
	ws, err := s.Workspace(ctx, sessionID)
	if err != nil {
		return annotation.Annotation{}, err
	}
	if input.Start != nil && input.End != nil {
		return ws.Annotate(highlight.Range{Start: *input.Start, End: *input.End}, input.Tag)
	}
	if input.Start != nil || input.End != nil {
		return annotation.Annotation{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "start and end must be sent together", nil)
	}
	return ws.CreateAnnotation(input.Tag)
}

// Save applies pending relation edits and submits the session as a new
// version named after the current file.
func (s *Service) Save(ctx context.Context, sessionID string) (gateway.SaveResult, error) {
	info, err := s.sessions.Lookup(ctx, sessionID)
	if err != nil {
		return gateway.SaveResult{}, err
	}
	if info.ProjectID == "" {
		return gateway.SaveResult{}, domainError(http.StatusConflict, "NO_PROJECT", "Open a project before saving", nil)
	}
	ws := s.workspaceFor(sessionID)
	if err := ws.session.ApplyRelations(); err != nil {
		return gateway.SaveResult{}, err
	}
	return ws.gateway.Save(ctx, ws.session, gateway.Target{
		ProjectID: info.ProjectID,
		Filename:  savedFilename(info.Filename),
	})
}

func savedFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "document"
	}
	return base + ".html"
}

// versionContent returns the annotated HTML and annotations of a version.
func (s *Service) versionContent(ctx context.Context, version store.Version) (string, []annotation.Annotation, error) {
	if version.Storage == store.StorageGit {
		snapshot, err := s.git.ReadVersion(version.ProjectID, version.CommitHash)
		if err != nil {
			return "", nil, err
		}
		return snapshot.HTML, snapshot.Annotations, nil
	}
	if version.FileType != convert.TypeHTML {
		return "", nil, domainError(http.StatusUnprocessableEntity, "NOT_ANNOTATED", "Only HTML and saved versions can be exported", nil)
	}
	content, err := s.convertUpload(ctx, version)
	if err != nil {
		return "", nil, err
	}
	return content, []annotation.Annotation{}, nil
}

func (s *Service) ExportVersion(ctx context.Context, versionID string, format export.Format) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, version.ProjectID)
	if err != nil {
		return nil, err
	}
	content, items, err := s.versionContent(ctx, version)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		ProjectName: project.Name,
		Filename:    version.Filename,
		HTML:        content,
		Annotations: items,
		SavedAt:     version.CreatedAt,
		Format:      format,
	})
}

// AttackFlow builds the STIX bundle of a version from its indexed annotations.
func (s *Service) AttackFlow(ctx context.Context, versionID string) (attackflow.Bundle, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return attackflow.Bundle{}, err
	}
	project, err := s.store.GetProject(ctx, version.ProjectID)
	if err != nil {
		return attackflow.Bundle{}, err
	}
	rows, err := s.store.ListVersionAnnotations(ctx, versionID)
	if err != nil {
		return attackflow.Bundle{}, err
	}
	items := make([]annotation.Annotation, 0, len(rows))
	for _, row := range rows {
		items = append(items, annotation.Annotation{
			ID:           row.AnnotationID,
			SelectedText: row.SelectedText,
			Tag:          row.Tag,
			Code:         row.Code,
			RelatedIDs:   row.RelatedIDs,
		})
	}
	description := fmt.Sprintf("Attack flow of %s (%d annotations)", version.Filename, len(items))
	return s.flows.Build(project.Name, description, items), nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return s.search.Search(ctx, q)
}

// ClearDatabase wipes every project with its files, repositories, search
// records and live workspaces.
func (s *Service) ClearDatabase(ctx context.Context) error {
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}
	blobs, err := s.blobs.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list blobs: %w", err)
	}
	for _, item := range blobs {
		s.dropBlob(ctx, item.Key)
	}
	if err := s.git.Reset(); err != nil {
		return err
	}
	if s.search != nil {
		s.search.Reset()
	}

	s.workspaceMu.Lock()
	for _, record := range s.workspaces {
		record.session.Clear()
	}
	s.workspaceMu.Unlock()
	return nil
}
