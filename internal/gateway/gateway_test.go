package gateway

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/taxonomy"
	"attackflow/api/internal/workspace"
)

type fakePersistence struct {
	loadVersionFn func(context.Context, string) (Record, error)
	saveVersionFn func(context.Context, Target, SaveRequest) (SaveResult, error)
}

func (f *fakePersistence) LoadVersion(ctx context.Context, fileID string) (Record, error) {
	if f.loadVersionFn != nil {
		return f.loadVersionFn(ctx, fileID)
	}
	return Record{}, errors.New("not found")
}

func (f *fakePersistence) SaveVersion(ctx context.Context, target Target, req SaveRequest) (SaveResult, error) {
	if f.saveVersionFn != nil {
		return f.saveVersionFn(ctx, target, req)
	}
	return SaveResult{Success: true, ProjectID: target.ProjectID}, nil
}

const storedHTML = `<p>The actor used <span class="highlighted-text" data-tag="Execution" data-annotation-id="1">powershell</span> to stage files.</p>`

func storedRecord() Record {
	return Record{
		FileType: FileHTML,
		Content:  storedHTML,
		Annotations: []annotation.Annotation{
			{ID: 1, SelectedText: "powershell", Tag: "Execution", Code: "TA0002", RelatedIDs: []int{}},
		},
	}
}

func TestLoadThenSaveSubmitsSameState(t *testing.T) {
	var submitted SaveRequest
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return storedRecord(), nil },
		saveVersionFn: func(_ context.Context, target Target, req SaveRequest) (SaveResult, error) {
			submitted = req
			return SaveResult{Success: true, ProjectID: target.ProjectID}, nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())

	if _, err := g.Load(context.Background(), session, "ver_1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	result, err := g.Save(context.Background(), session, Target{ProjectID: "prj_1", Filename: "report.html"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !result.Success || result.ProjectID != "prj_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if submitted.UpdatedHTML != storedHTML {
		t.Fatalf("html changed by round trip:\n%s\n%s", submitted.UpdatedHTML, storedHTML)
	}
	if !reflect.DeepEqual(submitted.Annotations, storedRecord().Annotations) {
		t.Fatalf("annotations changed by round trip: %+v", submitted.Annotations)
	}
}

func TestLoadedAnnotationsRenderWithoutDuplicatingMarkers(t *testing.T) {
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return storedRecord(), nil },
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())

	if _, err := g.Load(context.Background(), session, "ver_1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	state, err := session.State()
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if len(state.Panel) != 1 || state.Panel[0].AnnotationID != 1 {
		t.Fatalf("panel not redrawn from loaded list: %+v", state.Panel)
	}
	doc, err := highlight.Parse(state.HTML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := doc.MarkerIDs(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("markers after load = %v", got)
	}
}

func TestLoadNonHTMLClearsSession(t *testing.T) {
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) {
			return Record{FileType: FilePDF, URL: "/api/files/ver_2"}, nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())
	doc, _ := highlight.Parse("<p>abc</p>")
	if err := session.Load(doc, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	record, err := g.Load(context.Background(), session, "ver_2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if record.URL != "/api/files/ver_2" {
		t.Fatalf("unexpected url %q", record.URL)
	}
	if session.HasDocument() {
		t.Fatal("expected session cleared for pdf version")
	}
}

func TestLoadUnsupportedType(t *testing.T) {
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return Record{FileType: "xlsx"}, nil },
	}
	_, err := New(persistence).Load(context.Background(), workspace.New(taxonomy.Default()), "x")
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestFailedSaveLeavesSessionUntouched(t *testing.T) {
	transport := errors.New("connection reset")
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return storedRecord(), nil },
		saveVersionFn: func(context.Context, Target, SaveRequest) (SaveResult, error) {
			return SaveResult{}, transport
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())
	if _, err := g.Load(context.Background(), session, "ver_1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := session.Annotations()

	if _, err := g.Save(context.Background(), session, Target{ProjectID: "prj_1"}); !errors.Is(err, transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !reflect.DeepEqual(session.Annotations(), before) {
		t.Fatal("session changed by failed save")
	}
}

func TestSaveRejectedResult(t *testing.T) {
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return storedRecord(), nil },
		saveVersionFn: func(context.Context, Target, SaveRequest) (SaveResult, error) {
			return SaveResult{Success: false}, nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())
	if _, err := g.Load(context.Background(), session, "ver_1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := g.Save(context.Background(), session, Target{}); !errors.Is(err, ErrSaveRejected) {
		t.Fatalf("expected ErrSaveRejected, got %v", err)
	}
}

func TestSaveWithoutDocument(t *testing.T) {
	_, err := New(&fakePersistence{}).Save(context.Background(), workspace.New(taxonomy.Default()), Target{})
	if !errors.Is(err, workspace.ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}

func TestSecondLoadWhileInFlightIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) {
			close(entered)
			<-release
			return storedRecord(), nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())

	done := make(chan error, 1)
	go func() {
		_, err := g.Load(context.Background(), session, "ver_1")
		done <- err
	}()
	<-entered

	if _, err := g.Load(context.Background(), session, "ver_1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Load() error = %v", err)
	}
}

func TestSecondSaveWhileInFlightIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var writes atomic.Int32
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) { return storedRecord(), nil },
		saveVersionFn: func(_ context.Context, target Target, _ SaveRequest) (SaveResult, error) {
			if writes.Add(1) == 1 {
				close(entered)
				<-release
			}
			return SaveResult{Success: true, ProjectID: target.ProjectID}, nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())
	if _, err := g.Load(context.Background(), session, "ver_1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	target := Target{ProjectID: "prj_1", Filename: "report.html"}

	done := make(chan error, 1)
	go func() {
		_, err := g.Save(context.Background(), session, target)
		done <- err
	}()
	<-entered

	if _, err := g.Save(context.Background(), session, target); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if got := writes.Load(); got != 1 {
		t.Fatalf("persistence writes = %d, want 1", got)
	}

	if _, err := g.Save(context.Background(), session, target); err != nil {
		t.Fatalf("Save() after release error = %v", err)
	}
}

func TestLoadDocumentInstallsRenderedBody(t *testing.T) {
	g := New(&fakePersistence{})
	session := workspace.New(taxonomy.Default())

	err := g.LoadDocument(context.Background(), session, func(context.Context) (string, error) {
		return "<p>converted upload</p>", nil
	})
	if err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	if !session.HasDocument() || len(session.Annotations()) != 0 {
		t.Fatal("expected an empty annotatable document")
	}

	err = g.LoadDocument(context.Background(), session, func(context.Context) (string, error) {
		return "  ", nil
	})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestLoadDuringLoadDocumentIsRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	loads := 0
	g := New(&fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) {
			loads++
			return storedRecord(), nil
		},
	})
	session := workspace.New(taxonomy.Default())

	done := make(chan error, 1)
	go func() {
		done <- g.LoadDocument(context.Background(), session, func(context.Context) (string, error) {
			close(entered)
			<-release
			return "<p>converted upload</p>", nil
		})
	}()
	<-entered

	if _, err := g.Load(context.Background(), session, "ver_1"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("LoadDocument() error = %v", err)
	}
	if loads != 0 {
		t.Fatalf("rejected load reached persistence %d times", loads)
	}
}

func TestBadLoadKeepsPreviousSession(t *testing.T) {
	persistence := &fakePersistence{
		loadVersionFn: func(context.Context, string) (Record, error) {
			record := storedRecord()
			record.Annotations[0].Tag = "Unknown"
			return record, nil
		},
	}
	g := New(persistence)
	session := workspace.New(taxonomy.Default())
	doc, _ := highlight.Parse("<p>keep me</p>")
	if err := session.Load(doc, nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := session.Annotate(highlight.Range{Start: 0, End: 4}, "Impact"); err != nil {
		t.Fatalf("Annotate() error = %v", err)
	}

	if _, err := g.Load(context.Background(), session, "ver_1"); !errors.Is(err, annotation.ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if got := session.Annotations(); len(got) != 1 || got[0].SelectedText != "keep" {
		t.Fatalf("session replaced by failed load: %+v", got)
	}
}
