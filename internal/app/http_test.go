package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doJSON(t *testing.T, handler http.Handler, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func uploadRequest(t *testing.T, projectName, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if projectName != "" {
		if err := writer.WriteField("projectname", projectName); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("initialfile", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/projects", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	server := NewHTTPServer(svc, "*")

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	decodeJSON(t, rr, &response)
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, sessionHeader) {
		t.Errorf("CORS headers should allow %s, got %q", sessionHeader, got)
	}
}

func TestReadyEndpoint_Success(t *testing.T) {
	svc, _ := newTestService(t)
	server := NewHTTPServer(svc, "*")

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var response map[string]any
	decodeJSON(t, rr, &response)
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
}

func TestReadyEndpoint_DatabaseDown(t *testing.T) {
	svc, deps := newTestService(t)
	deps.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	server := NewHTTPServer(svc, "*")

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response struct {
		OK     bool                      `json:"ok"`
		Checks map[string]map[string]any `json:"checks"`
	}
	decodeJSON(t, rr, &response)
	if response.OK {
		t.Error("expected ok=false")
	}
	if response.Checks["database"]["error"] != "connection refused" {
		t.Errorf("unexpected database check: %v", response.Checks["database"])
	}
	if response.Checks["sessions"]["status"] != "ok" {
		t.Errorf("unexpected sessions check: %v", response.Checks["sessions"])
	}
}

func TestTaxonomyEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	server := NewHTTPServer(svc, "*")

	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/taxonomy", "", nil)
	var response struct {
		Tags [][2]string `json:"tags"`
	}
	decodeJSON(t, rr, &response)
	if len(response.Tags) != 14 {
		t.Fatalf("expected 14 tactics, got %d", len(response.Tags))
	}
	if response.Tags[3] != [2]string{"Execution", "TA0002"} {
		t.Fatalf("unexpected entry: %v", response.Tags[3])
	}
}

func TestWorkspaceRequiresSession(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/workspace", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without session header, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/workspace", "ses_unknown", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rr.Code)
	}
	var response map[string]any
	decodeJSON(t, rr, &response)
	if response["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("unexpected error body: %v", response)
	}
}

func TestAnnotationWorkflowOverHTTP(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/session", "", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", rr.Code, rr.Body.String())
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	decodeJSON(t, rr, &created)
	sessionID := created.SessionID

	upload := httptest.NewRecorder()
	handler.ServeHTTP(upload, uploadRequest(t, "APT report", "report.html", reportHTML))
	if upload.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", upload.Code, upload.Body.String())
	}
	var uploaded struct {
		Project ProjectPayload `json:"project"`
		Version VersionPayload `json:"version"`
	}
	decodeJSON(t, upload, &uploaded)

	rr = doJSON(t, handler, http.MethodPost, "/api/versions/"+uploaded.Version.ID+"/load", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("load: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/workspace/selection", sessionID, map[string]int{"start": 15, "end": 25})
	if rr.Code != http.StatusOK {
		t.Fatalf("selection: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/workspace/annotations", sessionID, map[string]any{"tag": "Execution"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("annotate selection: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodPost, "/api/workspace/annotations", sessionID, map[string]any{"tag": "Defense Evasion", "start": 30, "end": 37})
	if rr.Code != http.StatusCreated {
		t.Fatalf("annotate range: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/workspace/annotations", sessionID, map[string]any{"tag": "Not A Tactic", "start": 0, "end": 3})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown tag, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPut, "/api/workspace/relations/0", sessionID, map[string]any{"checked": []int{1}})
	if rr.Code != http.StatusOK {
		t.Fatalf("set checkboxes: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodPut, "/api/workspace/relations/0", sessionID, map[string]any{"checked": []int{0}})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for own checkbox, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/workspace", sessionID, nil)
	var state struct {
		HasDocument bool   `json:"hasDocument"`
		HTML        string `json:"html"`
		Annotations []struct {
			ID int `json:"annotation_id"`
		} `json:"annotations"`
	}
	decodeJSON(t, rr, &state)
	if !state.HasDocument || len(state.Annotations) != 2 || strings.Count(state.HTML, `class="highlighted-text"`) != 2 {
		t.Fatalf("unexpected workspace: %+v", state)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/workspace/save", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("save: %d %s", rr.Code, rr.Body.String())
	}
	var saved struct {
		Success   bool   `json:"success"`
		ProjectID string `json:"project_id"`
	}
	decodeJSON(t, rr, &saved)
	if !saved.Success || saved.ProjectID != uploaded.Project.ID {
		t.Fatalf("unexpected save response: %+v", saved)
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/projects/"+uploaded.Project.ID+"/versions", sessionID, nil)
	var listed struct {
		Versions []VersionPayload `json:"versions"`
	}
	decodeJSON(t, rr, &listed)
	if len(listed.Versions) != 2 || listed.Versions[0].Storage != "git" {
		t.Fatalf("unexpected versions: %+v", listed.Versions)
	}
	savedID := listed.Versions[0].ID

	file := httptest.NewRecorder()
	handler.ServeHTTP(file, httptest.NewRequest(http.MethodGet, "/api/files/"+savedID, nil))
	if file.Code != http.StatusOK || file.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Fatalf("file: %d %q", file.Code, file.Header().Get("Content-Type"))
	}
	if !strings.Contains(file.Body.String(), `data-annotation-id="1"`) {
		t.Fatalf("saved markup missing markers: %s", file.Body.String())
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/versions/"+savedID+"/attack-flow", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("attack flow: %d %s", rr.Code, rr.Body.String())
	}
	var bundle struct {
		Type    string           `json:"type"`
		Objects []map[string]any `json:"objects"`
	}
	decodeJSON(t, rr, &bundle)
	if bundle.Type != "bundle" || len(bundle.Objects) != 5 {
		t.Fatalf("unexpected bundle: %+v", bundle)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/versions/"+savedID+"/export", "", map[string]string{"format": "pdf"})
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("export: %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "report.pdf") {
		t.Fatalf("unexpected disposition: %q", rr.Header().Get("Content-Disposition"))
	}

	rr = doJSON(t, handler, http.MethodDelete, "/api/workspace/annotations/1", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("remove annotation: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodDelete, "/api/workspace/annotations/1", sessionID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 removing twice, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, "/api/session/clear", sessionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear session: %d", rr.Code)
	}
	rr = doJSON(t, handler, http.MethodGet, "/api/session", sessionID, nil)
	var info map[string]any
	decodeJSON(t, rr, &info)
	if _, ok := info["file_id"]; ok {
		t.Fatalf("session info should be empty after clear: %v", info)
	}
}

func TestCreateProjectRejectsUnsupportedUpload(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "notes", "notes.txt", "plain"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var response map[string]any
	decodeJSON(t, rr, &response)
	if response["code"] != "UNSUPPORTED_FILE_TYPE" {
		t.Fatalf("unexpected error: %v", response)
	}
}

func TestCreateProjectRejectsOversizedUpload(t *testing.T) {
	svc, _ := newTestService(t)
	svc.cfg.MaxUploadBytes = 64
	handler := NewHTTPServer(svc, "*").Handler()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, uploadRequest(t, "big", "big.html", strings.Repeat("<p>x</p>", 100)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestExportValidatesFormat(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/versions/ver_x/export", "", map[string]string{"format": "odt"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestClearDatabaseRouteIsDebugOnly(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/admin/clear-database", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when debug routes are off, got %d", rr.Code)
	}

	svc.cfg.EnableDebugRoutes = true
	rr = doJSON(t, handler, http.MethodPost, "/api/admin/clear-database", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with debug routes, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestMissingVersionIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewHTTPServer(svc, "*").Handler()

	for _, path := range []string{"/api/files/ver_missing", "/api/versions/ver_missing/attack-flow"} {
		rr := doJSON(t, handler, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	svc, _ := newTestService(t)
	rr := doJSON(t, NewHTTPServer(svc, "*").Handler(), http.MethodGet, "/api/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
