package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attackflow/api/internal/export"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/search"
	"attackflow/api/internal/workspace"
)

const sessionHeader = "X-Session-ID"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
			"sessions": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		if err := s.service.PingSessions(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["sessions"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/taxonomy" {
		writeJSON(w, http.StatusOK, map[string]any{"tags": s.service.Taxonomy()})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session" {
		sessionID, err := s.service.CreateSession(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set(sessionHeader, sessionID)
		writeJSON(w, http.StatusCreated, map[string]any{"sessionId": sessionID})
		return
	}

	if r.URL.Path == "/api/session" && (r.Method == http.MethodGet || r.Method == http.MethodDelete) {
		sessionID, ok := requireSession(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodDelete {
			if err := s.service.EndSession(r.Context(), sessionID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		info, err := s.service.SessionInfo(r.Context(), sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/clear" {
		sessionID, ok := requireSession(w, r)
		if !ok {
			return
		}
		if err := s.service.ClearSession(r.Context(), sessionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
			Text:      strings.TrimSpace(query.Get("q")),
			Tag:       strings.TrimSpace(query.Get("tag")),
			ProjectID: strings.TrimSpace(query.Get("projectId")),
			Limit:     limit,
			Offset:    offset,
		}))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/clear-database" {
		if !s.service.cfg.EnableDebugRoutes {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if err := s.service.ClearDatabase(r.Context()); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProjects(w, r, parts)
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "versions" {
		s.handleVersions(w, r, parts)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "files" && r.Method == http.MethodGet {
		s.handleFile(w, r, parts[2])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "workspace" {
		sessionID, ok := requireSession(w, r)
		if !ok {
			return
		}
		s.handleWorkspace(w, r, sessionID, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListProjects(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": items})
			return
		case http.MethodPost:
			s.handleCreateProject(w, r)
			return
		}
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteProject(r.Context(), parts[2]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "projectId": parts[2]})
		return
	}

	if len(parts) == 4 && parts[3] == "versions" && r.Method == http.MethodGet {
		items, err := s.service.ListVersions(r.Context(), parts[2], strings.TrimSpace(r.Header.Get(sessionHeader)))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projectId": parts[2], "versions": items})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := s.service.ProjectHistory(r.Context(), parts[2], limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projectId": parts[2], "commits": items})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if limit := s.service.cfg.MaxUploadBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Upload exceeds the size limit", map[string]any{"limitBytes": tooLarge.Limit})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form data", nil)
		return
	}
	file, header, err := r.FormFile("initialfile")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "initialfile is required", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read initialfile", nil)
		return
	}

	project, version, err := s.service.CreateProject(r.Context(), UploadInput{
		ProjectName: r.FormValue("projectname"),
		Filename:    header.Filename,
		Data:        data,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": project, "version": version})
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, parts []string) {
	versionID := parts[2]

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.DeleteVersion(r.Context(), versionID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "versionId": versionID})
		return
	}

	if len(parts) != 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case parts[3] == "load" && r.Method == http.MethodPost:
		sessionID, ok := requireSession(w, r)
		if !ok {
			return
		}
		result, err := s.service.LoadIntoSession(r.Context(), sessionID, versionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return

	case parts[3] == "export" && r.Method == http.MethodPost:
		var body struct {
			Format string `json:"format"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format := export.Format(strings.ToLower(strings.TrimSpace(body.Format)))
		if format != export.FormatPDF && format != export.FormatDOCX {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil)
			return
		}
		result, err := s.service.ExportVersion(r.Context(), versionID, format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return

	case parts[3] == "attack-flow" && r.Method == http.MethodGet:
		bundle, err := s.service.AttackFlow(r.Context(), versionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+versionID+".afb\"")
		writeJSON(w, http.StatusOK, bundle)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleFile(w http.ResponseWriter, r *http.Request, versionID string) {
	version, reader, err := s.service.OpenFile(r.Context(), versionID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", version.ContentType)
	w.Header().Set("Content-Disposition", "inline; filename=\""+version.Filename+"\"")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		log.Printf("app: stream file %s: %v", versionID, err)
	}
}

func (s *HTTPServer) handleWorkspace(w http.ResponseWriter, r *http.Request, sessionID string, rest []string) {
	ctx := r.Context()

	if len(rest) == 0 && r.Method == http.MethodGet {
		ws, err := s.service.Workspace(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeState(w, ws.State)
		return
	}

	if len(rest) == 1 && rest[0] == "annotate" && r.Method == http.MethodPost {
		state, err := s.service.Annotate(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}

	if len(rest) == 1 && rest[0] == "selection" && r.Method == http.MethodPost {
		var body highlight.Range
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.Workspace(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		selection, err := ws.Select(body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selection": selection})
		return
	}

	if len(rest) == 1 && rest[0] == "annotations" && r.Method == http.MethodPost {
		var body CreateAnnotationInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.CreateAnnotation(ctx, sessionID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"annotation": item})
		return
	}

	if len(rest) == 2 && rest[0] == "annotations" && r.Method == http.MethodDelete {
		id, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "annotation id must be an integer", nil)
			return
		}
		ws, err := s.service.Workspace(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		removed, err := ws.RemoveAnnotation(id)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
		return
	}

	if len(rest) == 2 && rest[0] == "relations" && r.Method == http.MethodPut {
		id, err := strconv.Atoi(rest[1])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "annotation id must be an integer", nil)
			return
		}
		var body struct {
			Checked []int `json:"checked"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		ws, err := s.service.Workspace(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if err := ws.SetCheckboxes(id, body.Checked); err != nil {
			writeMappedError(w, err)
			return
		}
		writeState(w, ws.State)
		return
	}

	if len(rest) == 1 && rest[0] == "relations" && r.Method == http.MethodPost {
		ws, err := s.service.Workspace(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		if err := ws.ApplyRelations(); err != nil {
			writeMappedError(w, err)
			return
		}
		writeState(w, ws.State)
		return
	}

	if len(rest) == 1 && rest[0] == "save" && r.Method == http.MethodPost {
		result, err := s.service.Save(ctx, sessionID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func writeState(w http.ResponseWriter, state func() (workspace.State, error)) {
	payload, err := state()
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := strings.TrimSpace(r.Header.Get(sessionHeader))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "SESSION_REQUIRED", "Missing "+sessionHeader+" header", nil)
		return "", false
	}
	return sessionID, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+sessionHeader)
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, "+sessionHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("app: %s: %v", code, err)
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if mapping, ok := lookupSentinel(err); ok {
		if mapping.status >= http.StatusInternalServerError {
			return mapping.status, mapping.code, http.StatusText(mapping.status), nil
		}
		return mapping.status, mapping.code, err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
