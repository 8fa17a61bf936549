package app

import (
	"errors"
	"fmt"
	"net/http"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/blob"
	"attackflow/api/internal/convert"
	"attackflow/api/internal/export"
	"attackflow/api/internal/gateway"
	"attackflow/api/internal/gitrepo"
	"attackflow/api/internal/highlight"
	"attackflow/api/internal/session"
	"attackflow/api/internal/workspace"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

type sentinelMapping struct {
	err    error
	status int
	code   string
}

// sentinelErrors maps package errors to responses. First match wins.
var sentinelErrors = []sentinelMapping{
	{session.ErrNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
	{annotation.ErrNotFound, http.StatusNotFound, "ANNOTATION_NOT_FOUND"},
	{blob.ErrNotFound, http.StatusNotFound, "FILE_NOT_FOUND"},
	{gitrepo.ErrRepoNotFound, http.StatusNotFound, "NOT_FOUND"},
	{highlight.ErrMarkerNotFound, http.StatusNotFound, "MARKER_NOT_FOUND"},

	{gateway.ErrBusy, http.StatusConflict, "BUSY"},
	{workspace.ErrNoDocument, http.StatusConflict, "NO_DOCUMENT"},
	{workspace.ErrNoSelection, http.StatusConflict, "NO_SELECTION"},
	{highlight.ErrMarkerExists, http.StatusConflict, "MARKER_EXISTS"},
	{annotation.ErrDuplicateID, http.StatusConflict, "DUPLICATE_ANNOTATION"},

	{annotation.ErrUnknownTag, http.StatusUnprocessableEntity, "UNKNOWN_TAG"},
	{annotation.ErrCodeMismatch, http.StatusUnprocessableEntity, "CODE_MISMATCH"},
	{annotation.ErrEmptySelection, http.StatusUnprocessableEntity, "EMPTY_SELECTION"},
	{annotation.ErrSelfRelation, http.StatusUnprocessableEntity, "SELF_RELATION"},
	{annotation.ErrInvalidID, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{highlight.ErrInvalidRange, http.StatusUnprocessableEntity, "INVALID_RANGE"},
	{highlight.ErrPartialElement, http.StatusUnprocessableEntity, "INVALID_RANGE"},
	{highlight.ErrRowNotRendered, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{highlight.ErrUnknownCheckbox, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{workspace.ErrMarkerMismatch, http.StatusUnprocessableEntity, "MARKER_MISMATCH"},
	{gateway.ErrEmptyDocument, http.StatusUnprocessableEntity, "EMPTY_DOCUMENT"},
	{gateway.ErrUnsupportedType, http.StatusUnprocessableEntity, "UNSUPPORTED_FILE_TYPE"},
	{convert.ErrUnsupportedType, http.StatusUnprocessableEntity, "UNSUPPORTED_FILE_TYPE"},
	{convert.ErrInvalidPDF, http.StatusUnprocessableEntity, "INVALID_PDF"},
	{convert.ErrEmptyOutput, http.StatusUnprocessableEntity, "EMPTY_DOCUMENT"},
	{export.ErrUnsupportedFormat, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},

	{gateway.ErrSaveRejected, http.StatusBadGateway, "SAVE_REJECTED"},
	{convert.ErrToolMissing, http.StatusServiceUnavailable, "DEPENDENCY_MISSING"},
	{export.ErrPDFDependencyMissing, http.StatusServiceUnavailable, "DEPENDENCY_MISSING"},
	{export.ErrDOCXDependencyMissing, http.StatusServiceUnavailable, "DEPENDENCY_MISSING"},
}

func lookupSentinel(err error) (sentinelMapping, bool) {
	for _, mapping := range sentinelErrors {
		if errors.Is(err, mapping.err) {
			return mapping, true
		}
	}
	return sentinelMapping{}, false
}
