package search

import (
	"context"
	"fmt"
)

// Record is one saved annotation as it is indexed.
type Record struct {
	ID           string `json:"id"`
	VersionID    string `json:"versionId"`
	ProjectID    string `json:"projectId"`
	AnnotationID int    `json:"annotationId"`
	SelectedText string `json:"selectedText"`
	Tag          string `json:"tag"`
	Code         string `json:"code"`
	Filename     string `json:"filename"`
}

// RecordID is the index key of an annotation within a version.
func RecordID(versionID string, annotationID int) string {
	return fmt.Sprintf("%s-%d", versionID, annotationID)
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	VersionID    string `json:"versionId"`
	ProjectID    string `json:"projectId"`
	AnnotationID int    `json:"annotationId"`
	SelectedText string `json:"selectedText"`
	Snippet      string `json:"snippet"`
	Tag          string `json:"tag"`
	Code         string `json:"code"`
	Filename     string `json:"filename"`
}

// Query describes a search request.
type Query struct {
	Text      string
	Tag       string
	ProjectID string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}
