package store

import "time"

const (
	StorageBlob = "blob"
	StorageGit  = "git"
)

type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	// Filled by ListProjects.
	VersionCount int
}

// Version is one file of a project. Uploaded originals live in blob storage,
// saved annotated snapshots live in the project's git repository.
type Version struct {
	ID              string
	ProjectID       string
	Filename        string
	FileType        string
	Storage         string
	BlobKey         string
	CommitHash      string
	ContentType     string
	SizeBytes       int64
	PageCount       int
	AnnotationCount int
	CreatedAt       time.Time
}

// AnnotationRow is the relational copy of a saved version's annotations,
// kept for full-text search.
type AnnotationRow struct {
	VersionID    string
	ProjectID    string
	AnnotationID int
	SelectedText string
	Tag          string
	Code         string
	RelatedIDs   []int
}

type AnnotationHit struct {
	AnnotationRow
	Filename string
	Snippet  string
	Score    float64
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
