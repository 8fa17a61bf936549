package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"attackflow/api/internal/annotation"
	"attackflow/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	documentFile    = "document.html"
	annotationsFile = "annotations.json"
	mainBranch      = "main"
)

var ErrRepoNotFound = errors.New("project repository not found")

// Snapshot is one saved state of an annotated document.
type Snapshot struct {
	HTML        string
	Annotations []annotation.Annotation
}

// Service keeps one git repository per project under baseDir. Every saved
// version is a commit on main holding document.html and annotations.json.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Service) CommitVersion(projectID string, snapshot Snapshot, author, message string) (store.CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, created, err := s.openOrInit(projectID)
	if err != nil {
		return store.CommitInfo{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	annotations := snapshot.Annotations
	if annotations == nil {
		annotations = []annotation.Annotation{}
	}
	payload, err := json.MarshalIndent(annotations, "", "  ")
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("marshal annotations: %w", err)
	}

	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, documentFile), []byte(snapshot.HTML), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write %s: %w", documentFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, annotationsFile), append(payload, '\n'), 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write %s: %w", annotationsFile, err)
	}
	for _, name := range []string{documentFile, annotationsFile} {
		if _, err := worktree.Add(name); err != nil {
			return store.CommitInfo{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		// Saving an unchanged document still records a version.
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.attackflow.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit version: %w", err)
	}

	if created {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
			return store.CommitInfo{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
			return store.CommitInfo{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

func (s *Service) ReadVersion(projectID, hash string) (Snapshot, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(projectID)
	if err != nil {
		return Snapshot{}, err
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshotFromCommit(commitObj)
}

func (s *Service) History(projectID string, limit int) ([]store.CommitInfo, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(projectID)
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// DeleteRepo removes the project's repository. A missing repository is not an error.
func (s *Service) DeleteRepo(projectID string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(s.repoPath(projectID)); err != nil {
		return fmt.Errorf("remove repo: %w", err)
	}
	return nil
}

// Reset removes every project repository.
func (s *Service) Reset() error {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read repos dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := s.DeleteRepo(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, projectID)
}

func (s *Service) projectLock(projectID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[projectID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[projectID] = lock
	return lock
}

func (s *Service) open(projectID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrRepoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) openOrInit(projectID string) (*git.Repository, bool, error) {
	path := s.repoPath(projectID)
	if _, err := os.Stat(path); err == nil {
		repo, err := s.open(projectID)
		return repo, false, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	htmlBytes, err := readCommitFile(commitObj, documentFile)
	if err != nil {
		return Snapshot{}, err
	}
	annotationBytes, err := readCommitFile(commitObj, annotationsFile)
	if err != nil {
		return Snapshot{}, err
	}

	var annotations []annotation.Annotation
	if err := json.Unmarshal(annotationBytes, &annotations); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", annotationsFile, err)
	}
	return Snapshot{HTML: string(htmlBytes), Annotations: annotations}, nil
}

func readCommitFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func toCommitInfo(commitObj *object.Commit) store.CommitInfo {
	return store.CommitInfo{
		Hash:      commitObj.Hash.String(),
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "annotator"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
