package search

import (
	"context"
	"log"
)

type indexBackend interface {
	Searcher
	IndexRecords(records []Record) error
	DeleteRecords(ids []string) error
	Reset() error
}

type fallbackBackend interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]Record, error)
}

// Service tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili indexBackend
	pgfts fallbackBackend
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexVersion pushes a saved version's annotations (fire-and-forget).
func (s *Service) IndexVersion(records []Record) {
	if s.meili == nil || !s.meili.Healthy() || len(records) == 0 {
		return
	}
	go func() {
		if err := s.meili.IndexRecords(records); err != nil {
			log.Printf("search: index version %s: %v", records[0].VersionID, err)
		}
	}()
}

// DeleteRecords removes annotation records (fire-and-forget).
func (s *Service) DeleteRecords(ids []string) {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return
	}
	go func() {
		if err := s.meili.DeleteRecords(ids); err != nil {
			log.Printf("search: delete %d records: %v", len(ids), err)
		}
	}()
}

// Reset empties the Meilisearch index.
func (s *Service) Reset() {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.Reset(); err != nil {
		log.Printf("search: reset index: %v", err)
	}
}

// ReindexAllFromPG pushes every stored annotation into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexRecords(records); err != nil {
		log.Printf("search: reindex annotations: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
