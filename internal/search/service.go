package search

import (
	"context"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
	load  func(ctx context.Context) ([]PlateRecord, []PlateItemRecord, []CommentRecord, error)

	onFallback func()
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili}
	if pgfts != nil {
		s.pgfts = pgfts
		s.load = pgfts.LoadAllRecords
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("meilisearch error, falling back to pgfts")
		if s.onFallback != nil {
			s.onFallback()
		}
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.WithError(err).Error("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(results), Total: total, Query: q.Text}
}

// OnFallback registers fn to run whenever a Meilisearch failure sends a
// query to Postgres.
func (s *Service) OnFallback(fn func()) {
	s.onFallback = fn
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexPlate indexes a plate (fire-and-forget to Meilisearch).
func (s *Service) IndexPlate(p PlateRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexPlate(p); err != nil {
			log.WithError(err).WithField("plate_id", p.ID).Warn("index plate")
		}
	}()
}

// IndexPlateItem indexes a card (fire-and-forget to Meilisearch).
func (s *Service) IndexPlateItem(i PlateItemRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexPlateItem(i); err != nil {
			log.WithError(err).WithField("plate_item_id", i.ID).Warn("index plate item")
		}
	}()
}

func (s *Service) IndexComment(c CommentRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(c); err != nil {
			log.WithError(err).WithField("comment_id", c.ID).Warn("index comment")
		}
	}()
}

func (s *Service) DeletePlate(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeletePlate(id); err != nil {
			log.WithError(err).WithField("plate_id", id).Warn("delete plate from index")
		}
	}()
}

func (s *Service) DeletePlateItem(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeletePlateItem(id); err != nil {
			log.WithError(err).WithField("plate_item_id", id).Warn("delete plate item from index")
		}
	}()
}

func (s *Service) DeleteComment(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			log.WithError(err).WithField("comment_id", id).Warn("delete comment from index")
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. It is a no-op without a healthy Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) error {
	if !s.meiliReady() || s.load == nil {
		return nil
	}
	plates, items, comments, err := s.load(ctx)
	if err != nil {
		return err
	}
	if err := s.meili.IndexAll(plates, items, comments); err != nil {
		return err
	}
	log.WithField("plates", len(plates)).WithField("plate_items", len(items)).WithField("comments", len(comments)).Info("search reindex complete")
	return nil
}

// sanitizeResults strips highlight markup from titles, which the UI renders
// verbatim, and guarantees a non-nil slice.
func sanitizeResults(results []Result) []Result {
	out := make([]Result, 0, len(results))
	for _, r := range results {
		r.Title = stripMarks(r.Title)
		out = append(out, r)
	}
	return out
}
