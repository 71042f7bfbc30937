package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"plate/api/internal/logging"
)

var log = logging.Component("search")

const (
	idxPlates     = "plate_plates"
	idxPlateItems = "plate_items"
	idxComments   = "plate_comments"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns nil if the initial connection fails (caller should proceed without it).
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxPlates,
			primaryKey: "id",
			filterable: []string{"teamId", "platterId", "archived"},
			searchable: []string{"name"},
		},
		{
			uid:        idxPlateItems,
			primaryKey: "id",
			filterable: []string{"teamId", "plateId", "archived"},
			searchable: []string{"title", "description"},
		},
		{
			uid:        idxComments,
			primaryKey: "id",
			filterable: []string{"teamId", "plateId", "plateItemId"},
			searchable: []string{"body", "authorName"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.WithError(err).WithField("index", idx.uid).Debug("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.WithError(err).WithField("index", idx.uid).Warn("update filterable attributes")
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.WithError(err).WithField("index", idx.uid).Warn("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Info("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries every index (or the filtered one) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxPlates, ResultPlate},
		{idxPlateItems, ResultPlateItem},
		{idxComments, ResultComment},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:              ti.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			Filter:                meiliFilters(q, ti.rtyp),
		})
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func meiliFilters(q Query, rtyp ResultType) []string {
	filters := []string{fmt.Sprintf("teamId = %q", q.TeamID)}
	if rtyp != ResultComment {
		filters = append(filters, "archived = false")
	}
	if q.PlateID != "" {
		field := "plateId"
		if rtyp == ResultPlate {
			field = "id"
		}
		filters = append(filters, fmt.Sprintf("%s = %q", field, q.PlateID))
	}
	return filters
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxPlates:
		return ResultPlate
	case idxPlateItems:
		return ResultPlateItem
	case idxComments:
		return ResultComment
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: string(rtyp)}
	r.ID = decodeString(hit, "id")
	r.PlateID = decodeString(hit, "plateId")
	r.PlateItemID = decodeString(hit, "plateItemId")

	switch rtyp {
	case ResultPlate:
		r.Title = firstNonBlank(decodeFormattedString(hit, "name"), decodeString(hit, "name"))
		r.PlateID = r.ID
	case ResultPlateItem:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
		r.PlateItemID = r.ID
	case ResultComment:
		r.Title = decodeString(hit, "authorName")
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(formatted[key], &value); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexPlate(p PlateRecord) error {
	_, err := m.client.Index(idxPlates).AddDocuments([]PlateRecord{p}, nil)
	return err
}

func (m *Meili) IndexPlateItem(i PlateItemRecord) error {
	_, err := m.client.Index(idxPlateItems).AddDocuments([]PlateItemRecord{i}, nil)
	return err
}

func (m *Meili) IndexComment(c CommentRecord) error {
	_, err := m.client.Index(idxComments).AddDocuments([]CommentRecord{c}, nil)
	return err
}

func (m *Meili) DeletePlate(id string) error {
	_, err := m.client.Index(idxPlates).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeletePlateItem(id string) error {
	_, err := m.client.Index(idxPlateItems).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteComment(id string) error {
	_, err := m.client.Index(idxComments).DeleteDocument(id, nil)
	return err
}

// IndexAll bulk-indexes the given records, skipping empty sets.
func (m *Meili) IndexAll(plates []PlateRecord, items []PlateItemRecord, comments []CommentRecord) error {
	if len(plates) > 0 {
		if _, err := m.client.Index(idxPlates).AddDocuments(plates, nil); err != nil {
			return fmt.Errorf("index plates: %w", err)
		}
	}
	if len(items) > 0 {
		if _, err := m.client.Index(idxPlateItems).AddDocuments(items, nil); err != nil {
			return fmt.Errorf("index plate items: %w", err)
		}
	}
	if len(comments) > 0 {
		if _, err := m.client.Index(idxComments).AddDocuments(comments, nil); err != nil {
			return fmt.Errorf("index comments: %w", err)
		}
	}
	return nil
}
