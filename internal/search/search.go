package search

import "plate/api/internal/model"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPlate     ResultType = "plate"
	ResultPlateItem ResultType = "plateItem"
	ResultComment   ResultType = "comment"
)

type Result = model.SearchResult
type Response = model.SearchResponse

// Query describes a search request. TeamID is mandatory: results never
// cross team boundaries.
type Query struct {
	Text       string
	TeamID     string
	FilterType ResultType // empty = all types
	PlateID    string
	Limit      int
	Offset     int
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexPlate(p PlateRecord) error
	IndexPlateItem(i PlateItemRecord) error
	IndexComment(c CommentRecord) error
	DeletePlate(id string) error
	DeletePlateItem(id string) error
	DeleteComment(id string) error
}

type PlateRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TeamID    string `json:"teamId"`
	PlatterID string `json:"platterId"`
	Archived  bool   `json:"archived"`
}

type PlateItemRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	TeamID      string `json:"teamId"`
	PlateID     string `json:"plateId"`
	Archived    bool   `json:"archived"`
}

type CommentRecord struct {
	ID          string `json:"id"`
	Body        string `json:"body"`
	AuthorName  string `json:"authorName"`
	TeamID      string `json:"teamId"`
	PlateID     string `json:"plateId"`
	PlateItemID string `json:"plateItemId"`
}

func PlateRecordOf(p model.Plate) PlateRecord {
	return PlateRecord{ID: p.ID, Name: p.Name, TeamID: p.TeamID, PlatterID: p.PlatterID, Archived: p.Archived}
}

func PlateItemRecordOf(teamID string, i model.PlateItem) PlateItemRecord {
	return PlateItemRecord{ID: i.ID, Title: i.Title, Description: i.Description, TeamID: teamID, PlateID: i.PlateID, Archived: i.Archived}
}

func CommentRecordOf(teamID, plateID string, c model.Comment) CommentRecord {
	return CommentRecord{ID: c.ID, Body: c.Body, AuthorName: c.AuthorName, TeamID: teamID, PlateID: plateID, PlateItemID: c.PlateItemID}
}
