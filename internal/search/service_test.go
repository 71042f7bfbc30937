package search

import (
	"context"
	"errors"
	"testing"
)

type fakeSearcher struct {
	results []Result
	total   int
	err     error
	last    Query
}

func (f *fakeSearcher) Search(q Query) ([]Result, int, error) {
	f.last = q
	return f.results, f.total, f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackToPostgres(t *testing.T) {
	fake := &fakeSearcher{
		results: []Result{{Type: string(ResultPlateItem), ID: "i1", Title: "<mark>Ship</mark> it"}},
		total:   1,
	}
	svc := &Service{pgfts: fake}

	resp := svc.Search(Query{Text: "ship", TeamID: "team_1"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Results[0].Title != "Ship it" {
		t.Fatalf("expected highlight stripped from title, got %q", resp.Results[0].Title)
	}
	if fake.last.TeamID != "team_1" {
		t.Fatalf("expected team filter forwarded, got %+v", fake.last)
	}
}

func TestServiceSwallowsBackendErrors(t *testing.T) {
	svc := &Service{pgfts: &fakeSearcher{err: errors.New("db down")}}
	resp := svc.Search(Query{Text: "x", TeamID: "t"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(Query{Text: "x", TeamID: "t"})
	if resp.Results == nil || resp.Query != "x" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if err := svc.ReindexAllFromPG(context.Background()); err != nil {
		t.Fatalf("expected reindex without meili to be a no-op, got %v", err)
	}
	svc.IndexPlate(PlateRecord{ID: "p"})
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{TeamID: "t1", PlateID: "p1"}, ResultPlate)
	want := []string{`teamId = "t1"`, "archived = false", `id = "p1"`}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	got = meiliFilters(Query{TeamID: "t1"}, ResultComment)
	if len(got) != 1 {
		t.Fatalf("expected only the team filter for comments, got %v", got)
	}
}
