package export

import (
	"html/template"
	"sort"
	"time"

	"plate/api/internal/model"
)

// Document is the flattened view of a plate shared by every renderer.
type Document struct {
	Title       string
	GeneratedAt time.Time
	CardCount   int
	Headers     []DocumentHeader
	Totals      []model.MetricTotal
}

type DocumentHeader struct {
	Name  string
	Cards []DocumentCard
}

type DocumentCard struct {
	Title           string
	Description     string
	DescriptionHTML template.HTML
	AssigneeID      string
	DueAt           *time.Time
	Metrics         []model.Metric
}

func buildDocument(plate *model.Plate, metrics []model.Metric, now time.Time) Document {
	byItem := make(map[string][]model.Metric)
	for _, m := range metrics {
		byItem[m.PlateItemID] = append(byItem[m.PlateItemID], m)
	}

	doc := Document{Title: plate.Name, GeneratedAt: now}
	onPlate := make(map[string]bool)
	for _, h := range plate.Headers {
		dh := DocumentHeader{Name: h.Name}
		for _, item := range h.Items {
			if item.Archived {
				continue
			}
			onPlate[item.ID] = true
			dh.Cards = append(dh.Cards, DocumentCard{
				Title:           item.Title,
				Description:     item.Description,
				DescriptionHTML: markdownHTML(item.Description),
				AssigneeID:      item.AssigneeID,
				DueAt:           item.DueAt,
				Metrics:         byItem[item.ID],
			})
			doc.CardCount++
		}
		doc.Headers = append(doc.Headers, dh)
	}

	var visible []model.Metric
	for _, m := range metrics {
		if onPlate[m.PlateItemID] {
			visible = append(visible, m)
		}
	}
	doc.Totals = totals(visible)
	return doc
}

// totals sums metric values by name, ordered by name.
func totals(metrics []model.Metric) []model.MetricTotal {
	idx := make(map[string]int)
	var out []model.MetricTotal
	for _, m := range metrics {
		i, ok := idx[m.Name]
		if !ok {
			i = len(out)
			idx[m.Name] = i
			out = append(out, model.MetricTotal{Name: m.Name, Unit: m.Unit})
		}
		out[i].Total += m.Value
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
