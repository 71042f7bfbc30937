package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"plate/api/internal/model"
)

type fakeStore struct {
	plate   *model.Plate
	metrics []model.Metric
	err     error
}

func (f fakeStore) LoadPlate(context.Context, string) (*model.Plate, error) {
	return f.plate, f.err
}

func (f fakeStore) ListPlateMetrics(context.Context, string) ([]model.Metric, error) {
	return f.metrics, nil
}

func samplePlate() *model.Plate {
	due := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return &model.Plate{
		ID:   "p1",
		Name: "Spring Launch",
		Headers: []*model.Header{
			{ID: "h1", Name: "Todo", Items: []*model.PlateItem{
				{ID: "i1", Title: "Write copy", Description: "Draft **hero** text", DueAt: &due},
				{ID: "i2", Title: "Old idea", Archived: true},
			}},
			{ID: "h2", Name: "Done", Items: []*model.PlateItem{
				{ID: "i3", Title: "Pick date"},
			}},
		},
	}
}

func sampleMetrics() []model.Metric {
	return []model.Metric{
		{PlateItemID: "i1", Name: "hours", Value: 3, Unit: "h"},
		{PlateItemID: "i3", Name: "hours", Value: 1.5, Unit: "h"},
		{PlateItemID: "i2", Name: "hours", Value: 10, Unit: "h"},
		{PlateItemID: "i3", Name: "cost", Value: 20},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatPDF, false},
		{"PDF", FormatPDF, false},
		{"xlsx", FormatXLSX, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.err {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("ParseFormat(%q) err = %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestBuildDocumentSkipsArchivedCards(t *testing.T) {
	doc := buildDocument(samplePlate(), sampleMetrics(), time.Now())
	if doc.CardCount != 2 {
		t.Fatalf("expected 2 cards, got %d", doc.CardCount)
	}
	if len(doc.Headers) != 2 || len(doc.Headers[0].Cards) != 1 {
		t.Fatalf("unexpected headers %+v", doc.Headers)
	}
	if len(doc.Totals) != 2 || doc.Totals[0].Name != "cost" || doc.Totals[1].Total != 4.5 {
		t.Fatalf("unexpected totals %+v", doc.Totals)
	}
	if !strings.Contains(string(doc.Headers[0].Cards[0].DescriptionHTML), "<strong>hero</strong>") {
		t.Fatalf("description not rendered: %q", doc.Headers[0].Cards[0].DescriptionHTML)
	}
}

func TestMarkdownDropsRawHTML(t *testing.T) {
	out := string(markdownHTML("hello <script>alert(1)</script>"))
	if strings.Contains(out, "<script>") {
		t.Fatalf("raw html passed through: %q", out)
	}
	if markdownHTML("   ") != "" {
		t.Fatal("blank description should render empty")
	}
}

func TestRenderPlateHTML(t *testing.T) {
	doc := buildDocument(samplePlate(), sampleMetrics(), time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC))
	html, err := RenderPlateHTML(doc)
	if err != nil {
		t.Fatalf("RenderPlateHTML() error = %v", err)
	}
	for _, want := range []string{"Spring Launch", "Todo (1)", "Write copy", "<strong>hero</strong>", "Due May 1, 2026", "Apr 2, 2026 09:30"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "Old idea") {
		t.Error("archived card rendered")
	}
}

func TestExportXLSX(t *testing.T) {
	svc := NewService(fakeStore{plate: samplePlate(), metrics: sampleMetrics()}, "")
	res, err := svc.Export(context.Background(), "p1", FormatXLSX)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "Spring-Launch.xlsx" {
		t.Fatalf("unexpected filename %q", res.Filename)
	}

	f, err := excelize.OpenReader(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(cardsSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 || rows[1][0] != "Todo" || rows[1][2] != "Write copy" || rows[2][2] != "Pick date" {
		t.Fatalf("unexpected rows %v", rows)
	}
	totals, _ := f.GetRows(totalsSheet)
	if len(totals) != 3 || totals[2][0] != "hours" || totals[2][2] != "4.5" {
		t.Fatalf("unexpected totals %v", totals)
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	svc := NewService(fakeStore{plate: samplePlate()}, "/opt/chrome")
	var gotPath, gotHTML string
	svc.renderPDF = func(_ context.Context, chromePath, html string) ([]byte, error) {
		gotPath, gotHTML = chromePath, html
		return []byte("%PDF-1.7"), nil
	}
	res, err := svc.Export(context.Background(), "p1", FormatPDF)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.MimeType != "application/pdf" || string(res.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected result %+v", res)
	}
	if gotPath != "/opt/chrome" || !strings.Contains(gotHTML, "Spring Launch") {
		t.Fatalf("renderer got %q / %d bytes", gotPath, len(gotHTML))
	}
}

func TestExportLoadError(t *testing.T) {
	svc := NewService(fakeStore{err: errors.New("boom")}, "")
	if _, err := svc.Export(context.Background(), "p1", FormatPDF); err == nil {
		t.Fatal("expected error")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"Roadmap v1.2", "Roadmap-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "plate"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
