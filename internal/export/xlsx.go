package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	cardsSheet  = "Cards"
	totalsSheet = "Totals"
)

// renderXLSX writes one row per card plus a sheet of metric totals.
func renderXLSX(doc Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cardsSheet); err != nil {
		return nil, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E5E7EB"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	if err := writeRow(f, cardsSheet, 1, "Column", "Position", "Title", "Description", "Assignee", "Due", "Metrics"); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(cardsSheet, "A1", "G1", header); err != nil {
		return nil, err
	}

	row := 2
	for _, h := range doc.Headers {
		for i, card := range h.Cards {
			due := ""
			if card.DueAt != nil {
				due = card.DueAt.Format("2006-01-02")
			}
			metrics := ""
			for j, m := range card.Metrics {
				if j > 0 {
					metrics += "; "
				}
				metrics += fmt.Sprintf("%s=%g%s", m.Name, m.Value, m.Unit)
			}
			if err := writeRow(f, cardsSheet, row, h.Name, i, card.Title, card.Description, card.AssigneeID, due, metrics); err != nil {
				return nil, err
			}
			row++
		}
	}
	_ = f.SetColWidth(cardsSheet, "A", "A", 18)
	_ = f.SetColWidth(cardsSheet, "C", "D", 40)
	_ = f.SetColWidth(cardsSheet, "G", "G", 30)

	if _, err := f.NewSheet(totalsSheet); err != nil {
		return nil, err
	}
	if err := writeRow(f, totalsSheet, 1, "Metric", "Unit", "Total"); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(totalsSheet, "A1", "C1", header); err != nil {
		return nil, err
	}
	for i, t := range doc.Totals {
		if err := writeRow(f, totalsSheet, i+2, t.Name, t.Unit, t.Total); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
