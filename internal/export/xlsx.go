// Package export renders matter lists as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/matters/internal/domain"
)

const (
	SheetName   = "Matters"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Headers returns the column titles for fields: fixed columns first, then
// one per field in catalog order.
func Headers(fields []domain.Field) []string {
	headers := []string{"ID", "Created At"}
	for _, field := range fields {
		headers = append(headers, field.Name)
	}
	return append(headers, "Resolution Time", "SLA")
}

// Row renders one matter in the column order of Headers.
func Row(fields []domain.Field, m domain.Matter) []any {
	row := []any{m.ID.String(), m.CreatedAt.UTC().Format("2006-01-02 15:04")}
	for _, field := range fields {
		row = append(row, cellValue(m.Fields[field.Name]))
	}

	resolution := ""
	if m.CycleTime != nil {
		resolution = m.CycleTime.ResolutionTimeFormatted
	}
	return append(row, resolution, string(m.SLA))
}

func cellValue(fv domain.FieldValue) any {
	if fv.DisplayValue != nil {
		return *fv.DisplayValue
	}
	if fv.Value == nil {
		return ""
	}
	switch v := fv.Value.(type) {
	case domain.TextValue:
		return string(v)
	case domain.NumberValue:
		return float64(v)
	default:
		return fmt.Sprint(v)
	}
}

// WriteMatters writes a single-sheet workbook to w.
func WriteMatters(w io.Writer, fields []domain.Field, matters []domain.Matter) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return goerr.Wrap(err, "failed to name sheet")
	}

	headers := Headers(fields)
	headerRow := make([]any, len(headers))
	for i, h := range headers {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &headerRow); err != nil {
		return goerr.Wrap(err, "failed to write header row")
	}

	for i, m := range matters {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return goerr.Wrap(err, "failed to resolve cell", goerr.V("row", i+2))
		}
		row := Row(fields, m)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return goerr.Wrap(err, "failed to write matter row", goerr.V("matter_id", m.ID))
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return goerr.Wrap(err, "failed to freeze header row")
	}

	if _, err := f.WriteTo(w); err != nil {
		return goerr.Wrap(err, "failed to write workbook")
	}
	return nil
}
