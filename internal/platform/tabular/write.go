package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/amr/amr/internal/ingest"
)

// SheetName is the sheet written by WriteXLSX.
const SheetName = "lab_results"

// Write renders recs in the file type implied by name.
func Write(name string, w io.Writer, recs []ingest.Record) error {
	kind, err := KindOf(name, nil)
	if err != nil {
		return err
	}
	if kind == KindXLSX {
		return WriteXLSX(w, recs)
	}
	return WriteCSV(w, recs)
}

// WriteCSV writes recs as a template CSV: the template header row followed by
// one row per record.
func WriteCSV(w io.Writer, recs []ingest.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ingest.TemplateColumns); err != nil {
		return err
	}
	row := make([]string, len(ingest.TemplateColumns))
	for _, rec := range recs {
		for i, col := range ingest.TemplateColumns {
			row[i] = rec.Value(col)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes recs as a single-sheet template workbook. Ages are stored
// as numbers.
func WriteXLSX(w io.Writer, recs []ingest.Record) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return err
	}

	header := make([]any, len(ingest.TemplateColumns))
	for i, col := range ingest.TemplateColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	for r, rec := range recs {
		row := make([]any, len(ingest.TemplateColumns))
		for i, col := range ingest.TemplateColumns {
			if col == ingest.FieldAge && rec.Age != nil {
				row[i] = *rec.Age
				continue
			}
			row[i] = rec.Value(col)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", r+2, err)
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// WriteRejects writes diagnostics as a two-column CSV.
func WriteRejects(w io.Writer, diags []ingest.Diagnostic) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"line", "reason"}); err != nil {
		return err
	}
	for _, d := range diags {
		if err := cw.Write([]string{strconv.Itoa(d.Line), d.Reason}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
