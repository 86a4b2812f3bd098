// Package sheet writes the session table to an .xlsx workbook.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"cardscan/models"
)

const (
	// FileName is the download name offered to the operator.
	FileName = "sirket_kimlik_listesi.xlsx"
	// ContentType is the MIME type of an .xlsx workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// SheetName matches the default sheet of a fresh workbook.
	SheetName = "Sheet1"
)

// Header is the first row of the export: first name, last name.
var Header = []string{"Ad", "Soyad"}

// ErrBadHeader is returned by ReadRecords when the first row is not Header.
var ErrBadHeader = errors.New("unexpected header row")

// WriteRecords writes records, in order, below a bold header row. No index
// column is written.
func WriteRecords(w io.Writer, records []models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow(SheetName, "A1", &[]interface{}{Header[0], Header[1]}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "B1", style); err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetColWidth(SheetName, "A", "B", 24); err != nil {
		return fmt.Errorf("column width: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &[]interface{}{r.FirstName, r.LastName}); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ReadRecords reads back a workbook produced by WriteRecords. Positions are
// assigned from row order. Rows with both names empty are kept, since a card
// without a readable name still has its row; only trailing empty rows are
// dropped.
func ReadRecords(r io.Reader) ([]models.Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrBadHeader
	}
	if len(rows[0]) < 2 || !strings.EqualFold(rows[0][0], Header[0]) || !strings.EqualFold(rows[0][1], Header[1]) {
		return nil, fmt.Errorf("%w: %q", ErrBadHeader, rows[0])
	}
	var out []models.Record
	for _, row := range rows[1:] {
		var first, last string
		if len(row) > 0 {
			first = strings.TrimSpace(row[0])
		}
		if len(row) > 1 {
			last = strings.TrimSpace(row[1])
		}
		out = append(out, models.Record{Position: len(out), FirstName: first, LastName: last})
	}
	for len(out) > 0 && out[len(out)-1].FirstName == "" && out[len(out)-1].LastName == "" {
		out = out[:len(out)-1]
	}
	return out, nil
}
