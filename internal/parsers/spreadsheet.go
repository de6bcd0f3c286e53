package parsers

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
)

// readXLSX reads the configured sheet. Raw values are read alongside the
// formatted ones so that "7,000,000.00" stays the number 7000000 while a
// date-formatted serial becomes a date cell.
func (l *Loader) readXLSX(data []byte) ([][]models.Cell, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(l.config.SheetIndex)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheet %d", l.config.SheetIndex)
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	formatted, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}

	grid := make([][]models.Cell, len(raw))
	for i, row := range raw {
		cells := make([]models.Cell, len(row))
		for j, value := range row {
			shown := value
			if i < len(formatted) && j < len(formatted[i]) {
				shown = formatted[i][j]
			}
			cells[j] = xlsxCell(value, shown)
		}
		grid[i] = cells
	}
	return grid, nil
}

func xlsxCell(raw, shown string) models.Cell {
	if strings.TrimSpace(raw) == "" {
		return models.Empty()
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) {
		return models.Text(raw)
	}
	// Identifiers typed as text ("00123") must keep their zeros.
	if !strings.ContainsAny(raw, "eE") && strconv.FormatFloat(f, 'f', -1, 64) != raw {
		return models.Text(raw)
	}
	if shown == raw {
		return models.Number(f)
	}
	if v, ok := normalize.ParseAmount(models.Text(shown)); ok && math.Abs(v-f) < 1e-6*math.Max(1, math.Abs(f)) {
		return models.Number(f)
	}
	if looksLikeDate(shown) && f > 0 && f < 2958466 {
		if t, err := excelize.ExcelDateToTime(f, false); err == nil {
			return models.Date(t)
		}
	}
	return models.Number(f)
}

func looksLikeDate(s string) bool {
	return strings.ContainsAny(s, "-/.:") && !strings.ContainsAny(s, "%")
}

// readXLS reads a legacy BIFF workbook. Cells come back as text.
func (l *Loader) readXLS(data []byte) (grid [][]models.Cell, err error) {
	// The BIFF reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			grid, err = nil, fmt.Errorf("malformed xls file: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), l.config.XLSCharset)
	if err != nil {
		return nil, err
	}
	sheet := wb.GetSheet(l.config.SheetIndex)
	if sheet == nil {
		return nil, fmt.Errorf("workbook has no sheet %d", l.config.SheetIndex)
	}

	grid = make([][]models.Cell, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			grid = append(grid, nil)
			continue
		}
		cells := make([]models.Cell, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = textCell(row.Col(j))
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// readCSV reads delimited text. A UTF-8 byte order mark is dropped.
func (l *Loader) readCSV(data []byte) ([][]models.Cell, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file is not valid UTF-8 text")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.Comma = l.config.Delimiter
	if r.Comma == 0 {
		r.Comma = sniffDelimiter(data)
	}

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	grid := make([][]models.Cell, len(records))
	for i, rec := range records {
		cells := make([]models.Cell, len(rec))
		for j, v := range rec {
			cells[j] = textCell(v)
		}
		grid[i] = cells
	}
	return grid, nil
}
