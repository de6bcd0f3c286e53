// Package exporter renders compare bundles and tool summaries as styled XLSX
// workbooks.
//
// The compare workbook holds one sheet per result table. Account headers are
// filled blue, summary rows whose counts differ are filled yellow, and the
// PODFT and crypto sheets highlight the deals whose value date differs from
// the most common one.
package exporter

import (
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"neoexcelsync/internal/filters"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Download names of the generated workbooks.
const (
	BundleFilename              = "Sverka_Report.xlsx"
	DuplicatesFilename          = "duplicates_export.xlsx"
	InstrumentDirectionFilename = "export_instrument_direction.xlsx"
	AmountPaperFilename         = "export_amount_paper_two_files.xlsx"
)

// Sheet names of the compare workbook.
const (
	SheetMatches     = "Совпадения"
	SheetUnmatched1  = "Расхождения_Unity"
	SheetUnmatched2  = "Расхождения_АИС"
	SheetSummary     = "Сводка"
	SheetDuplicates1 = "Задвоения_Unity"
	SheetDuplicates2 = "Задвоения_АИС"
	SheetPODFT       = "ПОДФТ"
	SheetCrypto      = "КРИПТО"
)

const (
	headerFillColor   = "DDEBF7"
	mismatchFillColor = "FFFF00"
	maxSheetName      = 31
)

// Config holds the styling options of the exporter.
type Config struct {
	// HighlightHeaders are filled blue wherever they head a column.
	HighlightHeaders []string
	// DateColumn drives the per-date counts and the off-majority highlight.
	DateColumn string
	// AmountColumn and CryptoMinAmount select the rows of the crypto sheet.
	AmountColumn    string
	CryptoMinAmount float64
	MaxColumnWidth  float64
}

// DefaultConfig returns the exporter defaults
func DefaultConfig() *Config {
	return &Config{
		HighlightHeaders: []string{"Account", "Субсчет в учетной организации"},
		DateColumn:       "Дата валютирования",
		AmountColumn:     filters.DefaultSumColumn,
		CryptoMinAmount:  filters.DefaultCryptoMinAmount,
		MaxColumnWidth:   100,
	}
}

// Validate validates the exporter configuration
func (c *Config) Validate() error {
	if c.MaxColumnWidth <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_column_width", c.MaxColumnWidth, nil)
	}
	if c.CryptoMinAmount < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "crypto_min_amount", c.CryptoMinAmount, nil)
	}
	return nil
}

// Sheet is one named table of a plain workbook.
type Sheet struct {
	Name  string
	Table *models.Table
}

// Exporter builds XLSX workbooks
type Exporter struct {
	config *Config
	logger logger.Logger
}

// NewExporter creates an exporter. A nil config means defaults.
func NewExporter(config *Config) (*Exporter, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Exporter{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("exporter"),
	}, nil
}

// Bundle renders the compare workbook.
func (e *Exporter) Bundle(b *reconciler.Bundle) ([]byte, error) {
	if b == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "bundle", nil, nil).
			WithSuggestion("Nothing to export, run a comparison first")
	}

	wb, err := e.newWorkbook()
	if err != nil {
		return nil, err
	}
	defer wb.close()

	for _, s := range []Sheet{
		{SheetMatches, b.Matches},
		{SheetUnmatched1, b.Unmatched1},
		{SheetUnmatched2, b.Unmatched2},
	} {
		if err := wb.dataSheet(s.Name, s.Table); err != nil {
			return nil, err
		}
	}

	if len(b.Summary1) > 0 || len(b.Summary2) > 0 {
		if err := wb.summarySheet(b.Summary1, b.Summary2); err != nil {
			return nil, err
		}
	}

	if b.Duplicates1.Len() > 0 {
		if err := wb.dataSheet(SheetDuplicates1, b.Duplicates1); err != nil {
			return nil, err
		}
	}
	if b.Duplicates2.Len() > 0 {
		if err := wb.dataSheet(SheetDuplicates2, b.Duplicates2); err != nil {
			return nil, err
		}
	}

	if err := wb.podftSheet(b.PODFT, b.BO); err != nil {
		return nil, err
	}
	if err := wb.cryptoSheet(b.Crypto); err != nil {
		return nil, err
	}

	data, err := wb.bytes()
	if err != nil {
		return nil, err
	}
	e.logger.WithFields(logger.Fields{
		"sheets": wb.count,
		"bytes":  len(data),
	}).Info("Compare workbook exported")
	return data, nil
}

// Sheets renders a plain workbook with one autofiltered sheet per table.
func (e *Exporter) Sheets(sheets ...Sheet) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "sheets", nil, nil)
	}
	wb, err := e.newWorkbook()
	if err != nil {
		return nil, err
	}
	defer wb.close()

	for _, s := range sheets {
		if err := wb.dataSheet(s.Name, s.Table); err != nil {
			return nil, err
		}
	}
	return wb.bytes()
}

// Duplicates renders the duplicate finder workbook: the qualifying groups
// and, when there are any, the rows that make them up.
func (e *Exporter) Duplicates(r *matcher.DuplicateReport) ([]byte, error) {
	sheets := []Sheet{{"DuplicatesSummary", r.Summary()}}
	if len(r.Groups) > 0 {
		sheets = append(sheets, Sheet{"DuplicatedRows", r.Rows})
	}
	return e.Sheets(sheets...)
}

// Summary renders a tool summary on a single "Summary" sheet.
func (e *Exporter) Summary(t *models.Table) ([]byte, error) {
	return e.Sheets(Sheet{"Summary", t})
}

type workbook struct {
	f      *excelize.File
	config *Config
	count  int

	headerStyle   int
	mismatchStyle int
	boldStyle     int
}

func (e *Exporter) newWorkbook() (*workbook, error) {
	f := excelize.NewFile()
	wb := &workbook{f: f, config: e.config}

	var err error
	if wb.headerStyle, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{headerFillColor}, Pattern: 1},
	}); err != nil {
		return nil, exportError(err)
	}
	if wb.mismatchStyle, err = f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{mismatchFillColor}, Pattern: 1},
	}); err != nil {
		return nil, exportError(err)
	}
	if wb.boldStyle, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return nil, exportError(err)
	}
	return wb, nil
}

func (wb *workbook) close() { _ = wb.f.Close() }

func (wb *workbook) bytes() ([]byte, error) {
	buf, err := wb.f.WriteToBuffer()
	if err != nil {
		return nil, exportError(err)
	}
	return buf.Bytes(), nil
}

// sheet returns a new sheet, reusing the default sheet of the file first.
func (wb *workbook) sheet(name string) (*sheet, error) {
	if utf8.RuneCountInString(name) > maxSheetName {
		name = string([]rune(name)[:maxSheetName])
	}
	if wb.count == 0 {
		if err := wb.f.SetSheetName(wb.f.GetSheetName(0), name); err != nil {
			return nil, exportError(err)
		}
	} else if _, err := wb.f.NewSheet(name); err != nil {
		return nil, exportError(err)
	}
	wb.count++
	return &sheet{wb: wb, name: name, widths: map[int]int{}}, nil
}

func (wb *workbook) dataSheet(name string, t *models.Table) error {
	s, err := wb.sheet(name)
	if err != nil {
		return err
	}
	if _, err := s.writeTable(t, 1, true); err != nil {
		return err
	}
	return s.finish()
}

func (wb *workbook) summarySheet(s1, s2 models.AccountSummary) error {
	s, err := wb.sheet(SheetSummary)
	if err != nil {
		return err
	}

	accounts := map[string]struct{}{}
	for _, c := range s1 {
		accounts[c.Account] = struct{}{}
	}
	for _, c := range s2 {
		accounts[c.Account] = struct{}{}
	}
	keys := make([]string, 0, len(accounts))
	for k := range accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]models.Cell, len(keys))
	for i, acc := range keys {
		rows[i] = []models.Cell{
			models.Text(acc),
			models.Number(float64(s1.Lookup(acc))),
			models.Number(float64(s2.Lookup(acc))),
		}
	}
	t := models.NewTable(SheetSummary, []string{"", "Unity", "АИС"}, rows)
	if _, err := s.writeTable(t, 1, false); err != nil {
		return err
	}

	for i, acc := range keys {
		if s1.Lookup(acc) != s2.Lookup(acc) {
			if err := s.fillRow(i+2, len(t.Columns()), wb.mismatchStyle); err != nil {
				return err
			}
		}
	}
	return s.finish()
}

// podftSheet writes the PODFT deals followed by the BO section.
func (wb *workbook) podftSheet(podft, bo *models.Table) error {
	s, err := wb.sheet(SheetPODFT)
	if err != nil {
		return err
	}

	counts, err := s.flaggedTable(podft, 1, true)
	if err != nil {
		return err
	}
	row := s.last + 2
	if err := s.line(row, 1, "Общее количество (>= 7M): "+strconv.Itoa(podft.Len()), true); err != nil {
		return err
	}
	s.last = row
	if err := s.dateCounts(counts, row+2, "Количество по датам (>= 7M):"); err != nil {
		return err
	}

	sep := s.last + 3
	if err := s.line(sep, 1, "--- ПОДФТ: БОНДЫ И ОПЦИОНЫ (>= 45 000 000) ---", true); err != nil {
		return err
	}
	s.last = sep

	if bo.Len() == 0 {
		if err := s.line(sep+2, 1, "Сделок по Бондам и Опционам (>= 45М) не найдено.", false); err != nil {
			return err
		}
		return s.finish()
	}

	counts, err = s.flaggedTable(bo, sep+2, false)
	if err != nil {
		return err
	}
	row = s.last + 2
	if err := s.line(row, 1, "Общее количество (Бонды/Опционы): "+strconv.Itoa(bo.Len()), true); err != nil {
		return err
	}
	s.last = row
	if err := s.dateCounts(counts, row+2, "Количество по датам (Бонды/Опционы):"); err != nil {
		return err
	}
	return s.finish()
}

// cryptoSheet writes the crypto deals at or above the minimum amount.
func (wb *workbook) cryptoSheet(crypto *models.Table) error {
	s, err := wb.sheet(SheetCrypto)
	if err != nil {
		return err
	}

	var high *models.Table
	if col, err := crypto.Column(wb.config.AmountColumn); err == nil {
		high = crypto.Filter(func(r models.Row) bool {
			v, ok := normalize.ParseAmount(r.Value(col))
			return ok && normalize.AtLeast(v, wb.config.CryptoMinAmount)
		})
	} else {
		high = models.NewTable(crypto.Name(), crypto.Columns(), nil)
	}

	counts, err := s.flaggedTable(high, 1, true)
	if err != nil {
		return err
	}
	row := s.last + 2
	if err := s.line(row, 1, "Количество: "+strconv.Itoa(high.Len()), true); err != nil {
		return err
	}
	if err := s.line(row, 2, "КРИПТО СДЕЛКИ >= 5 000 000 тг", true); err != nil {
		return err
	}
	s.last = row
	if err := s.dateCounts(counts, row+2, "Количество по датам:"); err != nil {
		return err
	}
	return s.finish()
}

type sheet struct {
	wb     *workbook
	name   string
	widths map[int]int
	last   int
}

// writeTable writes t with its header at startRow and returns the header
// row. Highlight headers are filled blue.
func (s *sheet) writeTable(t *models.Table, startRow int, autofilter bool) (int, error) {
	cols := t.Columns()
	if len(cols) == 0 {
		return startRow, nil
	}

	for i, name := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, startRow)
		if err := s.wb.f.SetCellValue(s.name, cell, name); err != nil {
			return 0, exportError(err)
		}
		s.measure(i+1, name)
		if s.highlighted(name) {
			if err := s.wb.f.SetCellStyle(s.name, cell, cell, s.wb.headerStyle); err != nil {
				return 0, exportError(err)
			}
		}
	}

	for r, row := range t.Rows() {
		for i, c := range row.Values() {
			if c.IsEmpty() {
				continue
			}
			cell, _ := excelize.CoordinatesToCellName(i+1, startRow+1+r)
			if err := s.wb.f.SetCellValue(s.name, cell, cellValue(c)); err != nil {
				return 0, exportError(err)
			}
			s.measure(i+1, c.String())
		}
	}

	s.last = startRow + t.Len()
	if autofilter && t.Len() > 0 {
		first, _ := excelize.CoordinatesToCellName(1, startRow)
		last, _ := excelize.CoordinatesToCellName(len(cols), s.last)
		if err := s.wb.f.AutoFilter(s.name, first+":"+last, nil); err != nil {
			return 0, exportError(err)
		}
	}
	return startRow, nil
}

// flaggedTable writes t and fills yellow every row whose value date differs
// from the most common one. It returns the per-date counts.
func (s *sheet) flaggedTable(t *models.Table, startRow int, autofilter bool) ([]DateCount, error) {
	header, err := s.writeTable(t, startRow, autofilter)
	if err != nil {
		return nil, err
	}
	counts := CountDates(t, s.wb.config.DateColumn)
	if len(counts) < 2 {
		return counts, nil
	}

	majority := counts[0].Date
	col, _ := t.Column(s.wb.config.DateColumn)
	for i, row := range t.Rows() {
		d, ok := cellDate(row.Value(col))
		if ok && !d.Equal(majority) {
			if err := s.fillRow(header+1+i, len(t.Columns()), s.wb.mismatchStyle); err != nil {
				return nil, err
			}
		}
	}
	return counts, nil
}

func (s *sheet) dateCounts(counts []DateCount, row int, title string) error {
	if len(counts) == 0 {
		return nil
	}
	if err := s.line(row, 1, title, true); err != nil {
		return err
	}
	for i, c := range counts {
		r := row + 1 + i
		a, _ := excelize.CoordinatesToCellName(1, r)
		b, _ := excelize.CoordinatesToCellName(2, r)
		if err := s.wb.f.SetCellValue(s.name, a, c.Date.Format("2006-01-02")); err != nil {
			return exportError(err)
		}
		if err := s.wb.f.SetCellValue(s.name, b, c.Count); err != nil {
			return exportError(err)
		}
		s.last = r
	}
	return nil
}

func (s *sheet) line(row, col int, text string, bold bool) error {
	cell, _ := excelize.CoordinatesToCellName(col, row)
	if err := s.wb.f.SetCellValue(s.name, cell, text); err != nil {
		return exportError(err)
	}
	if bold {
		if err := s.wb.f.SetCellStyle(s.name, cell, cell, s.wb.boldStyle); err != nil {
			return exportError(err)
		}
	}
	return nil
}

func (s *sheet) fillRow(row, width, style int) error {
	first, _ := excelize.CoordinatesToCellName(1, row)
	last, _ := excelize.CoordinatesToCellName(width, row)
	if err := s.wb.f.SetCellStyle(s.name, first, last, style); err != nil {
		return exportError(err)
	}
	return nil
}

func (s *sheet) highlighted(header string) bool {
	for _, h := range s.wb.config.HighlightHeaders {
		if h == header {
			return true
		}
	}
	return false
}

func (s *sheet) measure(col int, text string) {
	if n := utf8.RuneCountInString(text); n > s.widths[col] {
		s.widths[col] = n
	}
}

// finish sets every measured column to its content width plus padding,
// capped at MaxColumnWidth.
func (s *sheet) finish() error {
	for col, n := range s.widths {
		width := float64(n + 2)
		if width > s.wb.config.MaxColumnWidth {
			width = s.wb.config.MaxColumnWidth
		}
		name, _ := excelize.ColumnNumberToName(col)
		if err := s.wb.f.SetColWidth(s.name, name, name, width); err != nil {
			return exportError(err)
		}
	}
	return nil
}

// DateCount is the number of deals on one value date.
type DateCount struct {
	Date  time.Time
	Count int
}

// CountDates counts rows per calendar date of column, most frequent first,
// ties by date. Rows whose date cannot be read are not counted.
func CountDates(t *models.Table, column string) []DateCount {
	col, err := t.Column(column)
	if err != nil {
		return nil
	}
	byDate := map[time.Time]int{}
	for _, row := range t.Rows() {
		if d, ok := cellDate(row.Value(col)); ok {
			byDate[d]++
		}
	}
	out := make([]DateCount, 0, len(byDate))
	for d, n := range byDate {
		out = append(out, DateCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

var dateLayouts = []string{
	models.DateLayout,
	"2006-01-02",
	"2006-01-02T15:04:05",
	"02.01.2006",
	"02.01.2006 15:04:05",
	"01/02/2006",
}

// cellDate returns the calendar date of a date cell or of a date string.
func cellDate(c models.Cell) (time.Time, bool) {
	if t, ok := c.Time(); ok {
		return truncateDay(t), true
	}
	if c.Kind() != models.KindString {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, c.String()); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// cellValue maps a cell onto an excelize value. Dates are written as text so
// that row fills do not replace their number format.
func cellValue(c models.Cell) interface{} {
	switch c.Kind() {
	case models.KindNumber:
		f, _ := c.Float()
		return f
	case models.KindDate:
		t, _ := c.Time()
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(models.DateLayout)
	default:
		return c.String()
	}
}

func exportError(err error) error {
	return errors.InternalError(errors.CodeProcessingError, "xlsx_export", err).
		WithSuggestion("Check the exported tables for unsupported values")
}
