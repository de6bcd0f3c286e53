// Package reporter renders compare bundles and tool summaries for the
// terminal and for downstream scripts.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the bundle as served by the HTTP API
//   - CSV: every flagged and unmatched row, one section column first
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = gen.GenerateReport(bundle, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/pkg/errors"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// SectionColumn is the first column of a CSV report.
const SectionColumn = "Section"

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeMatches bool `json:"include_matches"`
	IncludeStats   bool `json:"include_stats"`

	// MaxRows caps every row listing of the console report; 0 lists nothing.
	MaxRows int `json:"max_rows"`

	// AmountColumn is summed for the tenge totals of the flagged sections.
	AmountColumn string `json:"amount_column"`
	Currency     string `json:"currency"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeMatches: false,
		IncludeStats:   true,
		MaxRows:        10,
		AmountColumn:   "Сумма тг",
		Currency:       money.KZT,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", c.Format, nil).
			WithSuggestion("Use one of: console, json, csv")
	}
	if c.MaxRows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_rows", c.MaxRows, nil)
	}
	if money.GetCurrency(c.Currency) == nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "currency", c.Currency, nil)
	}
	return nil
}

// ReportGenerator generates reports in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator. A nil config means defaults.
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.Currency == "" {
		config.Currency = money.KZT
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a compare bundle to writer.
func (rg *ReportGenerator) GenerateReport(bundle *reconciler.Bundle, writer io.Writer) error {
	if bundle == nil {
		return errors.ValidationError(errors.CodeMissingField, "bundle", nil, nil)
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(bundle, writer)
	case FormatJSON:
		return rg.generateJSONReport(bundle, writer)
	case FormatCSV:
		return rg.generateCSVReport(bundle, writer)
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output_format", rg.config.Format, nil)
	}
}

// WriteTable writes a single tool summary in the configured format.
func (rg *ReportGenerator) WriteTable(t *models.Table, writer io.Writer) error {
	switch rg.config.Format {
	case FormatJSON:
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"columns": t.Columns(),
			"summary": t,
		})
	case FormatCSV:
		w := csv.NewWriter(writer)
		w.Comma = rg.config.CSVDelimiter
		if rg.config.CSVHeaders {
			if err := w.Write(t.Columns()); err != nil {
				return err
			}
		}
		for _, r := range t.Rows() {
			if err := w.Write(cellStrings(r.Values())); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	default:
		fmt.Fprintf(writer, "=== %s (%d) ===\n", strings.ToUpper(t.Name()), t.Len())
		printTable(writer, t, -1)
		return nil
	}
}

func (rg *ReportGenerator) generateConsoleReport(b *reconciler.Bundle, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	if b.Stats != nil {
		fmt.Fprintf(writer, "Files: %s / %s\n", b.Stats.File1, b.Stats.File2)
		fmt.Fprintf(writer, "Processing Duration: %v\n", b.Stats.Duration)
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rows1 := b.Matches.Len() + b.Unmatched1.Len()
	fmt.Fprintf(writer, "File 1 rows:     %d\n", rows1)
	fmt.Fprintf(writer, "  Matched:       %d (%.1f%%)\n", b.Matches.Len(), percentage(b.Matches.Len(), rows1))
	fmt.Fprintf(writer, "  Unmatched:     %d\n", b.Unmatched1.Len())
	fmt.Fprintf(writer, "File 2 unmatched: %d\n", b.Unmatched2.Len())
	if len(b.FoundOverlaps) > 0 {
		fmt.Fprintf(writer, "Overlap accounts excluded: %s\n", strings.Join(b.FoundOverlaps, ", "))
	}
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== ACCOUNTS ===\n")
	rg.printAccounts(b.Summary1, b.Summary2, writer)
	fmt.Fprintf(writer, "\n")

	rg.printFlagged(writer, "PODFT DEALS", b.PODFT)
	rg.printFlagged(writer, "BO DEALS", b.BO)
	rg.printFlagged(writer, "CRYPTO DEALS", b.Crypto)

	if b.Duplicates1.Len() > 0 || b.Duplicates2.Len() > 0 {
		fmt.Fprintf(writer, "=== DUPLICATE IDS ===\n")
		fmt.Fprintf(writer, "File 1: %d rows\n", b.Duplicates1.Len())
		fmt.Fprintf(writer, "File 2: %d rows\n\n", b.Duplicates2.Len())
	}

	if b.Unmatched1.Len() > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED IN FILE 1 ===\n")
		printTable(writer, b.Unmatched1, rg.config.MaxRows)
		fmt.Fprintf(writer, "\n")
	}
	if b.Unmatched2.Len() > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED IN FILE 2 ===\n")
		printTable(writer, b.Unmatched2, rg.config.MaxRows)
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludeStats && b.Stats != nil {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		fmt.Fprintf(writer, "Rows loaded:          %d / %d\n", b.Stats.RowsFile1, b.Stats.RowsFile2)
		fmt.Fprintf(writer, "Empty IDs dropped:    %d / %d\n", b.Stats.DroppedEmptyID1, b.Stats.DroppedEmptyID2)
		fmt.Fprintf(writer, "Working rows:         %d / %d\n", b.Stats.WorkingRows1, b.Stats.WorkingRows2)
		for _, s := range b.Stats.Steps {
			fmt.Fprintf(writer, "  %-16s %6d rows  %v\n", s.Step, s.Rows, s.Duration)
		}
	}
	return nil
}

func (rg *ReportGenerator) printAccounts(s1, s2 models.AccountSummary, writer io.Writer) {
	accounts := map[string]struct{}{}
	for _, c := range s1 {
		accounts[c.Account] = struct{}{}
	}
	for _, c := range s2 {
		accounts[c.Account] = struct{}{}
	}
	if len(accounts) == 0 {
		fmt.Fprintf(writer, "No account data\n")
		return
	}
	keys := make([]string, 0, len(accounts))
	for k := range accounts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(writer, "%-16s %8s %8s\n", "Account", "File 1", "File 2")
	for _, acc := range keys {
		n1, n2 := s1.Lookup(acc), s2.Lookup(acc)
		mark := ""
		if n1 != n2 {
			mark = "  *"
		}
		name := acc
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(writer, "%-16s %8d %8d%s\n", name, n1, n2, mark)
	}
}

func (rg *ReportGenerator) printFlagged(writer io.Writer, title string, t *models.Table) {
	fmt.Fprintf(writer, "=== %s ===\n", title)
	fmt.Fprintf(writer, "Deals: %d\n", t.Len())
	if total, ok := FlaggedTotal(t, rg.config.AmountColumn); ok {
		fmt.Fprintf(writer, "Total: %s\n", FormatMoney(total, rg.config.Currency))
	}
	fmt.Fprintf(writer, "\n")
}

func (rg *ReportGenerator) generateJSONReport(b *reconciler.Bundle, writer io.Writer) error {
	output := map[string]interface{}{
		"unmatched1":         b.Unmatched1,
		"unmatched2":         b.Unmatched2,
		"summary1":           b.Summary1,
		"summary2":           b.Summary2,
		"podft_7m_deals":     b.PODFT,
		"podft_45m_bo_deals": b.BO,
		"crypto_deals":       b.Crypto,
		"duplicates1":        b.Duplicates1,
		"duplicates2":        b.Duplicates2,
		"found_overlaps":     b.FoundOverlaps,
		"status":             b.Status,
	}
	if rg.config.IncludeMatches {
		output["matches"] = b.Matches
	}
	if rg.config.IncludeStats && b.Stats != nil {
		output["stats"] = b.Stats
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// generateCSVReport writes every listed row under the union of all columns,
// prefixed with the section it belongs to.
func (rg *ReportGenerator) generateCSVReport(b *reconciler.Bundle, writer io.Writer) error {
	sections := []struct {
		name  string
		table *models.Table
	}{
		{"unmatched1", b.Unmatched1},
		{"unmatched2", b.Unmatched2},
		{"podft", b.PODFT},
		{"bo", b.BO},
		{"crypto", b.Crypto},
		{"duplicates1", b.Duplicates1},
		{"duplicates2", b.Duplicates2},
	}
	if rg.config.IncludeMatches {
		sections = append([]struct {
			name  string
			table *models.Table
		}{{"matches", b.Matches}}, sections...)
	}

	var columns []string
	seen := map[string]bool{}
	for _, s := range sections {
		for _, c := range s.table.Columns() {
			if !seen[c] {
				seen[c] = true
				columns = append(columns, c)
			}
		}
	}

	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(append([]string{SectionColumn}, columns...)); err != nil {
			return errors.InternalError(errors.CodeProcessingError, "write_csv_headers", err)
		}
	}
	for _, s := range sections {
		for _, r := range s.table.Rows() {
			record := make([]string, 0, len(columns)+1)
			record = append(record, s.name)
			for _, c := range columns {
				record = append(record, r.Get(c).String())
			}
			if err := csvWriter.Write(record); err != nil {
				return errors.InternalError(errors.CodeProcessingError, "write_csv_record", err)
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// FlaggedTotal sums the parseable amounts of column. It reports false when
// the table has no such column.
func FlaggedTotal(t *models.Table, column string) (decimal.Decimal, bool) {
	col, err := t.Column(column)
	if err != nil {
		return decimal.Zero, false
	}
	total := decimal.Zero
	for _, r := range t.Rows() {
		if v, ok := normalize.ParseAmount(r.Value(col)); ok {
			total = total.Add(decimal.NewFromFloat(v))
		}
	}
	return total, true
}

// FormatMoney displays an amount in the given currency, rounded to its minor unit.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), currency).Display()
}

func printTable(writer io.Writer, t *models.Table, limit int) {
	fmt.Fprintf(writer, "%s\n", strings.Join(t.Columns(), " | "))
	for i, r := range t.Rows() {
		if limit >= 0 && i >= limit {
			fmt.Fprintf(writer, "... and %d more\n", t.Len()-limit)
			break
		}
		fmt.Fprintf(writer, "%s\n", strings.Join(cellStrings(r.Values()), " | "))
	}
}

func cellStrings(cells []models.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = c.String()
	}
	return out
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
