// Package splits flags daily deals in securities that appear on a reference
// list of ISINs affected by a stock split.
package splits

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Report columns.
const (
	ISINColumn     = "ISIN"
	AccountColumn  = "Счет"
	QuantityColumn = "Количество"
	SecurityColumn = "Полное название ЦБ"
)

// MatchedISINColumn holds the extracted ISIN on the rows returned by Detect.
// It is renamed to ISINColumn in the report, so a daily file with its own
// "ISIN" column keeps it.
const MatchedISINColumn = "__split_isin"

var isinPrefix = regexp.MustCompile(`^([A-Z0-9]+)`)

// Settings configures a split check.
type Settings struct {
	Enabled        bool   `json:"split_check_enabled" yaml:"split_check_enabled"`
	ListPath       string `json:"split_list_path" yaml:"split_list_path"`
	ISINColumn     string `json:"split_list_isin_col" yaml:"split_list_isin_col"`
	SecurityColumn string `json:"daily_file_security_col" yaml:"daily_file_security_col"`
	AccountColumn  string `json:"default_acc_name_ais" yaml:"default_acc_name_ais"`
	QuantityColumn string `json:"split_daily_qty_col" yaml:"split_daily_qty_col"`
}

// Validate checks that every setting of an enabled check is filled in. The
// error names the first missing setting and lists all of them.
func (s Settings) Validate() error {
	required := []struct{ key, value string }{
		{"split_list_path", s.ListPath},
		{"split_list_isin_col", s.ISINColumn},
		{"daily_file_security_col", s.SecurityColumn},
		{"default_acc_name_ais", s.AccountColumn},
		{"split_daily_qty_col", s.QuantityColumn},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.ConfigurationError(errors.CodeMissingConfig, missing[0], "", nil).
		WithSuggestion("split checking is enabled; fill in the split list path and columns in the settings").
		WithContext("missing", missing)
}

// Detect returns the rows of daily whose security cell starts with an ISIN of
// the reference set, with the extracted ISIN appended as MatchedISINColumn.
func Detect(daily *models.Table, securityColumn string, isins []string) (*models.Table, error) {
	col, err := daily.Column(securityColumn)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(isins))
	for _, isin := range isins {
		if isin != "" {
			set[isin] = struct{}{}
		}
	}

	var positions []int
	var tokens []models.Cell
	for _, row := range daily.Rows() {
		cell := row.Value(col)
		if cell.IsEmpty() {
			continue
		}
		m := isinPrefix.FindStringSubmatch(cell.String())
		if m == nil {
			continue
		}
		if _, hit := set[m[1]]; hit {
			positions = append(positions, row.Index())
			tokens = append(tokens, models.Text(m[1]))
		}
	}
	return daily.Select(positions).WithColumn(MatchedISINColumn, tokens), nil
}

// Detector runs split checks against files on disk.
type Detector struct {
	loader *parsers.Loader
	logger logger.Logger
}

// NewDetector creates a Detector reading files with loader.
func NewDetector(loader *parsers.Loader) *Detector {
	return &Detector{
		loader: loader,
		logger: logger.GetGlobalLogger().WithComponent("splits"),
	}
}

// Check loads the reference list and the daily file and reports the split
// candidates with the ISIN, account, quantity and security columns. A
// disabled check returns an empty report.
func (d *Detector) Check(ctx context.Context, dailyPath string, s Settings) (*models.Table, error) {
	if !s.Enabled {
		return emptyReport(), nil
	}
	if err := s.Validate(); err != nil {
		d.logger.WithError(err).Warn("Split check is not configured")
		return nil, err
	}
	for _, path := range []string{s.ListPath, dailyPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
	}

	ref, daily, err := d.loader.LoadPair(ctx,
		parsers.Source{Name: "split list", Filename: filepath.Base(s.ListPath), Path: s.ListPath},
		parsers.Source{Name: "daily file", Filename: filepath.Base(dailyPath), Path: dailyPath},
	)
	if err != nil {
		return nil, err
	}

	isinCol, err := ref.Column(s.ISINColumn)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range []string{s.SecurityColumn, s.AccountColumn, s.QuantityColumn} {
		if !daily.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, errors.MissingColumnError(missing[0], daily.Name(), daily.Columns()).
			WithContext("missing", missing)
	}

	var isins []string
	for _, row := range ref.Rows() {
		if cell := row.Value(isinCol); !cell.IsEmpty() {
			isins = append(isins, cell.String())
		}
	}

	hits, err := Detect(daily, s.SecurityColumn, isins)
	if err != nil {
		return nil, err
	}

	report := make([][]models.Cell, hits.Len())
	for i, row := range hits.Rows() {
		report[i] = []models.Cell{
			row.Get(MatchedISINColumn),
			row.Get(s.AccountColumn),
			row.Get(s.QuantityColumn),
			row.Get(s.SecurityColumn),
		}
	}

	d.logger.WithFields(logger.Fields{
		"reference_isins": len(isins),
		"daily_rows":      daily.Len(),
		"splits":          len(report),
	}).Info("Split check complete")

	return models.NewTable("splits", reportColumns(), report), nil
}

func reportColumns() []string {
	return []string{ISINColumn, AccountColumn, QuantityColumn, SecurityColumn}
}

func emptyReport() *models.Table {
	return models.NewTable("splits", reportColumns(), nil)
}
