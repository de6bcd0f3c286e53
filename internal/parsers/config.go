package parsers

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a spreadsheet container.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

// DetectFormat maps a file name onto a Format by extension.
func DetectFormat(filename string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, true
	case ".xls":
		return FormatXLS, true
	case ".csv", ".txt":
		return FormatCSV, true
	default:
		return "", false
	}
}

// ParseConfig holds configuration for spreadsheet loading
type ParseConfig struct {
	// SheetIndex selects the worksheet of xlsx/xls workbooks.
	SheetIndex int `mapstructure:"sheet_index"`
	// Delimiter for CSV input; 0 sniffs ',' or ';' from the header line.
	Delimiter rune `mapstructure:"delimiter"`
	// MaxFileSize rejects larger inputs; 0 disables the check.
	MaxFileSize   int64 `mapstructure:"max_file_size"`
	SkipEmptyRows bool  `mapstructure:"skip_empty_rows"`
	// XLSCharset is passed to the legacy .xls reader.
	XLSCharset string `mapstructure:"xls_charset"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		SheetIndex:    0,
		Delimiter:     0,
		MaxFileSize:   200 << 20,
		SkipEmptyRows: true,
		XLSCharset:    "utf-8",
	}
}

// Validate checks if the parse configuration is valid
func (c *ParseConfig) Validate() error {
	if c.SheetIndex < 0 {
		return fmt.Errorf("sheet index cannot be negative")
	}
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max file size cannot be negative")
	}
	switch c.Delimiter {
	case 0, ',', ';', '\t', '|':
	default:
		return fmt.Errorf("unsupported CSV delimiter %q", c.Delimiter)
	}
	return nil
}
