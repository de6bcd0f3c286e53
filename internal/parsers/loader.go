// Package parsers loads uploaded spreadsheets (xlsx, legacy xls and csv) into
// untyped models.Table values. The first row is the header row.
package parsers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"neoexcelsync/internal/models"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Loader reads spreadsheets into tables.
type Loader struct {
	config *ParseConfig
	logger logger.Logger
}

// Source is one file to load: a path on disk or an in-memory upload.
type Source struct {
	// Name labels the resulting table in logs and errors, e.g. "Unity".
	Name string
	// Filename decides the format by extension.
	Filename string
	Path     string
	Data     []byte
}

// NewLoader creates a Loader with the given configuration
func NewLoader(config *ParseConfig) (*Loader, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", err.Error(), err)
	}

	log := logger.GetGlobalLogger().WithComponent("parsers")
	log.WithFields(logger.Fields{
		"sheet_index":   config.SheetIndex,
		"max_file_size": config.MaxFileSize,
	}).Debug("Created spreadsheet loader")

	return &Loader{config: config, logger: log}, nil
}

// LoadFile reads a spreadsheet from disk.
func (l *Loader) LoadFile(ctx context.Context, name, path string) (*models.Table, error) {
	return l.Load(ctx, Source{Name: name, Filename: filepath.Base(path), Path: path})
}

// Load reads one source.
func (l *Loader) Load(ctx context.Context, src Source) (*models.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := src.Data
	if data == nil {
		var err error
		data, err = l.readFile(src.Path)
		if err != nil {
			return nil, err
		}
	}
	if l.config.MaxFileSize > 0 && int64(len(data)) > l.config.MaxFileSize {
		return nil, errors.FileError(errors.CodeInvalidFormat, src.Filename, nil).
			WithSuggestion(fmt.Sprintf("files larger than %d bytes are rejected", l.config.MaxFileSize)).
			WithContext("size", len(data))
	}

	format, ok := DetectFormat(src.Filename)
	if !ok {
		return nil, errors.FileError(errors.CodeInvalidFormat, src.Filename, nil)
	}

	log := l.logger.WithFields(logger.Fields{
		"table":  src.Name,
		"file":   src.Filename,
		"format": format,
		"bytes":  len(data),
	})
	log.Debug("Loading spreadsheet")

	var (
		grid [][]models.Cell
		err  error
	)
	switch format {
	case FormatXLSX:
		grid, err = l.readXLSX(data)
	case FormatXLS:
		grid, err = l.readXLS(data)
	default:
		grid, err = l.readCSV(data)
	}
	if err != nil {
		log.WithError(err).Error("Failed to read spreadsheet")
		return nil, errors.FileError(errors.CodeFileCorrupted, src.Filename, err)
	}

	table := l.toTable(src.Name, grid)
	log.WithFields(logger.Fields{
		"rows":    table.Len(),
		"columns": len(table.Columns()),
	}).Info("Spreadsheet loaded")
	return table, nil
}

// LoadPair loads two sources concurrently. The first failure cancels the
// other load.
func (l *Loader) LoadPair(ctx context.Context, a, b Source) (*models.Table, *models.Table, error) {
	var ta, tb *models.Table
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ta, err = l.Load(gctx, a)
		return err
	})
	g.Go(func() error {
		var err error
		tb, err = l.Load(gctx, b)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ta, tb, nil
}

func (l *Loader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	return data, nil
}

// toTable turns the first row into headers. Blank headers become
// "Unnamed: N" and fully blank rows are skipped when configured.
func (l *Loader) toTable(name string, grid [][]models.Cell) *models.Table {
	if len(grid) == 0 {
		return models.NewTable(name, nil, nil)
	}

	header := grid[0]
	width := len(header)
	for _, row := range grid[1:] {
		if len(row) > width {
			width = len(row)
		}
	}

	columns := make([]string, width)
	for i := range columns {
		if i < len(header) {
			columns[i] = strings.TrimSpace(header[i].String())
		}
		if columns[i] == "" {
			columns[i] = fmt.Sprintf("Unnamed: %d", i)
		}
	}

	rows := make([][]models.Cell, 0, len(grid)-1)
	for _, row := range grid[1:] {
		if l.config.SkipEmptyRows && blank(row) {
			continue
		}
		rows = append(rows, row)
	}
	return models.NewTable(name, columns, rows)
}

func blank(row []models.Cell) bool {
	for _, c := range row {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

func textCell(s string) models.Cell {
	if strings.TrimSpace(s) == "" {
		return models.Empty()
	}
	return models.Text(s)
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}
