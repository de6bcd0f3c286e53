// Package reconciler runs the compare pipeline over two uploaded exports and
// the single-purpose reconcile tools.
//
// The compare pipeline runs in a fixed order. Duplicate IDs, crypto and BO
// deals are found on the tables as loaded; the overlap accounts are then
// removed and PODFT and the ID reconciliation run on what is left.
//
//	svc, _ := reconciler.NewReconciliationService(loader, cfg)
//	bundle, err := svc.Compare(ctx, &reconciler.CompareRequest{
//		File1:   parsers.Source{Name: "Unity", Filename: "unity.xlsx", Path: p1},
//		File2:   parsers.Source{Name: "AIS", Filename: "ais.xlsx", Path: p2},
//		Columns: cols,
//	})
package reconciler

import (
	"context"
	"sync"
	"time"

	"neoexcelsync/internal/filters"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/internal/settings"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Config holds the filter settings of the compare pipeline.
type Config struct {
	PODFT filters.ThresholdConfig

	BOEnabled bool
	// BO carries the prefix and amount settings; its ID columns are taken
	// from each request.
	BO filters.CrossReferenceConfig

	Crypto          filters.CryptoConfig
	OverlapAccounts []string
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() *Config {
	return &Config{
		PODFT:     filters.DefaultThresholdConfig(),
		BOEnabled: true,
		BO:        filters.DefaultCrossReferenceConfig(),
		Crypto:    filters.DefaultCryptoConfig(),
	}
}

// ConfigFromSettings converts operator settings into a pipeline Config.
// Unparseable thresholds are configuration errors.
func ConfigFromSettings(s *settings.Settings) (*Config, error) {
	podft, err := s.PODFTConfig()
	if err != nil {
		return nil, err
	}
	bo, err := s.BOConfig("", "")
	if err != nil {
		return nil, err
	}
	crypto, err := s.CryptoConfig()
	if err != nil {
		return nil, err
	}
	return &Config{
		PODFT:           podft,
		BOEnabled:       s.BOEnabled,
		BO:              bo,
		Crypto:          crypto,
		OverlapAccounts: s.Accounts(),
	}, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return c.PODFT.Validate()
}

// CompareRequest names the two files of a comparison and their key columns.
type CompareRequest struct {
	File1   parsers.Source
	File2   parsers.Source
	Columns matcher.ReconcileColumns
}

// Validate validates the compare request
func (r *CompareRequest) Validate() error {
	if r.File1.Path == "" && r.File1.Data == nil {
		return errors.ValidationError(errors.CodeMissingField, "file1", nil, nil)
	}
	if r.File2.Path == "" && r.File2.Data == nil {
		return errors.ValidationError(errors.CodeMissingField, "file2", nil, nil)
	}
	return r.Columns.Validate()
}

// Bundle is the full result of a comparison.
type Bundle struct {
	Matches    *models.Table         `json:"matches"`
	Unmatched1 *models.Table         `json:"unmatched1"`
	Unmatched2 *models.Table         `json:"unmatched2"`
	Summary1   models.AccountSummary `json:"summary1"`
	Summary2   models.AccountSummary `json:"summary2"`

	PODFT  *models.Table `json:"podft_7m_deals"`
	BO     *models.Table `json:"podft_45m_bo_deals"`
	Crypto *models.Table `json:"crypto_deals"`

	Duplicates1 *models.Table `json:"duplicates1"`
	Duplicates2 *models.Table `json:"duplicates2"`

	FoundOverlaps []string         `json:"found_overlaps"`
	Stats         *ProcessingStats `json:"stats,omitempty"`
	Status        string           `json:"status"`
}

// ProcessingStats contains the row counts and timings of one comparison.
type ProcessingStats struct {
	File1           string              `json:"file1"`
	File2           string              `json:"file2"`
	RowsFile1       int                 `json:"rows_file1"`
	RowsFile2       int                 `json:"rows_file2"`
	WorkingRows1    int                 `json:"working_rows_file1"`
	WorkingRows2    int                 `json:"working_rows_file2"`
	DroppedEmptyID1 int                 `json:"dropped_empty_id_file1"`
	DroppedEmptyID2 int                 `json:"dropped_empty_id_file2"`
	Duration        time.Duration       `json:"duration"`
	Steps           []logger.StepTiming `json:"steps"`
}

// ReconciliationService loads files and runs the compare pipeline and tools.
type ReconciliationService struct {
	loader *parsers.Loader
	config *Config
	logger logger.Logger

	callbacks []ProgressCallback
	mu        sync.RWMutex
	lastStats *ProcessingStats
}

// NewReconciliationService creates a service. A nil config means defaults.
func NewReconciliationService(loader *parsers.Loader, config *Config) (*ReconciliationService, error) {
	if loader == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "loader", nil, nil).
			WithSuggestion("Provide a spreadsheet loader")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &ReconciliationService{
		loader: loader,
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// WithConfig returns a service sharing the loader and callbacks but running
// with another pipeline configuration, e.g. the settings of one request.
func (rs *ReconciliationService) WithConfig(config *Config) (*ReconciliationService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rs.mu.RLock()
	callbacks := append([]ProgressCallback(nil), rs.callbacks...)
	rs.mu.RUnlock()
	return &ReconciliationService{
		loader:    rs.loader,
		config:    config,
		logger:    rs.logger,
		callbacks: callbacks,
	}, nil
}

// Compare loads both files concurrently and runs the pipeline.
func (rs *ReconciliationService) Compare(ctx context.Context, req *CompareRequest) (*Bundle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	op := logger.NewOperationLogger("compare", rs.logger).
		WithField("file1", label(req.File1)).
		WithField("file2", label(req.File2))

	a, b, err := rs.loader.LoadPair(ctx, req.File1, req.File2)
	if err != nil {
		op.Error(err, "Failed to load input files")
		return nil, err
	}

	bundle, err := rs.Run(a, label(req.File1), b, label(req.File2), req.Columns)
	if err != nil {
		op.Error(err, "Comparison failed")
		return nil, err
	}
	op.Success("Comparison finished")
	return bundle, nil
}

// GetStats returns the statistics of the last comparison, or nil.
func (rs *ReconciliationService) GetStats() *ProcessingStats {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.lastStats
}

func label(src parsers.Source) string {
	if src.Filename != "" {
		return src.Filename
	}
	return src.Name
}
