package reconciler

import (
	"context"

	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/pkg/logger"
)

// Duplicates loads one file and searches it for repeated (paper, amount) pairs.
func (rs *ReconciliationService) Duplicates(ctx context.Context, src parsers.Source, opts matcher.DuplicateOptions) (*matcher.DuplicateReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var report *matcher.DuplicateReport
	err := logger.TimedOperation("duplicates", rs.logger.WithField("file", label(src)), func() error {
		t, err := rs.loader.Load(ctx, src)
		if err != nil {
			return err
		}
		report, err = matcher.FindDuplicates(t, opts)
		return err
	})
	return report, err
}

// InstrumentDirection loads both files and compares their deal counts per
// instrument and direction.
func (rs *ReconciliationService) InstrumentDirection(ctx context.Context, a, b parsers.Source, opts matcher.InstrumentDirectionOptions) (*matcher.InstrumentDirectionReport, error) {
	var report *matcher.InstrumentDirectionReport
	err := logger.TimedOperation("instrument-direction", rs.toolLogger(a, b), func() error {
		ta, tb, err := rs.loader.LoadPair(ctx, a, b)
		if err != nil {
			return err
		}
		report, err = matcher.InstrumentDirection(ta, tb, opts)
		return err
	})
	return report, err
}

// AmountPaper loads both files and compares their row counts per paper and
// rounded amount.
func (rs *ReconciliationService) AmountPaper(ctx context.Context, a, b parsers.Source, opts matcher.AmountPaperOptions) (*models.Table, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var summary *models.Table
	err := logger.TimedOperation("amount-paper", rs.toolLogger(a, b), func() error {
		ta, tb, err := rs.loader.LoadPair(ctx, a, b)
		if err != nil {
			return err
		}
		summary, err = matcher.AmountPaper(ta, tb, opts)
		return err
	})
	return summary, err
}

func (rs *ReconciliationService) toolLogger(a, b parsers.Source) logger.Logger {
	return rs.logger.WithFields(logger.Fields{"file1": label(a), "file2": label(b)})
}
