package reconciler

import (
	"neoexcelsync/internal/filters"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/overlap"
	"neoexcelsync/pkg/logger"
)

// Pipeline steps in execution order.
const (
	StepDropEmptyIDs = "drop_empty_ids"
	StepOverlap      = "overlap"
	StepDuplicateIDs = "duplicate_ids"
	StepCrypto       = "crypto"
	StepBO           = "bo"
	StepPODFT        = "podft"
	StepReconcile    = "reconcile"
)

var pipelineSteps = []string{
	StepDropEmptyIDs, StepOverlap, StepDuplicateIDs, StepCrypto, StepBO, StepPODFT, StepReconcile,
}

// ProgressCallback is called after every pipeline step
type ProgressCallback func(logger.ProgressStats)

// AddProgressCallback adds a progress callback function
func (rs *ReconciliationService) AddProgressCallback(callback ProgressCallback) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.callbacks = append(rs.callbacks, callback)
}

func (rs *ReconciliationService) notify(stats logger.ProgressStats) {
	rs.mu.RLock()
	callbacks := rs.callbacks
	rs.mu.RUnlock()
	for _, cb := range callbacks {
		cb(stats)
	}
}

// Run executes the compare pipeline on loaded tables. labelA and labelB tag
// the rows of the PODFT and crypto reports.
func (rs *ReconciliationService) Run(a *models.Table, labelA string, b *models.Table, labelB string, cols matcher.ReconcileColumns) (*Bundle, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}
	if _, err := a.Column(cols.IDColA); err != nil {
		return nil, err
	}
	if _, err := b.Column(cols.IDColB); err != nil {
		return nil, err
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "compare",
		Steps:     pipelineSteps,
		Logger:    rs.logger,
		OnStep:    rs.notify,
	})
	fail := func(err error) (*Bundle, error) {
		tracker.CompleteWithError(err)
		return nil, err
	}

	stats := &ProcessingStats{File1: labelA, File2: labelB, RowsFile1: a.Len(), RowsFile2: b.Len()}

	a, b = dropEmptyIDs(a, cols.IDColA), dropEmptyIDs(b, cols.IDColB)
	stats.DroppedEmptyID1 = stats.RowsFile1 - a.Len()
	stats.DroppedEmptyID2 = stats.RowsFile2 - b.Len()
	tracker.Advance(StepDropEmptyIDs, a.Len()+b.Len())

	bundle := &Bundle{Status: "success"}

	// overlap accounts leave both files before any analysis sees them
	working, err := overlap.Exclude(a, cols.AccColA, b, cols.AccColB, rs.config.OverlapAccounts)
	if err != nil {
		return fail(err)
	}
	bundle.FoundOverlaps = working.Found
	stats.WorkingRows1, stats.WorkingRows2 = working.A.Len(), working.B.Len()
	tracker.Advance(StepOverlap, stats.WorkingRows1+stats.WorkingRows2)

	a, b = working.A, working.B

	if bundle.Duplicates1, err = matcher.FindDuplicateIDs(a, cols.IDColA); err != nil {
		return fail(err)
	}
	if bundle.Duplicates2, err = matcher.FindDuplicateIDs(b, cols.IDColB); err != nil {
		return fail(err)
	}
	tracker.Advance(StepDuplicateIDs, bundle.Duplicates1.Len()+bundle.Duplicates2.Len())

	bundle.Crypto, err = filters.Crypto([]filters.LabeledTable{{Label: labelA, Table: a}, {Label: labelB, Table: b}}, rs.config.Crypto)
	if err != nil {
		return fail(err)
	}
	tracker.Advance(StepCrypto, bundle.Crypto.Len())

	bundle.BO = models.NewTable("bo", nil, nil)
	if rs.config.BOEnabled {
		bo := rs.config.BO
		bo.IDColA, bo.IDColB = cols.IDColA, cols.IDColB
		if bundle.BO, err = filters.CrossReference(a, b, bo); err != nil {
			return fail(err)
		}
	}
	tracker.Advance(StepBO, bundle.BO.Len())

	if bundle.PODFT, err = filters.PODFT(a, labelA, b, labelB, rs.config.PODFT); err != nil {
		return fail(err)
	}
	tracker.Advance(StepPODFT, bundle.PODFT.Len())

	result, err := matcher.Reconcile(a, b, cols)
	if err != nil {
		return fail(err)
	}
	bundle.Matches = result.Matched
	bundle.Unmatched1 = result.UnmatchedA
	bundle.Unmatched2 = result.UnmatchedB
	bundle.Summary1 = result.SummaryA
	bundle.Summary2 = result.SummaryB
	tracker.Advance(StepReconcile, result.Matched.Len())

	stats.Steps = tracker.Complete()
	stats.Duration = tracker.GetStats().Elapsed
	bundle.Stats = stats

	rs.mu.Lock()
	rs.lastStats = stats
	rs.mu.Unlock()

	rs.logger.WithFields(logger.Fields{
		"matches":        bundle.Matches.Len(),
		"unmatched1":     bundle.Unmatched1.Len(),
		"unmatched2":     bundle.Unmatched2.Len(),
		"podft":          bundle.PODFT.Len(),
		"bo":             bundle.BO.Len(),
		"crypto":         bundle.Crypto.Len(),
		"found_overlaps": len(bundle.FoundOverlaps),
	}).Info("Compare pipeline complete")

	return bundle, nil
}

// dropEmptyIDs removes the rows without an identifier.
func dropEmptyIDs(t *models.Table, idColumn string) *models.Table {
	col, err := t.Column(idColumn)
	if err != nil {
		return t
	}
	return t.Filter(func(r models.Row) bool { return !r.Value(col).IsEmpty() })
}
