// Package matcher implements the set-based reconciliation algorithms: the
// two-file ID reconciler, duplicate-ID detection and the (paper, amount)
// summaries of the reconcile tools.
package matcher

import (
	"sort"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/logger"
)

// Reconcile partitions two tables by cleaned ID. Every occurrence of a
// duplicated ID takes part on its own, so five equal IDs on both sides give
// five matched rows. An empty ID never matches.
func Reconcile(a, b *models.Table, cols ReconcileColumns) (*models.MatchResult, error) {
	if err := cols.Validate(); err != nil {
		return nil, err
	}

	idxA, err := NewIDIndex(a, cols.IDColA)
	if err != nil {
		return nil, err
	}
	idxB, err := NewIDIndex(b, cols.IDColB)
	if err != nil {
		return nil, err
	}
	colA, _ := a.Column(cols.IDColA)
	colB, _ := b.Column(cols.IDColB)

	inB := func(r models.Row) bool {
		id := normalize.CleanID(r.Value(colA))
		return id != "" && idxB.Contains(id)
	}
	inA := func(r models.Row) bool {
		id := normalize.CleanID(r.Value(colB))
		return id != "" && idxA.Contains(id)
	}

	result := &models.MatchResult{
		Matched:    a.Filter(inB),
		UnmatchedA: a.Filter(func(r models.Row) bool { return !inB(r) }),
		UnmatchedB: b.Filter(func(r models.Row) bool { return !inA(r) }),
		SummaryA:   AccountSummary(a, cols.AccColA),
		SummaryB:   AccountSummary(b, cols.AccColB),
	}

	logger.GetGlobalLogger().WithComponent("matcher").WithFields(logger.Fields{
		"rows_a":      a.Len(),
		"rows_b":      b.Len(),
		"matched":     result.Matched.Len(),
		"unmatched_a": result.UnmatchedA.Len(),
		"unmatched_b": result.UnmatchedB.Len(),
	}).Info("Reconciliation complete")

	return result, nil
}

// AccountSummary counts rows per account number. A missing account column
// or an empty table yields an empty summary; rows without digits are counted
// under "".
func AccountSummary(t *models.Table, accountColumn string) models.AccountSummary {
	if t.Len() == 0 || accountColumn == "" || !t.HasColumn(accountColumn) {
		return models.AccountSummary{}
	}
	col, _ := t.Column(accountColumn)

	counts := make(map[string]int)
	for _, row := range t.Rows() {
		counts[normalize.AccountNumber(row.Value(col))]++
	}
	return models.NewAccountSummary(counts)
}

// FindDuplicateIDs returns every row whose non-empty cleaned ID occurs more
// than once, stably sorted by the raw ID text.
func FindDuplicateIDs(t *models.Table, idColumn string) (*models.Table, error) {
	idx, err := NewIDIndex(t, idColumn)
	if err != nil {
		return nil, err
	}
	col, _ := t.Column(idColumn)

	positions := idx.DuplicatePositions()
	sort.SliceStable(positions, func(i, j int) bool {
		return t.Row(positions[i]).Value(col).String() < t.Row(positions[j]).Value(col).String()
	})
	return t.Select(positions), nil
}
