// Package overlap removes the rows of operator-configured overlap accounts
// from both working tables before any analysis sees them.
package overlap

import (
	"sort"
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/logger"
)

// Result holds the working tables and the overlap accounts seen in the input.
type Result struct {
	// Found lists the overlap accounts present in either input, sorted.
	Found []string
	A     *models.Table
	B     *models.Table
}

// Exclude drops from a and b every row whose account number is in accounts.
// Found is computed on the unfiltered tables. A table without its account
// column passes through unchanged and contributes nothing to Found.
func Exclude(a *models.Table, accColA string, b *models.Table, accColB string, accounts []string) (*Result, error) {
	set := make(map[string]struct{}, len(accounts))
	for _, acc := range accounts {
		if acc = strings.TrimSpace(acc); acc != "" {
			set[acc] = struct{}{}
		}
	}

	found := make(map[string]struct{})
	log := logger.GetGlobalLogger().WithComponent("overlap")

	filter := func(t *models.Table, accCol, side string) *models.Table {
		if len(set) == 0 || accCol == "" || !t.HasColumn(accCol) {
			return t
		}
		col, _ := t.Column(accCol)
		out := t.Filter(func(r models.Row) bool {
			acc := normalize.AccountNumber(r.Value(col))
			if _, hit := set[acc]; hit {
				found[acc] = struct{}{}
				return false
			}
			return true
		})
		log.WithFields(logger.Fields{
			"file":        side,
			"rows_before": t.Len(),
			"rows_after":  out.Len(),
		}).Info("Overlap accounts excluded")
		return out
	}

	result := &Result{
		A: filter(a, accColA, "file1"),
		B: filter(b, accColB, "file2"),
	}
	result.Found = make([]string, 0, len(found))
	for acc := range found {
		result.Found = append(result.Found, acc)
	}
	sort.Strings(result.Found)

	log.WithField("found", len(result.Found)).Info("Overlap scan complete")
	return result, nil
}
