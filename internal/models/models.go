// Package models holds the tabular data model and the result types shared by
// the reconciliation packages.
package models

import "sort"

// SourceColumn tags every row of a threshold report with the file it came from.
const SourceColumn = "Источник_Файла"

// Direction labels produced by direction normalization.
const (
	DirectionDebit  = "Списание денежных средств"
	DirectionCredit = "Зачисление денежных средств"
)

// AccountCount is the number of rows carrying one account number.
type AccountCount struct {
	Account string `json:"account"`
	Count   int    `json:"count"`
}

// AccountSummary lists row counts per account, sorted by account.
type AccountSummary []AccountCount

// NewAccountSummary builds a summary sorted by account.
func NewAccountSummary(counts map[string]int) AccountSummary {
	out := make(AccountSummary, 0, len(counts))
	for acc, n := range counts {
		out = append(out, AccountCount{Account: acc, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Total returns the number of rows covered by the summary.
func (s AccountSummary) Total() int {
	total := 0
	for _, c := range s {
		total += c.Count
	}
	return total
}

// Lookup returns the count of one account.
func (s AccountSummary) Lookup(account string) int {
	i := sort.Search(len(s), func(i int) bool { return s[i].Account >= account })
	if i < len(s) && s[i].Account == account {
		return s[i].Count
	}
	return 0
}

// MatchResult is the outcome of a two-file reconciliation.
type MatchResult struct {
	// Matched holds the rows of the first file whose ID exists in the second.
	Matched    *Table         `json:"matches"`
	UnmatchedA *Table         `json:"unmatched1"`
	UnmatchedB *Table         `json:"unmatched2"`
	SummaryA   AccountSummary `json:"summary1"`
	SummaryB   AccountSummary `json:"summary2"`
}

// Summary returns the headline counts of a MatchResult
func (m *MatchResult) Summary() MatchSummary {
	return MatchSummary{
		Matched:    m.Matched.Len(),
		UnmatchedA: m.UnmatchedA.Len(),
		UnmatchedB: m.UnmatchedB.Len(),
	}
}

// MatchSummary holds the partition sizes of a MatchResult.
type MatchSummary struct {
	Matched    int `json:"matched"`
	UnmatchedA int `json:"unmatched1"`
	UnmatchedB int `json:"unmatched2"`
}
