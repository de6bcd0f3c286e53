package matcher

import (
	"sort"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/logger"
)

// Columns added to the rows of the duplicate reports.
const (
	PaperKeyColumn = "PaperKey"
	AmountColumn   = "Amount"
	CountColumn    = "count"
)

// DuplicateGroup is one (paper, amount) pair seen Count times.
type DuplicateGroup struct {
	PaperKey string  `json:"PaperKey"`
	Amount   float64 `json:"Amount"`
	Count    int     `json:"count"`
}

// DuplicateStats are the headline counts of a duplicate search.
type DuplicateStats struct {
	RowsTotal  int `json:"rows_total"`
	RowsParsed int `json:"rows_parsed"`
	DupGroups  int `json:"dup_groups"`
	DupRows    int `json:"dup_rows"`
}

// DuplicateReport is the outcome of FindDuplicates.
type DuplicateReport struct {
	Groups []DuplicateGroup
	// Rows are the source rows of every qualifying group, in file order, with
	// PaperKey and Amount appended.
	Rows *models.Table
	// Chosen holds the rows of the selected pair, or nil when none was asked for.
	Chosen *models.Table
	Stats  DuplicateStats
}

// Summary returns the groups as a table with PaperKey, Amount and count.
func (r *DuplicateReport) Summary() *models.Table {
	rows := make([][]models.Cell, len(r.Groups))
	for i, g := range r.Groups {
		rows[i] = []models.Cell{models.Text(g.PaperKey), models.Number(g.Amount), models.Number(float64(g.Count))}
	}
	return models.NewTable("DuplicatesSummary", []string{PaperKeyColumn, AmountColumn, CountColumn}, rows)
}

type pairKey struct {
	paper  string
	amount float64
}

// keyedRows holds the parsed (paper, amount) of every usable row.
type keyedRows struct {
	positions []int
	keys      []pairKey
}

func keyRows(t *models.Table, paperCol, amountCol string, style normalize.Style, roundTo int) (*keyedRows, error) {
	pc, err := t.Column(paperCol)
	if err != nil {
		return nil, err
	}
	ac, err := t.Column(amountCol)
	if err != nil {
		return nil, err
	}

	out := &keyedRows{}
	for _, row := range t.Rows() {
		paper := normalize.Instrument(style, row.Value(pc))
		amount, ok := normalize.ParseAmount(row.Value(ac))
		if paper == "" || !ok {
			continue
		}
		out.positions = append(out.positions, row.Index())
		out.keys = append(out.keys, pairKey{paper: paper, amount: normalize.RoundAmount(amount, int32(roundTo))})
	}
	return out, nil
}

// FindDuplicates groups the rows of one file by (paper key, rounded amount)
// and reports the groups seen at least MinRepeats times, most frequent first.
func FindDuplicates(t *models.Table, opts DuplicateOptions) (*DuplicateReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	keyed, err := keyRows(t, opts.PaperColumn, opts.AmountColumn, normalize.StyleUnity, opts.RoundTo)
	if err != nil {
		return nil, err
	}

	counts := make(map[pairKey]int)
	for _, k := range keyed.keys {
		counts[k]++
	}

	var groups []DuplicateGroup
	for k, n := range counts {
		if n >= opts.MinRepeats {
			groups = append(groups, DuplicateGroup{PaperKey: k.paper, Amount: k.amount, Count: n})
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		if groups[i].PaperKey != groups[j].PaperKey {
			return groups[i].PaperKey < groups[j].PaperKey
		}
		return groups[i].Amount < groups[j].Amount
	})

	var dupPositions []int
	var paperCells, amountCells []models.Cell
	for i, k := range keyed.keys {
		if counts[k] >= opts.MinRepeats {
			dupPositions = append(dupPositions, keyed.positions[i])
			paperCells = append(paperCells, models.Text(k.paper))
			amountCells = append(amountCells, models.Number(k.amount))
		}
	}
	rows := t.Select(dupPositions).
		WithColumn(PaperKeyColumn, paperCells).
		WithColumn(AmountColumn, amountCells)

	report := &DuplicateReport{
		Groups: groups,
		Rows:   rows,
		Stats: DuplicateStats{
			RowsTotal:  t.Len(),
			RowsParsed: len(keyed.keys),
			DupGroups:  len(groups),
			DupRows:    rows.Len(),
		},
	}

	if opts.ChosenPaperKey != nil && opts.ChosenAmount != nil {
		want := pairKey{paper: normalize.Key(*opts.ChosenPaperKey), amount: *opts.ChosenAmount}
		var chosen []int
		for i, k := range keyed.keys {
			if k == want {
				chosen = append(chosen, keyed.positions[i])
			}
		}
		report.Chosen = t.Select(chosen)
	}

	logger.GetGlobalLogger().WithComponent("duplicates").WithFields(logger.Fields{
		"rows_total":  report.Stats.RowsTotal,
		"rows_parsed": report.Stats.RowsParsed,
		"dup_groups":  report.Stats.DupGroups,
		"dup_rows":    report.Stats.DupRows,
	}).Info("Duplicate search complete")

	return report, nil
}
