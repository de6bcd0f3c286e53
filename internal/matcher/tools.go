package matcher

import (
	"sort"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// Summary columns of the two-file tools.
const (
	InstrumentKeyColumn = "InstrumentKey"
	DirectionColumn     = "Direction"
	CountFile1Column    = "count_file1"
	CountFile2Column    = "count_file2"
	DiffColumn          = "diff_file1_minus_file2"
)

// InstrumentDirectionStats are the headline counts of InstrumentDirection.
type InstrumentDirectionStats struct {
	RowsFile1        int `json:"rows_file1"`
	RowsFile2        int `json:"rows_file2"`
	MatchedKeysFile1 int `json:"matched_keys_file1"`
	MatchedKeysFile2 int `json:"matched_keys_file2"`
	UniquePairs      int `json:"unique_pairs"`
}

// InstrumentDirectionReport compares deal counts per (instrument, direction).
type InstrumentDirectionReport struct {
	Summary *models.Table
	// Target holds the summary rows of the requested instrument, or nil.
	Target *models.Table
	Stats  InstrumentDirectionStats
}

// requireColumns reports every missing column of one file in a single error.
func requireColumns(t *models.Table, columns ...string) error {
	var missing []string
	for _, c := range columns {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.MissingColumnError(missing[0], t.Name(), t.Columns()).
		WithContext("missing", missing)
}

type countPair struct{ first, second int }

// InstrumentDirection counts deals per (instrument key, direction) in both
// files. File 1 uses the Unity layout, file 2 the broker layout.
func InstrumentDirection(a, b *models.Table, opts InstrumentDirectionOptions) (*InstrumentDirectionReport, error) {
	if err := requireColumns(a, opts.Col1, opts.Op1Col); err != nil {
		return nil, err
	}
	if err := requireColumns(b, opts.Col2, opts.Side2Col); err != nil {
		return nil, err
	}

	counts := make(map[[2]string]*countPair)
	tally := func(t *models.Table, instCol, dirCol string, style normalize.Style, second bool) int {
		ic, _ := t.Column(instCol)
		dc, _ := t.Column(dirCol)
		used := 0
		for _, row := range t.Rows() {
			key := normalize.Instrument(style, row.Value(ic))
			dir := normalize.Direction(style, row.Value(dc))
			if key == "" || dir == "" {
				continue
			}
			used++
			k := [2]string{key, dir}
			c, ok := counts[k]
			if !ok {
				c = &countPair{}
				counts[k] = c
			}
			if second {
				c.second++
			} else {
				c.first++
			}
		}
		return used
	}

	used1 := tally(a, opts.Col1, opts.Op1Col, normalize.StyleUnity, false)
	used2 := tally(b, opts.Col2, opts.Side2Col, normalize.StyleAIS, true)

	keys := make([][2]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	rows := make([][]models.Cell, len(keys))
	for i, k := range keys {
		c := counts[k]
		rows[i] = []models.Cell{
			models.Text(k[0]),
			models.Text(k[1]),
			models.Number(float64(c.first)),
			models.Number(float64(c.second)),
			models.Number(float64(c.first - c.second)),
		}
	}
	summary := models.NewTable("Summary",
		[]string{InstrumentKeyColumn, DirectionColumn, CountFile1Column, CountFile2Column, DiffColumn}, rows)

	report := &InstrumentDirectionReport{
		Summary: summary,
		Stats: InstrumentDirectionStats{
			RowsFile1:        a.Len(),
			RowsFile2:        b.Len(),
			MatchedKeysFile1: used1,
			MatchedKeysFile2: used2,
			UniquePairs:      summary.Len(),
		},
	}

	if opts.Target != "" {
		target := normalize.Key(opts.Target)
		report.Target = summary.Filter(func(r models.Row) bool {
			return r.Get(InstrumentKeyColumn).String() == target
		})
	}

	logger.GetGlobalLogger().WithComponent("tools").WithFields(logger.Fields{
		"mode":         "instrument-direction",
		"unique_pairs": report.Stats.UniquePairs,
	}).Info("Summary built")

	return report, nil
}

// AmountPaper counts rows per (paper key, rounded amount) in both files and
// orders the pairs by the size of the count difference.
func AmountPaper(a, b *models.Table, opts AmountPaperOptions) (*models.Table, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := requireColumns(a, opts.Paper1Col, opts.Amount1Col); err != nil {
		return nil, err
	}
	if err := requireColumns(b, opts.Paper2Col, opts.Amount2Col); err != nil {
		return nil, err
	}

	k1, err := keyRows(a, opts.Paper1Col, opts.Amount1Col, normalize.StyleUnity, opts.RoundTo)
	if err != nil {
		return nil, err
	}
	k2, err := keyRows(b, opts.Paper2Col, opts.Amount2Col, normalize.StyleAIS, opts.RoundTo)
	if err != nil {
		return nil, err
	}

	counts := make(map[pairKey]*countPair)
	add := func(keys []pairKey, second bool) {
		for _, k := range keys {
			c, ok := counts[k]
			if !ok {
				c = &countPair{}
				counts[k] = c
			}
			if second {
				c.second++
			} else {
				c.first++
			}
		}
	}
	add(k1.keys, false)
	add(k2.keys, true)

	keys := make([]pairKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	absDiff := func(k pairKey) int {
		d := counts[k].first - counts[k].second
		if d < 0 {
			return -d
		}
		return d
	}
	sort.Slice(keys, func(i, j int) bool {
		di, dj := absDiff(keys[i]), absDiff(keys[j])
		if di != dj {
			return di > dj
		}
		if keys[i].paper != keys[j].paper {
			return keys[i].paper < keys[j].paper
		}
		return keys[i].amount < keys[j].amount
	})

	rows := make([][]models.Cell, len(keys))
	for i, k := range keys {
		c := counts[k]
		rows[i] = []models.Cell{
			models.Text(k.paper),
			models.Number(k.amount),
			models.Number(float64(c.first)),
			models.Number(float64(c.second)),
			models.Number(float64(c.first - c.second)),
		}
	}

	logger.GetGlobalLogger().WithComponent("tools").WithFields(logger.Fields{
		"mode":  "amount-paper",
		"pairs": len(rows),
	}).Info("Summary built")

	return models.NewTable("Summary",
		[]string{PaperKeyColumn, AmountColumn, CountFile1Column, CountFile2Column, DiffColumn}, rows), nil
}
