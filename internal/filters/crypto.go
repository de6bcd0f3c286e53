package filters

import (
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/logger"
)

// Crypto collects the crypto-currency rows of every file, tags them with the
// file label and stacks them. The stack is then deduplicated and cut down to
// non-futures rows at or above MinAmount, optionally matching a keyword.
func Crypto(tables []LabeledTable, cfg CryptoConfig) (*models.Table, error) {
	var parts []*models.Table
	for _, in := range tables {
		rows := currencyRows(in.Table, cfg)
		if rows.Len() == 0 {
			continue
		}
		parts = append(parts, rows.WithConstColumn(models.SourceColumn, models.Text(in.Label), true))
	}
	if len(parts) == 0 {
		return models.NewTable("crypto", nil, nil), nil
	}

	result := models.Concat(parts...).WithName("crypto").Distinct()
	found := result.Len()

	if col, ok := result.FindColumn(func(lower string) bool {
		return strings.Contains(lower, "инструмент") || strings.Contains(lower, "instrument")
	}); ok {
		result = withoutPrefix(result, col, cfg.ExcludePrefix)
	}

	if col, ok := cryptoSumColumn(result, cfg.SumColumn); ok {
		ref, _ := result.Column(col)
		result = result.Filter(func(r models.Row) bool {
			sum, ok := normalize.ParseAmount(r.Value(ref))
			return ok && normalize.AtLeast(sum, cfg.MinAmount)
		})
	}

	if cfg.keywords() {
		ref, err := result.Column(cfg.KeywordColumn)
		if err != nil {
			return nil, err
		}
		keywords := make([]string, len(cfg.Keywords))
		for i, k := range cfg.Keywords {
			keywords[i] = normalize.Key(k)
		}
		result = result.Filter(func(r models.Row) bool {
			text := strings.ToUpper(r.Value(ref).String())
			for _, k := range keywords {
				if k != "" && strings.Contains(text, k) {
					return true
				}
			}
			return false
		})
	}

	logger.GetGlobalLogger().WithComponent("filters").WithFields(logger.Fields{
		"filter":     "crypto",
		"currency":   cfg.Currency,
		"found":      found,
		"rows":       result.Len(),
		"min_amount": cfg.MinAmount,
	}).Info("Crypto filter applied")

	return result, nil
}

// currencyRows returns the rows in the crypto currency without futures. A
// table without the currency column has none.
func currencyRows(t *models.Table, cfg CryptoConfig) *models.Table {
	if t == nil || !t.HasColumn(cfg.CurrencyColumn) {
		return models.NewTable("", nil, nil)
	}
	cur, _ := t.Column(cfg.CurrencyColumn)
	rows := t.Filter(func(r models.Row) bool {
		return r.Value(cur).String() == cfg.Currency
	})
	if t.HasColumn(cfg.InstrumentColumn) {
		rows = withoutPrefix(rows, cfg.InstrumentColumn, cfg.ExcludePrefix)
	}
	return rows
}

func withoutPrefix(t *models.Table, column, prefix string) *models.Table {
	if prefix == "" {
		return t
	}
	ref, err := t.Column(column)
	if err != nil {
		return t
	}
	return t.Filter(func(r models.Row) bool {
		return !strings.HasPrefix(r.Value(ref).String(), prefix)
	})
}

// cryptoSumColumn prefers the configured sum column and falls back to the
// first column named like a tenge sum.
func cryptoSumColumn(t *models.Table, preferred string) (string, bool) {
	if preferred != "" && t.HasColumn(preferred) {
		return preferred, true
	}
	return t.FindColumn(func(lower string) bool {
		return strings.Contains(lower, "сумма") && strings.Contains(lower, "тг")
	})
}
