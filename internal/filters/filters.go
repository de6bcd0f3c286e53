// Package filters selects the deals that need an operator's attention: large
// PODFT deals, bond/option deals above the BO threshold and crypto transfers.
package filters

import (
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/logger"
)

// Threshold keeps the rows whose amount is at least cfg.Threshold, then drops
// the rows whose exclude column holds one of the excluded values.
func Threshold(t *models.Table, cfg ThresholdConfig) (*models.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	amount, err := t.Column(cfg.AmountColumn)
	if err != nil {
		return nil, err
	}

	var exclude func(models.Row) bool
	if cfg.excluding() {
		col, err := t.Column(cfg.ExcludeColumn)
		if err != nil {
			return nil, err
		}
		values := make(map[string]struct{}, len(cfg.ExcludeValues))
		for _, v := range cfg.ExcludeValues {
			values[normalize.Key(v)] = struct{}{}
		}
		exclude = func(r models.Row) bool {
			_, hit := values[normalize.Key(r.Value(col).String())]
			return hit
		}
	}

	return t.Filter(func(r models.Row) bool {
		sum, ok := normalize.ParseAmount(r.Value(amount))
		if !ok || !normalize.AtLeast(sum, cfg.Threshold) {
			return false
		}
		return exclude == nil || !exclude(r)
	}), nil
}

// PODFT applies Threshold to both working tables, tags every row with its
// file label and stacks the results.
func PODFT(a *models.Table, labelA string, b *models.Table, labelB string, cfg ThresholdConfig) (*models.Table, error) {
	parts := make([]*models.Table, 0, 2)
	for _, in := range []LabeledTable{{labelA, a}, {labelB, b}} {
		hits, err := Threshold(in.Table, cfg)
		if err != nil {
			return nil, err
		}
		parts = append(parts, hits.WithConstColumn(models.SourceColumn, models.Text(in.Label), true))
	}
	result := models.Concat(parts...).WithName("podft")

	logger.GetGlobalLogger().WithComponent("filters").WithFields(logger.Fields{
		"filter":    "podft",
		"threshold": cfg.Threshold,
		"rows":      result.Len(),
	}).Info("Threshold filter applied")

	return result, nil
}

// CrossReference finds the rows of b whose ID belongs to a row of a carrying
// one of the instrument prefixes, and keeps those at or above the threshold.
func CrossReference(a, b *models.Table, cfg CrossReferenceConfig) (*models.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	prefixCol, err := a.Column(cfg.PrefixColumn)
	if err != nil {
		return nil, err
	}
	idA, err := a.Column(cfg.IDColA)
	if err != nil {
		return nil, err
	}
	idB, err := b.Column(cfg.IDColB)
	if err != nil {
		return nil, err
	}
	amount, err := b.Column(cfg.AmountColB)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]struct{})
	for _, row := range a.Rows() {
		if hasAnyPrefix(row.Value(prefixCol).String(), cfg.Prefixes) {
			targets[normalize.CleanID(row.Value(idA))] = struct{}{}
		}
	}

	result := b.Filter(func(r models.Row) bool {
		if _, ok := targets[normalize.CleanID(r.Value(idB))]; !ok {
			return false
		}
		sum, ok := normalize.ParseAmount(r.Value(amount))
		return ok && normalize.AtLeast(sum, cfg.Threshold)
	}).WithName("bo")

	logger.GetGlobalLogger().WithComponent("filters").WithFields(logger.Fields{
		"filter":     "bo",
		"target_ids": len(targets),
		"threshold":  cfg.Threshold,
		"rows":       result.Len(),
	}).Info("Cross-reference filter applied")

	return result, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
