package filters

import (
	"strings"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/pkg/errors"
)

// Defaults of the PODFT, BO and crypto settings.
const (
	DefaultSumColumn        = "Сумма тг"
	DefaultPODFTThreshold   = 7000000
	DefaultExcludeColumn    = "Рынок ЦБ"
	DefaultExcludeValues    = "COMMODITY, CRYPTO, FOREX"
	DefaultBOPrefixColumn   = "Instrument"
	DefaultBOPrefixes       = "[BO],[OP]"
	DefaultBOThreshold      = 45000000
	DefaultCurrencyColumn   = "Валюта"
	DefaultCryptoCurrency   = "USDT"
	DefaultCryptoInstrument = "Финансовый инструмент"
	DefaultFuturesPrefix    = "FU"
	DefaultCryptoMinAmount  = 5000000
)

// LabeledTable pairs a table with the file label written to the source column.
type LabeledTable struct {
	Label string
	Table *models.Table
}

// ThresholdConfig configures the single-file threshold filter (PODFT).
type ThresholdConfig struct {
	AmountColumn   string   `json:"amount_column"`
	Threshold      float64  `json:"threshold"`
	ExcludeEnabled bool     `json:"exclude_enabled"`
	ExcludeColumn  string   `json:"exclude_column"`
	ExcludeValues  []string `json:"exclude_values"`
}

// DefaultThresholdConfig returns the PODFT defaults.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		AmountColumn:   DefaultSumColumn,
		Threshold:      DefaultPODFTThreshold,
		ExcludeEnabled: true,
		ExcludeColumn:  DefaultExcludeColumn,
		ExcludeValues:  normalize.SplitList(DefaultExcludeValues),
	}
}

// Validate checks that the amount column is configured
func (c ThresholdConfig) Validate() error {
	if strings.TrimSpace(c.AmountColumn) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "podft_sum_col", c.AmountColumn, nil)
	}
	return nil
}

func (c ThresholdConfig) excluding() bool {
	return c.ExcludeEnabled && c.ExcludeColumn != "" && len(c.ExcludeValues) > 0
}

// CrossReferenceConfig configures the bond/option (BO) cross-file filter.
type CrossReferenceConfig struct {
	PrefixColumn string   `json:"prefix_column"`
	Prefixes     []string `json:"prefixes"`
	IDColA       string   `json:"id_col_1"`
	IDColB       string   `json:"id_col_2"`
	AmountColB   string   `json:"amount_column"`
	Threshold    float64  `json:"threshold"`
}

// DefaultCrossReferenceConfig returns the BO defaults. The ID columns come
// from the compare request and are left empty.
func DefaultCrossReferenceConfig() CrossReferenceConfig {
	return CrossReferenceConfig{
		PrefixColumn: DefaultBOPrefixColumn,
		Prefixes:     SplitPrefixes(DefaultBOPrefixes),
		AmountColB:   DefaultSumColumn,
		Threshold:    DefaultBOThreshold,
	}
}

// Validate checks that every column the filter reads is configured.
func (c CrossReferenceConfig) Validate() error {
	required := []struct{ setting, value string }{
		{"bo_unity_instrument_col", c.PrefixColumn},
		{"id_col_1", c.IDColA},
		{"id_col_2", c.IDColB},
		{"bo_ais_sum_col", c.AmountColB},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, r.setting, r.value, nil)
		}
	}
	return nil
}

// CryptoConfig configures the crypto category filter and its post-processing.
type CryptoConfig struct {
	CurrencyColumn   string  `json:"currency_column"`
	Currency         string  `json:"currency"`
	InstrumentColumn string  `json:"instrument_column"`
	ExcludePrefix    string  `json:"exclude_prefix"`
	SumColumn        string  `json:"sum_column"`
	MinAmount        float64 `json:"min_amount"`

	KeywordsEnabled bool     `json:"keywords_enabled"`
	KeywordColumn   string   `json:"keyword_column"`
	Keywords        []string `json:"keywords"`
}

// DefaultCryptoConfig returns the crypto defaults with the keyword filter off.
func DefaultCryptoConfig() CryptoConfig {
	return CryptoConfig{
		CurrencyColumn:   DefaultCurrencyColumn,
		Currency:         DefaultCryptoCurrency,
		InstrumentColumn: DefaultCryptoInstrument,
		ExcludePrefix:    DefaultFuturesPrefix,
		SumColumn:        DefaultSumColumn,
		MinAmount:        DefaultCryptoMinAmount,
	}
}

func (c CryptoConfig) keywords() bool {
	return c.KeywordsEnabled && c.KeywordColumn != "" && len(c.Keywords) > 0
}

// SplitPrefixes splits the BO prefix setting. Prefixes keep their case since
// they are matched against the raw instrument text.
func SplitPrefixes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
