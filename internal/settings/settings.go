// Package settings holds the operator settings of the service: column names,
// thresholds, the overlap accounts and the split check. They are persisted as
// a flat YAML document.
package settings

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"neoexcelsync/internal/filters"
	"neoexcelsync/internal/normalize"
	"neoexcelsync/internal/splits"
	"neoexcelsync/pkg/errors"
)

// Text is a setting typed by hand in the settings form. It accepts both a
// string and a bare number.
type Text string

// UnmarshalJSON accepts "7000000" as well as 7000000.
func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (t *Text) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*t = Text(node.Value)
	return nil
}

// List is a list setting whose items may be strings or numbers.
type List []string

// UnmarshalJSON accepts a list of strings and numbers.
func (l *List) UnmarshalJSON(data []byte) error {
	var items []Text
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(List, len(items))
	for i, it := range items {
		out[i] = string(it)
	}
	*l = out
	return nil
}

// UnmarshalYAML accepts a sequence of scalars.
func (l *List) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", node.Line)
	}
	out := make(List, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar list item", item.Line)
		}
		out = append(out, item.Value)
	}
	*l = out
	return nil
}

// Settings is the flat settings document.
type Settings struct {
	PODFTSumCol        string `json:"podft_sum_col" yaml:"podft_sum_col"`
	PODFTThreshold     Text   `json:"podft_threshold" yaml:"podft_threshold"`
	PODFTFilterEnabled bool   `json:"podft_filter_enabled" yaml:"podft_filter_enabled"`
	PODFTFilterCol     string `json:"podft_filter_col" yaml:"podft_filter_col"`
	PODFTFilterValues  string `json:"podft_filter_values" yaml:"podft_filter_values"`

	BOEnabled            bool   `json:"bo_enabled" yaml:"bo_enabled"`
	BOUnityInstrumentCol string `json:"bo_unity_instrument_col" yaml:"bo_unity_instrument_col"`
	BOAISSumCol          string `json:"bo_ais_sum_col" yaml:"bo_ais_sum_col"`
	BOThreshold          Text   `json:"bo_threshold" yaml:"bo_threshold"`
	BOPrefixes           string `json:"bo_prefixes" yaml:"bo_prefixes"`

	CryptoEnabled   bool   `json:"crypto_enabled" yaml:"crypto_enabled"`
	CryptoCol       string `json:"crypto_col" yaml:"crypto_col"`
	CryptoKeywords  string `json:"crypto_keywords" yaml:"crypto_keywords"`
	CryptoMinAmount Text   `json:"crypto_min_amount" yaml:"crypto_min_amount"`

	DefaultIDNames      List   `json:"default_id_names" yaml:"default_id_names"`
	DefaultAccNameUnity string `json:"default_acc_name_unity" yaml:"default_acc_name_unity"`
	DefaultAccNameAIS   string `json:"default_acc_name_ais" yaml:"default_acc_name_ais"`
	OverlapAccounts     List   `json:"overlap_accounts" yaml:"overlap_accounts"`

	SplitCheckEnabled    bool   `json:"split_check_enabled" yaml:"split_check_enabled"`
	SplitListPath        string `json:"split_list_path" yaml:"split_list_path"`
	SplitListISINCol     string `json:"split_list_isin_col" yaml:"split_list_isin_col"`
	DailyFileSecurityCol string `json:"daily_file_security_col" yaml:"daily_file_security_col"`
	SplitDailyQtyCol     string `json:"split_daily_qty_col" yaml:"split_daily_qty_col"`
}

// Defaults returns the settings a fresh installation starts with.
func Defaults() *Settings {
	return &Settings{
		PODFTSumCol:        filters.DefaultSumColumn,
		PODFTThreshold:     "7000000",
		PODFTFilterEnabled: true,
		PODFTFilterCol:     filters.DefaultExcludeColumn,
		PODFTFilterValues:  filters.DefaultExcludeValues,

		BOEnabled:            true,
		BOUnityInstrumentCol: filters.DefaultBOPrefixColumn,
		BOAISSumCol:          filters.DefaultSumColumn,
		BOThreshold:          "45000000",
		BOPrefixes:           "[BO], [OP]",

		CryptoMinAmount: "5000000",

		DefaultIDNames:      List{"Execution ID", "ID сделки на бирже"},
		DefaultAccNameUnity: "Account",
		DefaultAccNameAIS:   "Субсчет в учетной организации",
		OverlapAccounts:     List{},

		SplitListISINCol:     "ID_ISIN",
		DailyFileSecurityCol: "Ценная бумага",
		SplitDailyQtyCol:     "Количество",
	}
}

// Parse reads a JSON settings document sent with a request. Keys it does not
// carry keep their defaults.
func Parse(data []byte) (*Settings, error) {
	s := Defaults()
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settings_json", "", err).
			WithSuggestion("send the settings as a JSON object")
	}
	return s, nil
}

// PODFTConfig builds the PODFT threshold filter configuration.
func (s *Settings) PODFTConfig() (filters.ThresholdConfig, error) {
	threshold, err := normalize.ParseThreshold("podft_threshold", string(s.PODFTThreshold))
	if err != nil {
		return filters.ThresholdConfig{}, err
	}
	return filters.ThresholdConfig{
		AmountColumn:   s.PODFTSumCol,
		Threshold:      threshold,
		ExcludeEnabled: s.PODFTFilterEnabled,
		ExcludeColumn:  s.PODFTFilterCol,
		ExcludeValues:  normalize.SplitList(s.PODFTFilterValues),
	}, nil
}

// BOConfig builds the bond/option filter configuration for the given ID columns.
func (s *Settings) BOConfig(idColA, idColB string) (filters.CrossReferenceConfig, error) {
	threshold, err := normalize.ParseThreshold("bo_threshold", string(s.BOThreshold))
	if err != nil {
		return filters.CrossReferenceConfig{}, err
	}
	return filters.CrossReferenceConfig{
		PrefixColumn: s.BOUnityInstrumentCol,
		Prefixes:     filters.SplitPrefixes(s.BOPrefixes),
		IDColA:       idColA,
		IDColB:       idColB,
		AmountColB:   s.BOAISSumCol,
		Threshold:    threshold,
	}, nil
}

// CryptoConfig builds the crypto filter configuration.
func (s *Settings) CryptoConfig() (filters.CryptoConfig, error) {
	cfg := filters.DefaultCryptoConfig()
	if strings.TrimSpace(string(s.CryptoMinAmount)) != "" {
		minAmount, err := normalize.ParseThreshold("crypto_min_amount", string(s.CryptoMinAmount))
		if err != nil {
			return filters.CryptoConfig{}, err
		}
		cfg.MinAmount = minAmount
	}
	cfg.KeywordsEnabled = s.CryptoEnabled
	cfg.KeywordColumn = strings.TrimSpace(s.CryptoCol)
	cfg.Keywords = normalize.SplitList(s.CryptoKeywords)
	return cfg, nil
}

// SplitSettings returns the split check settings.
func (s *Settings) SplitSettings() splits.Settings {
	return splits.Settings{
		Enabled:        s.SplitCheckEnabled,
		ListPath:       s.SplitListPath,
		ISINColumn:     s.SplitListISINCol,
		SecurityColumn: s.DailyFileSecurityCol,
		AccountColumn:  s.DefaultAccNameAIS,
		QuantityColumn: s.SplitDailyQtyCol,
	}
}

// Accounts returns the trimmed, non-empty overlap accounts.
func (s *Settings) Accounts() []string {
	out := make([]string, 0, len(s.OverlapAccounts))
	for _, acc := range s.OverlapAccounts {
		if acc = strings.TrimSpace(acc); acc != "" {
			out = append(out, acc)
		}
	}
	return out
}
