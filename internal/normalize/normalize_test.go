package normalize

import (
	"math"
	"testing"
	"time"

	"neoexcelsync/internal/models"
	apperrors "neoexcelsync/pkg/errors"
)

func TestInstrument(t *testing.T) {
	tests := []struct {
		name     string
		style    Style
		cell     models.Cell
		expected string
	}{
		{"unity isin prefix", StyleUnity, models.Text("US91324P1021___UNH US"), "UNH"},
		{"unity isin prefix no exchange", StyleUnity, models.Text("US0032601066___PPLT"), "PPLT"},
		{"unity plain ticker", StyleUnity, models.Text("  aapl  us "), "AAPL"},
		{"unity strips punctuation", StyleUnity, models.Text("BRK.B"), "BRKB"},
		{"unity keeps dash", StyleUnity, models.Text("kzap-gdr"), "KZAP-GDR"},
		{"unity number", StyleUnity, models.Number(12345), "12345"},
		{"unity empty", StyleUnity, models.Empty(), ""},
		{"unity blank", StyleUnity, models.Text("   "), ""},
		{"unity separator only", StyleUnity, models.Text("___"), ""},
		{"ais bracket prefix", StyleAIS, models.Text("[EQ]UNH.NYSE.TOM"), "UNH"},
		{"ais no prefix", StyleAIS, models.Text("tsla.nasdaq"), "TSLA"},
		{"ais spaces inside", StyleAIS, models.Text(" [BO] KZ 01.KASE"), "KZ01"},
		{"ais empty", StyleAIS, models.Empty(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Instrument(tt.style, tt.cell); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestInstrument_OutputAlphabet(t *testing.T) {
	inputs := []string{"Ünïcode___ключ", "[X]a.b", "!!!", "a b c", "___ ___", "[]", "12.0"}
	for _, in := range inputs {
		for _, style := range []Style{StyleUnity, StyleAIS} {
			got := Instrument(style, models.Text(in))
			for _, r := range got {
				if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
					t.Errorf("%s(%q) produced %q outside [A-Z0-9-]", style, in, got)
				}
			}
			if again := Instrument(style, models.Text(in)); again != got {
				t.Errorf("expected deterministic output for %q", in)
			}
		}
	}
}

func TestDirection(t *testing.T) {
	tests := []struct {
		name     string
		style    Style
		cell     models.Cell
		expected string
	}{
		{"unity debit", StyleUnity, models.Text("Списание денежных средств"), models.DirectionDebit},
		{"unity credit", StyleUnity, models.Text("ЗАЧИСЛЕНИЕ ДС"), models.DirectionCredit},
		{"unity other", StyleUnity, models.Text("Перевод"), ""},
		{"unity empty", StyleUnity, models.Empty(), ""},
		{"ais buy", StyleAIS, models.Text(" Buy "), models.DirectionDebit},
		{"ais sell", StyleAIS, models.Text("SELL"), models.DirectionCredit},
		{"ais not exact", StyleAIS, models.Text("buy back"), ""},
		{"ais russian", StyleAIS, models.Text("Списание"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Direction(tt.style, tt.cell); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCleanIDAndAccount(t *testing.T) {
	if got := CleanID(models.Text(" 12345.0 ")); got != "12345" {
		t.Errorf("expected 12345, got %q", got)
	}
	if got := CleanID(models.Text("12345.00")); got != "12345.00" {
		t.Errorf("expected only one trailing .0 stripped, got %q", got)
	}
	if got := CleanID(models.Number(987)); got != "987" {
		t.Errorf("expected 987, got %q", got)
	}
	if got := AccountNumber(models.Text("KZ-00123/45")); got != "00123" {
		t.Errorf("expected 00123, got %q", got)
	}
	if got := AccountNumber(models.Text("no digits")); got != "" {
		t.Errorf("expected empty account, got %q", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		cell     models.Cell
		expected float64
		ok       bool
	}{
		{"spaces and comma", models.Text("1 234 567,89"), 1234567.89, true},
		{"nbsp", models.Text("1\u00a0000,5"), 1000.5, true},
		{"thousands comma", models.Text("45,000.00"), 45000, true},
		{"currency text", models.Text("KZT 7 000 000"), 7000000, true},
		{"negative", models.Text("-12,5"), -12.5, true},
		{"number cell", models.Number(42.25), 42.25, true},
		{"empty string", models.Text(""), 0, false},
		{"letters", models.Text("abc"), 0, false},
		{"two dots", models.Text("1.2.3"), 0, false},
		{"comma thousands", models.Text("7,000,000.00"), 7000000, true},
		{"comma thousands without decimals", models.Text("45,000,000"), 45000000, true},
		{"dot thousands with decimal comma", models.Text("1.234.567,89"), 1234567.89, true},
		{"dot thousands", models.Text("7.000.000"), 7000000, true},
		{"uneven comma groups", models.Text("1,23,456"), 0, false},
		{"nan text", models.Text("nan"), 0, false},
		{"inf text", models.Text("-Inf"), 0, false},
		{"infinite number cell", models.Number(math.Inf(1)), 0, false},
		{"empty cell", models.Empty(), 0, false},
		{"date cell", models.Date(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAmount(tt.cell)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestParseThreshold(t *testing.T) {
	f, err := ParseThreshold("podft_threshold", "7 000 000")
	if err != nil || f != 7000000 {
		t.Errorf("expected 7000000, got %v (%v)", f, err)
	}

	f, err = ParseThreshold("bo_threshold", "45,000,000")
	if err != nil || f != 45000000 {
		t.Errorf("expected 45000000, got %v (%v)", f, err)
	}

	for _, bad := range []string{"inf", "NaN", "7M"} {
		if _, err := ParseThreshold("podft_threshold", bad); !apperrors.IsCode(err, apperrors.CodeInvalidConfig) {
			t.Errorf("expected invalid_config for %q, got %v", bad, err)
		}
	}

	_, err = ParseThreshold("bo_threshold", "много")
	if !apperrors.IsCode(err, apperrors.CodeInvalidConfig) {
		t.Fatalf("expected invalid_config error, got %v", err)
	}
	re, _ := apperrors.AsReconcilerError(err)
	if re.Context["value"] != "много" {
		t.Errorf("expected the offending value in context, got %v", re.Context["value"])
	}
}

func TestRoundAmount(t *testing.T) {
	tests := []struct {
		in       float64
		places   int32
		expected float64
	}{
		{100.125, 2, 100.12},
		{100.135, 2, 100.14},
		{2.5, 0, 2},
		{3.5, 0, 4},
		{1234.5678, 3, 1234.568},
		{2.675, 2, 2.67},
		{0.125, 2, 0.12},
	}
	for _, tt := range tests {
		if got := RoundAmount(tt.in, tt.places); got != tt.expected {
			t.Errorf("RoundAmount(%v, %d): expected %v, got %v", tt.in, tt.places, tt.expected, got)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" commodity, CRYPTO ,,forex ")
	expected := []string{"COMMODITY", "CRYPTO", "FOREX"}
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, got)
		}
	}
}

func TestAtLeast(t *testing.T) {
	if !AtLeast(7000000, 7000000) {
		t.Error("expected equal amount to qualify")
	}
	if AtLeast(6999999.99, 7000000) {
		t.Error("expected smaller amount to fail")
	}
	if AtLeast(math.NaN(), 7000000) || AtLeast(math.Inf(1), 7000000) || AtLeast(1, math.Inf(-1)) {
		t.Error("expected non-finite values never to qualify")
	}
}
