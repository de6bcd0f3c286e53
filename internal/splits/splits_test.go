package splits

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	loader, err := parsers.NewLoader(nil)
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}
	return NewDetector(loader)
}

func settingsFor(listPath string) Settings {
	return Settings{
		Enabled:        true,
		ListPath:       listPath,
		ISINColumn:     "ID_ISIN",
		SecurityColumn: "Ценная бумага",
		AccountColumn:  "Субсчет",
		QuantityColumn: "Количество",
	}
}

func TestDetect(t *testing.T) {
	daily := models.NewTable("daily", []string{"Ценная бумага"}, [][]models.Cell{
		{models.Text("US0378331005 APPLE INC")},
		{models.Text("us0378331005 lower case")},
		{models.Text("KZ1C00000001 BOND")},
		{models.Empty()},
		{models.Text("US0378331005")},
	})

	hits, err := Detect(daily, "Ценная бумага", []string{"US0378331005"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Len() != 2 {
		t.Fatalf("expected 2 hits, got %d", hits.Len())
	}
	for _, r := range hits.Rows() {
		if got := r.Get(MatchedISINColumn).String(); got != "US0378331005" {
			t.Errorf("expected ISIN US0378331005, got %q", got)
		}
	}

	if _, err := Detect(daily, "Security", nil); !errors.IsCode(err, errors.CodeMissingColumn) {
		t.Errorf("expected missing_column, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "splits.csv", "ID_ISIN,Name\nUS0378331005,Apple\nUS5949181045,Microsoft\n")
	daily := writeFile(t, dir, "daily.csv",
		"Ценная бумага,Субсчет,Количество\n"+
			"US0378331005 APPLE INC,KZ-100,10\n"+
			"KZ1C00000001 BOND,KZ-200,5\n"+
			"US5949181045 MSFT,KZ-300,7\n")

	report, err := newDetector(t).Check(context.Background(), daily, settingsFor(list))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedCols := []string{"ISIN", "Счет", "Количество", "Полное название ЦБ"}
	cols := report.Columns()
	for i := range expectedCols {
		if cols[i] != expectedCols[i] {
			t.Errorf("expected columns %v, got %v", expectedCols, cols)
			break
		}
	}
	if report.Len() != 2 {
		t.Fatalf("expected 2 split candidates, got %d", report.Len())
	}
	first := report.Row(0)
	if first.Get(AccountColumn).String() != "KZ-100" || first.Get(QuantityColumn).String() != "10" {
		t.Errorf("unexpected first row %v", first.Values())
	}
}

func TestCheck_DailyFileWithOwnISINColumn(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "splits.csv", "ID_ISIN\nUS0378331005\n")
	daily := writeFile(t, dir, "daily.csv",
		"ISIN,Субсчет,Количество\n"+
			"US0378331005 APPLE INC,KZ-100,10\n"+
			"KZ1C00000001 BOND,KZ-200,5\n")

	s := settingsFor(list)
	s.SecurityColumn = "ISIN"
	report, err := newDetector(t).Check(context.Background(), daily, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Len() != 1 {
		t.Fatalf("expected 1 split candidate, got %d", report.Len())
	}
	row := report.Row(0)
	if got := row.Get(ISINColumn).String(); got != "US0378331005" {
		t.Errorf("expected ISIN US0378331005, got %q", got)
	}
	if got := row.Get(SecurityColumn).String(); got != "US0378331005 APPLE INC" {
		t.Errorf("expected the full security text, got %q", got)
	}
	if report.HasColumn(MatchedISINColumn) {
		t.Errorf("expected %s to stay out of the report, got %v", MatchedISINColumn, report.Columns())
	}
}

func TestCheck_Disabled(t *testing.T) {
	report, err := newDetector(t).Check(context.Background(), "missing.csv", Settings{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Len() != 0 {
		t.Errorf("expected an empty report, got %d rows", report.Len())
	}
}

func TestCheck_Errors(t *testing.T) {
	dir := t.TempDir()
	list := writeFile(t, dir, "splits.csv", "ID_ISIN\nUS0378331005\n")
	daily := writeFile(t, dir, "daily.csv", "Ценная бумага,Количество\nUS0378331005 APPLE,1\n")

	tests := []struct {
		name     string
		daily    string
		settings func() Settings
		code     errors.ErrorCode
	}{
		{
			name:  "incomplete settings",
			daily: daily,
			settings: func() Settings {
				s := settingsFor(list)
				s.ListPath = ""
				s.QuantityColumn = ""
				return s
			},
			code: errors.CodeMissingConfig,
		},
		{
			name:     "reference list missing",
			daily:    daily,
			settings: func() Settings { return settingsFor(filepath.Join(dir, "nope.xlsx")) },
			code:     errors.CodeFileNotFound,
		},
		{
			name:     "daily file missing",
			daily:    filepath.Join(dir, "nope.csv"),
			settings: func() Settings { return settingsFor(list) },
			code:     errors.CodeFileNotFound,
		},
		{
			name:  "reference column missing",
			daily: daily,
			settings: func() Settings {
				s := settingsFor(list)
				s.ISINColumn = "ISIN"
				return s
			},
			code: errors.CodeMissingColumn,
		},
		{
			name:     "daily column missing",
			daily:    daily,
			settings: func() Settings { return settingsFor(list) },
			code:     errors.CodeMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newDetector(t).Check(context.Background(), tt.daily, tt.settings())
			if !errors.IsCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestSettings_ValidateListsEverySetting(t *testing.T) {
	err := Settings{Enabled: true, ISINColumn: "ID_ISIN"}.Validate()
	re, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected a ReconcilerError, got %v", err)
	}
	missing, _ := re.Context["missing"].([]string)
	if len(missing) != 4 {
		t.Errorf("expected 4 missing settings, got %v", missing)
	}
}
