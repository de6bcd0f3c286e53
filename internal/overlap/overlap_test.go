package overlap

import (
	"testing"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
)

func accounts(name, column string, values ...string) *models.Table {
	rows := make([][]models.Cell, len(values))
	for i, v := range values {
		rows[i] = []models.Cell{models.Text(v)}
	}
	return models.NewTable(name, []string{column}, rows)
}

func TestExclude(t *testing.T) {
	a := accounts("file 1", "Account", "KZ-100", "acc 200", "300", "100/2")
	b := accounts("file 2", "Субсчет", "500", "S-300", "700")

	result, err := Exclude(a, "Account", b, "Субсчет", []string{"100", "300", "999"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedFound := []string{"100", "300"}
	if len(result.Found) != len(expectedFound) {
		t.Fatalf("expected found %v, got %v", expectedFound, result.Found)
	}
	for i := range expectedFound {
		if result.Found[i] != expectedFound[i] {
			t.Errorf("expected found %v, got %v", expectedFound, result.Found)
		}
	}

	if result.A.Len() != 1 {
		t.Errorf("expected 1 row left in file 1, got %d", result.A.Len())
	}
	if result.B.Len() != 2 {
		t.Errorf("expected 2 rows left in file 2, got %d", result.B.Len())
	}

	overlap := map[string]bool{"100": true, "300": true, "999": true}
	for _, tbl := range []*models.Table{result.A, result.B} {
		col := tbl.Columns()[0]
		for _, r := range tbl.Rows() {
			if acc := normalize.AccountNumber(r.Get(col)); overlap[acc] {
				t.Errorf("expected no overlap account in the working rows, found %s", acc)
			}
		}
	}
}

func TestExclude_MissingAccountColumn(t *testing.T) {
	a := accounts("file 1", "Account", "100", "200")
	b := accounts("file 2", "Other", "100")

	result, err := Exclude(a, "Account", b, "Субсчет", []string{"100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.B != b {
		t.Error("expected file 2 to pass through unchanged")
	}
	if len(result.Found) != 1 || result.Found[0] != "100" {
		t.Errorf("expected found [100] from file 1 only, got %v", result.Found)
	}
}

func TestExclude_EmptySet(t *testing.T) {
	a := accounts("file 1", "Account", "100")
	b := accounts("file 2", "Account", "100")

	result, err := Exclude(a, "Account", b, "Account", []string{" ", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.A.Len() != 1 || result.B.Len() != 1 || len(result.Found) != 0 {
		t.Errorf("expected nothing excluded, got %d/%d rows and found %v",
			result.A.Len(), result.B.Len(), result.Found)
	}
}
