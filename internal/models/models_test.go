package models

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	apperrors "neoexcelsync/pkg/errors"
)

func sampleTable() *Table {
	return NewTable("file 1", []string{" Execution ID ", "Account", "Сумма тг"}, [][]Cell{
		{Text("A1"), Text("KZ-100"), Number(7000000)},
		{Text("A2"), Text("KZ-200"), Number(12.5)},
		{Text("A3")},
	})
}

func TestCell_String(t *testing.T) {
	tests := []struct {
		name     string
		cell     Cell
		expected string
	}{
		{"empty", Empty(), ""},
		{"text", Text(" abc "), " abc "},
		{"integer number", Number(12345), "12345"},
		{"fraction", Number(1234567.89), "1234567.89"},
		{"negative", Number(-0.5), "-0.5"},
		{"date", Date(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), "2024-03-01 00:00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cell.String(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestCell_NaNIsEmpty(t *testing.T) {
	c := Number(math.NaN())
	if !c.IsEmpty() {
		t.Errorf("expected NaN to be stored as empty, got kind %s", c.Kind())
	}
	if _, ok := c.Float(); ok {
		t.Error("expected no float value for NaN")
	}
}

func TestTable_HeadersTrimmedAndRowsPadded(t *testing.T) {
	tbl := sampleTable()

	if !tbl.HasColumn("Execution ID") {
		t.Errorf("expected trimmed header, got %v", tbl.Columns())
	}
	if got := tbl.Row(2).Get("Account"); !got.IsEmpty() {
		t.Errorf("expected padded empty cell, got %v", got)
	}
	if tbl.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", tbl.Len())
	}
}

func TestTable_DuplicateHeaders(t *testing.T) {
	tbl := NewTable("x", []string{"ID", "ID", "ID"}, nil)
	cols := tbl.Columns()
	expected := []string{"ID", "ID.1", "ID.2"}
	for i := range expected {
		if cols[i] != expected[i] {
			t.Errorf("expected column %d to be %s, got %s", i, expected[i], cols[i])
		}
	}
}

func TestTable_MissingColumn(t *testing.T) {
	tbl := sampleTable()

	_, err := tbl.Column("ISIN")
	if err == nil {
		t.Fatal("expected missing column error")
	}
	re, ok := apperrors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected ReconcilerError, got %T", err)
	}
	if re.Code != apperrors.CodeMissingColumn {
		t.Errorf("expected code %s, got %s", apperrors.CodeMissingColumn, re.Code)
	}
	if re.Context["table"] != "file 1" {
		t.Errorf("expected table context 'file 1', got %v", re.Context["table"])
	}
	available, _ := re.Context["available"].([]string)
	if len(available) != 3 {
		t.Errorf("expected 3 available columns, got %v", available)
	}
}

func TestTable_TransformsDoNotMutate(t *testing.T) {
	tbl := sampleTable()

	filtered := tbl.Filter(func(r Row) bool { return r.Get("Account").String() != "" })
	tagged := filtered.WithConstColumn(SourceColumn, Text("Unity"), true)
	withKey := tbl.WithColumn("PaperKey", []Cell{Text("a"), Text("b"), Text("c")})

	if tbl.Len() != 3 || len(tbl.Columns()) != 3 {
		t.Errorf("original table changed: %d rows, %v", tbl.Len(), tbl.Columns())
	}
	if filtered.Len() != 2 {
		t.Errorf("expected 2 filtered rows, got %d", filtered.Len())
	}
	if tagged.Columns()[0] != SourceColumn {
		t.Errorf("expected source column first, got %v", tagged.Columns())
	}
	if tagged.Row(1).Get(SourceColumn).String() != "Unity" {
		t.Errorf("expected tag on every row")
	}
	if cols := withKey.Columns(); cols[len(cols)-1] != "PaperKey" {
		t.Errorf("expected appended column last, got %v", cols)
	}
	if withKey.Row(2).Get("PaperKey").String() != "c" {
		t.Errorf("expected per-row values to line up")
	}
}

func TestTable_SelectAndProject(t *testing.T) {
	tbl := sampleTable()

	sel := tbl.Select([]int{2, 0})
	if sel.Row(0).Get("Execution ID").String() != "A3" {
		t.Errorf("expected A3 first, got %s", sel.Row(0).Get("Execution ID"))
	}

	proj, err := tbl.Project("Сумма тг", "Execution ID")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols := proj.Columns(); cols[0] != "Сумма тг" || len(cols) != 2 {
		t.Errorf("unexpected projected columns %v", cols)
	}
	if _, err := tbl.Project("nope"); !apperrors.IsCode(err, apperrors.CodeMissingColumn) {
		t.Errorf("expected missing column error, got %v", err)
	}
}

func TestConcat_UnionOfColumns(t *testing.T) {
	a := NewTable("a", []string{"ID", "Валюта"}, [][]Cell{{Text("1"), Text("USDT")}})
	b := NewTable("b", []string{"ID", "Сумма тг"}, [][]Cell{{Text("2"), Number(5)}})

	out := Concat(a, nil, b)
	expected := []string{"ID", "Валюта", "Сумма тг"}
	cols := out.Columns()
	if len(cols) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, cols)
	}
	for i := range expected {
		if cols[i] != expected[i] {
			t.Errorf("expected %v, got %v", expected, cols)
		}
	}
	if !out.Row(1).Get("Валюта").IsEmpty() {
		t.Error("expected empty currency for the second table")
	}
	if out.Row(0).Get("Сумма тг").Kind() != KindEmpty {
		t.Error("expected empty sum for the first table")
	}
}

func TestTable_Distinct(t *testing.T) {
	tbl := NewTable("x", []string{"a", "b"}, [][]Cell{
		{Text("1"), Number(1)},
		{Text("1"), Number(1)},
		{Text("1"), Text("1")},
	})
	if got := tbl.Distinct().Len(); got != 2 {
		t.Errorf("expected 2 distinct rows (text and number differ), got %d", got)
	}
}

func TestTable_JSONRoundTripKeepsColumnOrder(t *testing.T) {
	tbl := NewTable("x", []string{"z", "a", "m"}, [][]Cell{
		{Text("1"), Number(2.5), Empty()},
	})

	data, err := json.Marshal(tbl)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := `[{"z":"1","a":2.5,"m":null}]`
	if string(data) != expected {
		t.Errorf("expected %s, got %s", expected, data)
	}

	var back Table
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cols := back.Columns()
	if cols[0] != "z" || cols[1] != "a" || cols[2] != "m" {
		t.Errorf("expected column order z,a,m, got %v", cols)
	}
	if f, ok := back.Row(0).Get("a").Float(); !ok || f != 2.5 {
		t.Errorf("expected number 2.5, got %v", back.Row(0).Get("a"))
	}
}

func TestAccountSummary(t *testing.T) {
	s := NewAccountSummary(map[string]int{"200": 1, "100": 3, "": 2})

	if s[0].Account != "" || s[1].Account != "100" || s[2].Account != "200" {
		t.Errorf("expected sorted accounts, got %v", s)
	}
	if s.Total() != 6 {
		t.Errorf("expected total 6, got %d", s.Total())
	}
	if s.Lookup("100") != 3 || s.Lookup("999") != 0 {
		t.Errorf("unexpected lookups: %d, %d", s.Lookup("100"), s.Lookup("999"))
	}
}
