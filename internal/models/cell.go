package models

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// CellKind represents the dynamic type of a spreadsheet cell
type CellKind int

const (
	KindEmpty CellKind = iota
	KindString
	KindNumber
	KindDate
)

// String returns the string representation of CellKind
func (k CellKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "empty"
	}
}

// DateLayout is the textual form of date cells.
const DateLayout = "2006-01-02 15:04:05"

// Cell is one dynamically-typed spreadsheet value. The zero value is empty.
type Cell struct {
	kind CellKind
	str  string
	num  float64
	date time.Time
}

// Empty returns an empty cell.
func Empty() Cell { return Cell{} }

// Text returns a string cell.
func Text(s string) Cell { return Cell{kind: KindString, str: s} }

// Number returns a numeric cell. NaN is stored as empty.
func Number(f float64) Cell {
	if math.IsNaN(f) {
		return Cell{}
	}
	return Cell{kind: KindNumber, num: f}
}

// Date returns a date cell.
func Date(t time.Time) Cell { return Cell{kind: KindDate, date: t} }

// Kind returns the kind of the cell
func (c Cell) Kind() CellKind { return c.kind }

// IsEmpty reports whether the cell holds nothing (null or NaN).
func (c Cell) IsEmpty() bool { return c.kind == KindEmpty }

// Float returns the numeric value of a number cell.
func (c Cell) Float() (float64, bool) {
	if c.kind != KindNumber {
		return 0, false
	}
	return c.num, true
}

// Time returns the value of a date cell.
func (c Cell) Time() (time.Time, bool) {
	if c.kind != KindDate {
		return time.Time{}, false
	}
	return c.date, true
}

// String returns the textual form of the cell. Numbers use the shortest
// representation, so 12345 prints as "12345".
func (c Cell) String() string {
	switch c.kind {
	case KindString:
		return c.str
	case KindNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case KindDate:
		return c.date.Format(DateLayout)
	default:
		return ""
	}
}

// Equal compares kind and value.
func (c Cell) Equal(other Cell) bool {
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case KindString:
		return c.str == other.str
	case KindNumber:
		return c.num == other.num
	case KindDate:
		return c.date.Equal(other.date)
	default:
		return true
	}
}

// MarshalJSON implements custom JSON marshaling for Cell
func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindString:
		return json.Marshal(c.str)
	case KindNumber:
		if math.IsInf(c.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(c.num)
	case KindDate:
		return json.Marshal(c.date.Format("2006-01-02T15:04:05"))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements custom JSON unmarshaling for Cell
func (c *Cell) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = CellFromValue(v)
	return nil
}

// CellFromValue converts a decoded JSON value into a cell.
func CellFromValue(v interface{}) Cell {
	switch val := v.(type) {
	case nil:
		return Empty()
	case string:
		return Text(val)
	case float64:
		return Number(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return Text(val.String())
		}
		return Number(f)
	case bool:
		return Text(strconv.FormatBool(val))
	default:
		b, _ := json.Marshal(val)
		return Text(string(b))
	}
}
