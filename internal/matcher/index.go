package matcher

import (
	"sort"

	"neoexcelsync/internal/models"
	"neoexcelsync/internal/normalize"
)

// IDIndex maps cleaned identifiers to the positions of the rows carrying them.
type IDIndex struct {
	positions map[string][]int
	keys      []string
	rows      int
	empty     int
}

// IndexStats summarizes an IDIndex
type IndexStats struct {
	Rows       int `json:"rows"`
	UniqueIDs  int `json:"unique_ids"`
	EmptyIDs   int `json:"empty_ids"`
	Duplicated int `json:"duplicated_ids"`
}

// NewIDIndex indexes the cleaned values of the ID column. A missing column
// is a missing_column error.
func NewIDIndex(t *models.Table, idColumn string) (*IDIndex, error) {
	col, err := t.Column(idColumn)
	if err != nil {
		return nil, err
	}

	idx := &IDIndex{positions: make(map[string][]int, t.Len()), rows: t.Len()}
	for _, row := range t.Rows() {
		id := normalize.CleanID(row.Value(col))
		if id == "" {
			idx.empty++
		}
		if _, seen := idx.positions[id]; !seen {
			idx.keys = append(idx.keys, id)
		}
		idx.positions[id] = append(idx.positions[id], row.Index())
	}
	return idx, nil
}

// Contains reports whether any row carries the ID.
func (idx *IDIndex) Contains(id string) bool {
	_, ok := idx.positions[id]
	return ok
}

// Positions returns the row positions of an ID in table order.
func (idx *IDIndex) Positions(id string) []int {
	return idx.positions[id]
}

// DuplicatePositions returns, in table order, the positions of every row
// whose non-empty ID occurs more than once.
func (idx *IDIndex) DuplicatePositions() []int {
	var out []int
	for _, id := range idx.keys {
		if id == "" {
			continue
		}
		if pos := idx.positions[id]; len(pos) > 1 {
			out = append(out, pos...)
		}
	}
	sort.Ints(out)
	return out
}

// GetIndexStats returns statistics about the index
func (idx *IDIndex) GetIndexStats() IndexStats {
	stats := IndexStats{Rows: idx.rows, EmptyIDs: idx.empty}
	for _, id := range idx.keys {
		if id == "" {
			continue
		}
		stats.UniqueIDs++
		if len(idx.positions[id]) > 1 {
			stats.Duplicated++
		}
	}
	return stats
}
