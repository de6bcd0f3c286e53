package matcher

import (
	"fmt"
	"strings"

	"neoexcelsync/pkg/errors"
)

// Column defaults of the reconcile tool forms.
const (
	DefaultPaperColumn     = "Ценная бумага"
	DefaultOperationColumn = "Тип операции ФИ"
	DefaultAmountColumn    = "Сумма в валюте"
	DefaultInstrumentCol   = "Instrument"
	DefaultSideColumn      = "Side"
	DefaultAISAmountColumn = "Amount"

	MaxRoundTo = 6
)

// ReconcileColumns names the ID and account columns of both files.
type ReconcileColumns struct {
	IDColA  string `json:"id_col_1"`
	AccColA string `json:"acc_col_1"`
	IDColB  string `json:"id_col_2"`
	AccColB string `json:"acc_col_2"`
}

// Validate checks that both ID columns are named.
func (c ReconcileColumns) Validate() error {
	if strings.TrimSpace(c.IDColA) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id_col_1", c.IDColA, nil)
	}
	if strings.TrimSpace(c.IDColB) == "" {
		return errors.ValidationError(errors.CodeMissingField, "id_col_2", c.IDColB, nil)
	}
	return nil
}

// DuplicateOptions configures the single-file duplicate finder.
type DuplicateOptions struct {
	PaperColumn  string `json:"paper_col"`
	AmountColumn string `json:"amount_col"`
	MinRepeats   int    `json:"min_repeats"`
	RoundTo      int    `json:"round_to"`
	// ChosenPaperKey and ChosenAmount select one (paper, amount) pair whose
	// rows are returned in full. Both must be set.
	ChosenPaperKey *string  `json:"chosen_paper_key,omitempty"`
	ChosenAmount   *float64 `json:"chosen_amount,omitempty"`
}

// DefaultDuplicateOptions returns the tool form defaults.
func DefaultDuplicateOptions() DuplicateOptions {
	return DuplicateOptions{
		PaperColumn:  DefaultPaperColumn,
		AmountColumn: DefaultAmountColumn,
		MinRepeats:   2,
		RoundTo:      2,
	}
}

// Validate checks the repeat threshold and the rounding precision
func (o DuplicateOptions) Validate() error {
	if o.MinRepeats < 2 {
		return errors.ValidationError(errors.CodeOutOfRange, "min_repeats", o.MinRepeats, nil).
			WithSuggestion("min_repeats must be at least 2")
	}
	return validateRoundTo(o.RoundTo)
}

func validateRoundTo(roundTo int) error {
	if roundTo < 0 || roundTo > MaxRoundTo {
		return errors.ValidationError(errors.CodeOutOfRange, "round_to", roundTo, nil).
			WithSuggestion(fmt.Sprintf("round_to must be between 0 and %d", MaxRoundTo))
	}
	return nil
}

// InstrumentDirectionOptions configures the instrument/direction summary.
type InstrumentDirectionOptions struct {
	Col1     string `json:"col1"`
	Op1Col   string `json:"op1_col"`
	Col2     string `json:"col2"`
	Side2Col string `json:"side2_col"`
	// Target, when set, selects the summary rows of one instrument.
	Target string `json:"target,omitempty"`
}

// DefaultInstrumentDirectionOptions returns the tool form defaults.
func DefaultInstrumentDirectionOptions() InstrumentDirectionOptions {
	return InstrumentDirectionOptions{
		Col1:     DefaultPaperColumn,
		Op1Col:   DefaultOperationColumn,
		Col2:     DefaultInstrumentCol,
		Side2Col: DefaultSideColumn,
	}
}

// AmountPaperOptions configures the two-file (paper, amount) summary.
type AmountPaperOptions struct {
	Paper1Col  string `json:"paper1_col"`
	Amount1Col string `json:"amount1_col"`
	Paper2Col  string `json:"paper2_col"`
	Amount2Col string `json:"amount2_col"`
	RoundTo    int    `json:"round_to"`
}

// DefaultAmountPaperOptions returns the tool form defaults.
func DefaultAmountPaperOptions() AmountPaperOptions {
	return AmountPaperOptions{
		Paper1Col:  DefaultPaperColumn,
		Amount1Col: DefaultAmountColumn,
		Paper2Col:  DefaultInstrumentCol,
		Amount2Col: DefaultAISAmountColumn,
		RoundTo:    2,
	}
}

// Validate checks the rounding precision
func (o AmountPaperOptions) Validate() error {
	return validateRoundTo(o.RoundTo)
}
