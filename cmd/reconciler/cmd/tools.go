package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"neoexcelsync/cmd/reconciler/config"
	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/models"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/internal/reporter"
	"neoexcelsync/internal/splits"
	"neoexcelsync/pkg/logger"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "Find (paper, amount) pairs repeated within one file",
	Long: `Duplicates groups the rows of one file by normalized paper key and
rounded amount and lists every pair seen at least --min-repeats times.

Examples:
  reconciler duplicates --file deals.xlsx
  reconciler duplicates --file deals.csv --min-repeats 3 --round-to 0 --xlsx duplicates_export.xlsx`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFileExists(viper.GetString("duplicates.file"), "file")
	},
	RunE: runDuplicates,
}

var instrumentDirectionCmd = &cobra.Command{
	Use:   "instrument-direction",
	Short: "Compare deal counts per instrument and direction",
	Long: `Instrument-direction counts the deals of both files per (instrument,
direction) and prints the difference. File 1 carries a paper and an
operation column, file 2 an instrument and a side column.

Examples:
  reconciler instrument-direction --file1 unity.xlsx --file2 ais.xlsx
  reconciler instrument-direction --file1 unity.xlsx --file2 ais.xlsx --target KZTO`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validatePair("instrument-direction")
	},
	RunE: runInstrumentDirection,
}

var amountPaperCmd = &cobra.Command{
	Use:   "amount-paper",
	Short: "Compare (paper, amount) pair counts of two files",
	Long: `Amount-paper counts the (paper key, rounded amount) pairs of both files
and prints the pairs whose counts differ.

Examples:
  reconciler amount-paper --file1 unity.xlsx --file2 ais.xlsx --round-to 0`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validatePair("amount-paper")
	},
	RunE: runAmountPaper,
}

var checkSplitsCmd = &cobra.Command{
	Use:   "check-splits",
	Short: "Check a daily file against the split reference list",
	Long: `Check-splits reports the rows of a daily file whose security appears in
the split reference list named by the settings file. The check must be
enabled in the settings.

Examples:
  reconciler check-splits --daily-file daily.xlsx --settings settings.yaml`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFileExists(viper.GetString("check-splits.daily-file"), "daily-file")
	},
	RunE: runCheckSplits,
}

func init() {
	dupDefaults := matcher.DefaultDuplicateOptions()
	f := duplicatesCmd.Flags()
	f.String("file", "", "file to scan (required)")
	f.String("paper-col", dupDefaults.PaperColumn, "paper column")
	f.String("amount-col", dupDefaults.AmountColumn, "amount column")
	f.Int("min-repeats", dupDefaults.MinRepeats, "minimum occurrences of a pair, at least 2")
	f.Int("round-to", dupDefaults.RoundTo, "amount rounding precision, 0 to 6")
	f.String("xlsx", "", "also write the workbook to this path")
	_ = duplicatesCmd.MarkFlagRequired("file")

	idDefaults := matcher.DefaultInstrumentDirectionOptions()
	f = instrumentDirectionCmd.Flags()
	f.String("file1", "", "file with paper and operation columns (required)")
	f.String("file2", "", "file with instrument and side columns (required)")
	f.String("col1", idDefaults.Col1, "paper column of file 1")
	f.String("op1-col", idDefaults.Op1Col, "operation column of file 1")
	f.String("col2", idDefaults.Col2, "instrument column of file 2")
	f.String("side2-col", idDefaults.Side2Col, "side column of file 2")
	f.String("target", "", "print the rows of this instrument separately")
	f.String("xlsx", "", "also write the workbook to this path")

	apDefaults := matcher.DefaultAmountPaperOptions()
	f = amountPaperCmd.Flags()
	f.String("file1", "", "first file (required)")
	f.String("file2", "", "second file (required)")
	f.String("paper1-col", apDefaults.Paper1Col, "paper column of file 1")
	f.String("amount1-col", apDefaults.Amount1Col, "amount column of file 1")
	f.String("paper2-col", apDefaults.Paper2Col, "paper column of file 2")
	f.String("amount2-col", apDefaults.Amount2Col, "amount column of file 2")
	f.Int("round-to", apDefaults.RoundTo, "amount rounding precision, 0 to 6")
	f.String("xlsx", "", "also write the workbook to this path")

	f = checkSplitsCmd.Flags()
	f.String("daily-file", "", "daily file to check (required)")
	f.String("settings", "", "settings YAML file (default: built-in settings)")
	_ = checkSplitsCmd.MarkFlagRequired("daily-file")

	for _, c := range []*cobra.Command{duplicatesCmd, instrumentDirectionCmd, amountPaperCmd, checkSplitsCmd} {
		c.Flags().StringP("output-format", "f", "console", "output format: console, json, csv")
		rootCmd.AddCommand(c)
		bindFlags(c, c.Name())
	}
	for _, c := range []*cobra.Command{instrumentDirectionCmd, amountPaperCmd} {
		_ = c.MarkFlagRequired("file1")
		_ = c.MarkFlagRequired("file2")
	}
}

func validatePair(prefix string) error {
	for _, key := range []string{"file1", "file2"} {
		if err := validateFileExists(viper.GetString(prefix+"."+key), key); err != nil {
			return err
		}
	}
	return validateOutputDir(viper.GetString(prefix + ".xlsx"))
}

// printTable writes t to stdout in the format named by "<prefix>.output-format".
func printTable(prefix string, t *models.Table) error {
	cfg, err := config.CreateReportConfig(viper.GetString(prefix + ".output-format"))
	if err != nil {
		return err
	}
	gen, err := reporter.NewReportGenerator(cfg)
	if err != nil {
		return err
	}
	return gen.WriteTable(t, os.Stdout)
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	opts := matcher.DefaultDuplicateOptions()
	opts.PaperColumn = viper.GetString("duplicates.paper-col")
	opts.AmountColumn = viper.GetString("duplicates.amount-col")
	opts.MinRepeats = viper.GetInt("duplicates.min-repeats")
	opts.RoundTo = viper.GetInt("duplicates.round-to")
	if err := opts.Validate(); err != nil {
		return err
	}

	svc, err := newService(nil)
	if err != nil {
		return err
	}
	report, err := svc.Duplicates(context.Background(), fileSource("file", viper.GetString("duplicates.file")), opts)
	if err != nil {
		return err
	}

	if err := printTable("duplicates", report.Summary()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Found %d duplicate pairs covering %d rows\n", report.Stats.DupGroups, report.Stats.DupRows)

	return writeWorkbook(viper.GetString("duplicates.xlsx"), func(exp *exporter.Exporter) ([]byte, error) {
		return exp.Duplicates(report)
	})
}

func runInstrumentDirection(cmd *cobra.Command, args []string) error {
	opts := matcher.DefaultInstrumentDirectionOptions()
	opts.Col1 = viper.GetString("instrument-direction.col1")
	opts.Op1Col = viper.GetString("instrument-direction.op1-col")
	opts.Col2 = viper.GetString("instrument-direction.col2")
	opts.Side2Col = viper.GetString("instrument-direction.side2-col")
	opts.Target = strings.TrimSpace(viper.GetString("instrument-direction.target"))

	svc, err := newService(nil)
	if err != nil {
		return err
	}
	report, err := svc.InstrumentDirection(context.Background(),
		fileSource("file 1", viper.GetString("instrument-direction.file1")),
		fileSource("file 2", viper.GetString("instrument-direction.file2")),
		opts)
	if err != nil {
		return err
	}

	if err := printTable("instrument-direction", report.Summary); err != nil {
		return err
	}
	if report.Target != nil {
		if err := printTable("instrument-direction", report.Target); err != nil {
			return err
		}
	}
	logger.GetGlobalLogger().WithComponent("cli").WithFields(logger.Fields{
		"rows_file1":   report.Stats.RowsFile1,
		"rows_file2":   report.Stats.RowsFile2,
		"unique_pairs": report.Stats.UniquePairs,
	}).Debug("Instrument summary built")

	return writeWorkbook(viper.GetString("instrument-direction.xlsx"), func(exp *exporter.Exporter) ([]byte, error) {
		return exp.Summary(report.Summary)
	})
}

func runAmountPaper(cmd *cobra.Command, args []string) error {
	opts := matcher.DefaultAmountPaperOptions()
	opts.Paper1Col = viper.GetString("amount-paper.paper1-col")
	opts.Amount1Col = viper.GetString("amount-paper.amount1-col")
	opts.Paper2Col = viper.GetString("amount-paper.paper2-col")
	opts.Amount2Col = viper.GetString("amount-paper.amount2-col")
	opts.RoundTo = viper.GetInt("amount-paper.round-to")
	if err := opts.Validate(); err != nil {
		return err
	}

	svc, err := newService(nil)
	if err != nil {
		return err
	}
	summary, err := svc.AmountPaper(context.Background(),
		fileSource("file 1", viper.GetString("amount-paper.file1")),
		fileSource("file 2", viper.GetString("amount-paper.file2")),
		opts)
	if err != nil {
		return err
	}
	if err := printTable("amount-paper", summary); err != nil {
		return err
	}
	return writeWorkbook(viper.GetString("amount-paper.xlsx"), func(exp *exporter.Exporter) ([]byte, error) {
		return exp.Summary(summary)
	})
}

func runCheckSplits(cmd *cobra.Command, args []string) error {
	st, err := config.LoadSettings(viper.GetString("check-splits.settings"))
	if err != nil {
		return err
	}
	loader, err := parsers.NewLoader(nil)
	if err != nil {
		return err
	}

	hits, err := splits.NewDetector(loader).Check(context.Background(), viper.GetString("check-splits.daily-file"), st.SplitSettings())
	if err != nil {
		return err
	}
	if hits.Len() == 0 {
		fmt.Fprintln(os.Stderr, "No splits found")
		return nil
	}
	fmt.Fprintf(os.Stderr, "Found %d splits\n", hits.Len())
	return printTable("check-splits", hits)
}
