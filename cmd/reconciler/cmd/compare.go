package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"neoexcelsync/cmd/reconciler/config"
	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/matcher"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/internal/reporter"
	"neoexcelsync/internal/settings"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// compareCmd represents the compare command
var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare a Unity export with an AIS export",
	Long: `Compare matches the deals of a Unity export (file 1) and an AIS export
(file 2) by deal ID and reports the matches, the unmatched deals of each
side, the per-account summaries, the PODFT and crypto deals and the
duplicated IDs.

Column names default to the ones in the settings file.

Examples:
  reconciler compare --file1 unity.xlsx --file2 ais.xlsx
  reconciler compare --file1 unity.csv --file2 ais.xls --output-format json --output-file report.json
  reconciler compare --file1 unity.xlsx --file2 ais.xlsx --settings settings.yaml --xlsx Sverka_Report.xlsx`,

	PreRunE: validateCompareFlags,
	RunE:    runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	f := compareCmd.Flags()
	f.String("file1", "", "Unity export, xlsx, xls or csv (required)")
	f.String("file2", "", "AIS export, xlsx, xls or csv (required)")
	f.String("id-col-1", "", "deal ID column of file 1 (default from settings)")
	f.String("acc-col-1", "", "account column of file 1 (default from settings)")
	f.String("id-col-2", "", "deal ID column of file 2 (default from settings)")
	f.String("acc-col-2", "", "account column of file 2 (default from settings)")
	f.String("settings", "", "settings YAML file (default: built-in settings)")
	f.StringP("output-format", "f", "console", "output format: console, json, csv")
	f.StringP("output-file", "o", "", "output file path (default: stdout)")
	f.String("xlsx", "", "also write the styled workbook to this path")
	f.Bool("progress", false, "show progress of the pipeline steps")

	_ = compareCmd.MarkFlagRequired("file1")
	_ = compareCmd.MarkFlagRequired("file2")

	bindFlags(compareCmd, "compare")
}

// bindFlags binds every flag of cmd under "<prefix>.<flag>" so commands
// sharing a flag name do not override each other.
func bindFlags(cmd *cobra.Command, prefix string) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = viper.BindPFlag(prefix+"."+f.Name, f)
	})
}

func validateCompareFlags(cmd *cobra.Command, args []string) error {
	for _, key := range []string{"file1", "file2"} {
		if err := validateFileExists(viper.GetString("compare."+key), key); err != nil {
			return err
		}
	}
	if _, err := config.CreateReportConfig(viper.GetString("compare.output-format")); err != nil {
		return err
	}
	for _, key := range []string{"output-file", "xlsx"} {
		if err := validateOutputDir(viper.GetString("compare." + key)); err != nil {
			return err
		}
	}
	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath, nil).
			WithSuggestion(fmt.Sprintf("%s is a directory, expected a file", description))
	}
	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	return file.Close()
}

func validateOutputDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		return errors.FileError(errors.CodeFileNotFound, dir, err).
			WithSuggestion("create the output directory first")
	}
	return nil
}

// resolveColumns takes the ID and account columns from the flags,
// defaulting to the configured names.
func resolveColumns(st *settings.Settings, prefix string) matcher.ReconcileColumns {
	pick := func(key, fallback string) string {
		if v := viper.GetString(prefix + "." + key); v != "" {
			return v
		}
		return fallback
	}
	var idA, idB string
	if len(st.DefaultIDNames) > 0 {
		idA = st.DefaultIDNames[0]
	}
	if len(st.DefaultIDNames) > 1 {
		idB = st.DefaultIDNames[1]
	}
	return matcher.ReconcileColumns{
		IDColA:  pick("id-col-1", idA),
		AccColA: pick("acc-col-1", st.DefaultAccNameUnity),
		IDColB:  pick("id-col-2", idB),
		AccColB: pick("acc-col-2", st.DefaultAccNameAIS),
	}
}

func newService(st *settings.Settings) (*reconciler.ReconciliationService, error) {
	loader, err := parsers.NewLoader(nil)
	if err != nil {
		return nil, err
	}
	cfg := reconciler.DefaultConfig()
	if st != nil {
		if cfg, err = reconciler.ConfigFromSettings(st); err != nil {
			return nil, err
		}
	}
	return reconciler.NewReconciliationService(loader, cfg)
}

func fileSource(name, path string) parsers.Source {
	return parsers.Source{Name: name, Filename: filepath.Base(path), Path: path}
}

// openOutput returns stdout when path is empty. The returned close func is
// always safe to call.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return f, f.Close, nil
}

func writeWorkbook(path string, render func(*exporter.Exporter) ([]byte, error)) error {
	if path == "" {
		return nil
	}
	exp, err := exporter.NewExporter(nil)
	if err != nil {
		return err
	}
	data, err := render(exp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	logger.GetGlobalLogger().WithComponent("cli").WithField("path", path).Info("Workbook written")
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := logger.GetGlobalLogger().WithComponent("cli")

	st, err := config.LoadSettings(viper.GetString("compare.settings"))
	if err != nil {
		return err
	}
	svc, err := newService(st)
	if err != nil {
		return err
	}
	if viper.GetBool("compare.progress") {
		svc.AddProgressCallback(func(stats logger.ProgressStats) {
			fmt.Fprintf(os.Stderr, "\r%s", stats.String())
		})
	}

	req := &reconciler.CompareRequest{
		File1:   fileSource("Unity", viper.GetString("compare.file1")),
		File2:   fileSource("AIS", viper.GetString("compare.file2")),
		Columns: resolveColumns(st, "compare"),
	}
	log.WithFields(logger.Fields{
		"file1":   req.File1.Path,
		"file2":   req.File2.Path,
		"id_col1": req.Columns.IDColA,
		"id_col2": req.Columns.IDColB,
	}).Debug("Starting comparison")

	bundle, err := svc.Compare(ctx, req)
	if viper.GetBool("compare.progress") {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	reportConfig, err := config.CreateReportConfig(viper.GetString("compare.output-format"))
	if err != nil {
		return err
	}
	gen, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	out, closeOut, err := openOutput(viper.GetString("compare.output-file"))
	if err != nil {
		return err
	}
	if err := gen.GenerateReportSafely(bundle, out); err != nil {
		_ = closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return errors.FileError(errors.CodeFilePermission, viper.GetString("compare.output-file"), err)
	}

	return writeWorkbook(viper.GetString("compare.xlsx"), func(exp *exporter.Exporter) ([]byte, error) {
		return exp.Bundle(bundle)
	})
}
