package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"neoexcelsync/internal/reconciler"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging and fallbacks
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, err
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely generates a report, falling back to the console
// format when a structured format fails and to a backup file when the
// output file cannot be written.
func (srg *SafeReportGenerator) GenerateReportSafely(bundle *reconciler.Bundle, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Info("Starting report generation")

	if bundle == nil {
		return errors.ValidationError(errors.CodeMissingField, "bundle", nil, nil).
			WithSuggestion("Run a comparison first")
	}
	if writer == nil {
		return errors.ValidationError(errors.CodeMissingField, "writer", nil, nil).
			WithSuggestion("Provide a valid output writer")
	}

	err := srg.GenerateReport(bundle, writer)
	if err == nil {
		srg.logger.Info("Report generation completed successfully")
		return nil
	}
	srg.logger.WithError(err).Warn("Primary report generation failed, attempting fallback")

	if f, ok := writer.(*os.File); ok && f.Name() != "" && isFileError(err) {
		return srg.generateToBackup(bundle, f.Name(), err)
	}
	if srg.config.Format != FormatConsole {
		return srg.generateAsConsole(bundle, writer, err)
	}
	return wrapGenerationError(err)
}

func (srg *SafeReportGenerator) generateAsConsole(bundle *reconciler.Bundle, writer io.Writer, originalErr error) error {
	fallback := *srg.config
	fallback.Format = FormatConsole
	gen, err := NewReportGenerator(&fallback)
	if err != nil {
		return wrapGenerationError(originalErr)
	}

	srg.logger.WithField("fallback_format", FormatConsole).Info("Attempting format fallback")
	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", originalErr)

	if err := gen.GenerateReport(bundle, writer); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", originalErr, err),
		)
	}
	return nil
}

func (srg *SafeReportGenerator) generateToBackup(bundle *reconciler.Bundle, originalPath string, originalErr error) error {
	backupPath := backupPath(originalPath)
	srg.logger.WithFields(logger.Fields{
		"original_file": originalPath,
		"backup_file":   backupPath,
	}).Info("Attempting output fallback")

	f, err := os.Create(backupPath)
	if err != nil {
		return wrapGenerationError(originalErr)
	}
	defer f.Close()

	if err := srg.GenerateReport(bundle, f); err != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_output_fallback",
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", originalErr, err),
		)
	}
	fmt.Fprintf(os.Stderr, "Warning: Could not write to %s, report saved to %s\n", originalPath, backupPath)
	return nil
}

func isFileError(err error) bool {
	if os.IsPermission(err) || os.IsNotExist(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") || strings.Contains(msg, "disk full")
}

func backupPath(originalPath string) string {
	ext := filepath.Ext(originalPath)
	return strings.TrimSuffix(originalPath, ext) + "_backup" + ext
}

func wrapGenerationError(err error) error {
	if re, ok := errors.AsReconcilerError(err); ok {
		return re
	}
	return errors.InternalError(errors.CodeProcessingError, "report_generation", err).
		WithSuggestion("Check the output destination and report format settings")
}

func getWriterDescription(writer io.Writer) string {
	if f, ok := writer.(*os.File); ok {
		if f.Name() != "" {
			return "file:" + f.Name()
		}
		return "file:unnamed"
	}
	return fmt.Sprintf("writer:%T", writer)
}
