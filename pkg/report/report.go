// Package report renders audit results to HTML and CSV files.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/seqops/seqaudit/pkg/audit"
)

// Writer renders audit reports into an output directory.
type Writer struct {
	log       logrus.FieldLogger
	outputDir string
}

// NewWriter creates a Writer rooted at outputDir.
func NewWriter(log logrus.FieldLogger, outputDir string) *Writer {
	return &Writer{
		log:       log.WithField("component", "report"),
		outputDir: outputDir,
	}
}

// Write renders the report in the requested formats and returns the
// written file paths. Files are written atomically: a crashed render
// never leaves a truncated report behind.
func (w *Writer) Write(
	report *audit.Report, formats []string,
) ([]string, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	base := fmt.Sprintf(
		"tat_audit_%s_%s",
		report.Start.Format("2006-01-02"),
		report.End.Format("2006-01-02"),
	)

	var paths []string

	for _, format := range formats {
		var (
			data []byte
			err  error
		)

		switch format {
		case "html":
			data, err = RenderHTML(report)
		case "csv":
			data, err = RenderCSV(report)
		default:
			return nil, fmt.Errorf("unknown report format %q", format)
		}

		if err != nil {
			return nil, fmt.Errorf("rendering %s report: %w", format, err)
		}

		path := filepath.Join(w.outputDir, base+"."+format)
		if err := writeAtomic(path, data); err != nil {
			return nil, fmt.Errorf("writing %s report: %w", format, err)
		}

		w.log.WithField("path", path).Info("Report written")
		paths = append(paths, path)
	}

	return paths, nil
}

// writeAtomic writes data to path via a temp file in the same directory
// and a rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-report-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("setting permissions: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
