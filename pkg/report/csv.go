package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/seqops/seqaudit/pkg/audit"
)

var csvHeader = []string{
	"assay",
	"run",
	"upload",
	"first_job",
	"last_job",
	"release",
	"upload_to_first_job_days",
	"pipeline_days",
	"processing_to_release_days",
	"overall_days",
	"classification",
	"flags",
}

// RenderCSV renders one row per run across all assays, suitable for
// downstream spreadsheet analysis.
func RenderCSV(report *audit.Report) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for i := range report.Assays {
		assay := &report.Assays[i]

		for j := range assay.Records {
			rec := &assay.Records[j]

			row := []string{
				assay.AssayType,
				rec.Run.Name,
				csvStamp(rec.Times.Upload),
				csvStamp(rec.Times.FirstJob),
				csvStamp(rec.Times.LastJob),
				csvStamp(rec.Times.Release),
				csvDays(rec.UploadToFirstJob),
				csvDays(rec.PipelineDuration),
				csvDays(rec.ProcessingToRelease),
				csvDays(rec.OverallTAT),
				string(rec.Classification),
				strings.Join(rec.ReviewReasons, ";"),
			}

			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("writing row: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flushing: %w", err)
	}

	return buf.Bytes(), nil
}

func csvStamp(ts audit.Timestamp) string {
	if !ts.Resolved() {
		return ts.Reason
	}

	return ts.Time.UTC().Format(time.RFC3339)
}

func csvDays(d *time.Duration) string {
	if d == nil {
		return ""
	}

	return fmt.Sprintf("%.4f", audit.Days(*d))
}
