package audit

import (
	"sort"
	"time"
)

// TypoEntry is a naming mismatch between a run and one of its artifacts
// (ticket title or staging folder), surfaced so someone can fix the name.
type TypoEntry struct {
	AssayType string
	RunName   string
	Observed  string
}

// CancelledRun is a run that was never released, kept out of all duration
// and compliance statistics.
type CancelledRun struct {
	RunName       string
	AssayType     string
	TicketCreated time.Time
	Reason        string
}

// UnmatchedTicket is a ticket inside the audit window with no matching
// workspace run.
type UnmatchedTicket struct {
	Ticket Ticket

	// EstimatedTAT is ticket resolution minus ticket creation, the best
	// available estimate when a released run has no workspace.
	EstimatedTAT *time.Duration
}

// AssaySummary aggregates the audit results for one assay type.
type AssaySummary struct {
	AssayType string
	Records   []TatRecord
	Counts    map[Classification]int

	// CompliantRuns / RelevantRuns is the compliance fraction.
	// Needs-review and cancelled records are excluded from the
	// denominator.
	CompliantRuns int
	RelevantRuns  int

	MeanOverallDays           float64
	MedianOverallDays         float64
	MeanUploadToFirstJobDays  float64
	MeanPipelineDays          float64
	MeanProcessingReleaseDays float64

	// ReviewBuckets groups run names by review reason.
	ReviewBuckets map[string][]string
}

// CompliancePercent returns the compliance fraction as a percentage, zero
// when no runs are relevant.
func (s *AssaySummary) CompliancePercent() float64 {
	if s.RelevantRuns == 0 {
		return 0
	}

	return float64(s.CompliantRuns) / float64(s.RelevantRuns) * 100
}

// Report is the full output of one audit invocation, consumed by the
// HTML/CSV renderers and the archive.
type Report struct {
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time

	Assays []AssaySummary

	TicketTypos []TypoEntry
	FolderTypos []TypoEntry

	Cancelled           []CancelledRun
	OpenNoWorkspace     []UnmatchedTicket
	ReleasedNoWorkspace []UnmatchedTicket
}

// TotalRuns returns the number of records across all assays.
func (r *Report) TotalRuns() int {
	var n int
	for i := range r.Assays {
		n += len(r.Assays[i].Records)
	}

	return n
}

// Aggregate groups per-run records into per-assay summaries. assayTypes
// fixes the output order; assays with no records still get a summary so
// the report renders an (empty) section for them.
func Aggregate(records []TatRecord, assayTypes []string) []AssaySummary {
	byAssay := make(map[string][]TatRecord, len(assayTypes))
	for _, rec := range records {
		byAssay[rec.Run.AssayType] = append(
			byAssay[rec.Run.AssayType], rec,
		)
	}

	summaries := make([]AssaySummary, 0, len(assayTypes))
	for _, assay := range assayTypes {
		summaries = append(summaries, summarize(assay, byAssay[assay]))
	}

	return summaries
}

func summarize(assay string, records []TatRecord) AssaySummary {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Run.Name < records[j].Run.Name
	})

	summary := AssaySummary{
		AssayType:     assay,
		Records:       records,
		Counts:        make(map[Classification]int, 4),
		ReviewBuckets: make(map[string][]string),
	}

	var (
		overall, uploadToFirst, pipeline, processingRelease []float64
	)

	for i := range records {
		rec := &records[i]
		summary.Counts[rec.Classification]++

		switch rec.Classification {
		case ClassCompliant:
			summary.CompliantRuns++
			summary.RelevantRuns++
		case ClassNonCompliant:
			summary.RelevantRuns++
		case ClassNeedsReview:
			for _, reason := range rec.ReviewReasons {
				summary.ReviewBuckets[reason] = append(
					summary.ReviewBuckets[reason],
					rec.Run.Name,
				)
			}
		case ClassCancelled:
			// Excluded from every statistic.
			continue
		}

		appendDays(&overall, rec.OverallTAT)
		appendDays(&uploadToFirst, rec.UploadToFirstJob)
		appendDays(&pipeline, rec.PipelineDuration)
		appendDays(&processingRelease, rec.ProcessingToRelease)
	}

	summary.MeanOverallDays = mean(overall)
	summary.MedianOverallDays = median(overall)
	summary.MeanUploadToFirstJobDays = mean(uploadToFirst)
	summary.MeanPipelineDays = mean(pipeline)
	summary.MeanProcessingReleaseDays = mean(processingRelease)

	return summary
}

func appendDays(values *[]float64, d *time.Duration) {
	if d != nil {
		*values = append(*values, Days(*d))
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}

	return sorted[mid]
}
