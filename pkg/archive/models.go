package archive

import (
	"strings"
	"time"

	"github.com/seqops/seqaudit/pkg/audit"
)

// Audit is one archived audit invocation.
type Audit struct {
	ID uint `gorm:"primaryKey"`

	PeriodStart time.Time `gorm:"index"`
	PeriodEnd   time.Time
	GeneratedAt time.Time

	TotalRuns int

	// Denormalized per-assay compliance, serialized for display without
	// loading every record.
	Summaries []AssaySummary `gorm:"foreignKey:AuditID"`
	Records   []Record       `gorm:"foreignKey:AuditID"`
}

// AssaySummary is the per-assay aggregate of one archived audit.
type AssaySummary struct {
	ID      uint `gorm:"primaryKey"`
	AuditID uint `gorm:"index;not null"`

	AssayType         string `gorm:"index"`
	CompliantRuns     int
	RelevantRuns      int
	CompliancePercent float64
	MeanOverallDays   float64
	MedianOverallDays float64
}

// Record is one archived per-run result.
type Record struct {
	ID      uint `gorm:"primaryKey"`
	AuditID uint `gorm:"index;not null"`

	AssayType   string `gorm:"index"`
	RunName     string `gorm:"index"`
	WorkspaceID string
	TicketKey   string

	Upload   *time.Time
	FirstJob *time.Time
	LastJob  *time.Time
	Release  *time.Time

	UploadToFirstJobDays    *float64
	PipelineDays            *float64
	ProcessingToReleaseDays *float64
	OverallDays             *float64

	Classification string `gorm:"index"`
	ReviewReasons  string
}

// newAuditRow flattens a report into archive rows.
func newAuditRow(report *audit.Report) *Audit {
	row := &Audit{
		PeriodStart: report.Start,
		PeriodEnd:   report.End,
		GeneratedAt: report.GeneratedAt,
		TotalRuns:   report.TotalRuns(),
	}

	for i := range report.Assays {
		summary := &report.Assays[i]

		row.Summaries = append(row.Summaries, AssaySummary{
			AssayType:         summary.AssayType,
			CompliantRuns:     summary.CompliantRuns,
			RelevantRuns:      summary.RelevantRuns,
			CompliancePercent: summary.CompliancePercent(),
			MeanOverallDays:   summary.MeanOverallDays,
			MedianOverallDays: summary.MedianOverallDays,
		})

		for j := range summary.Records {
			row.Records = append(
				row.Records, newRecordRow(&summary.Records[j]),
			)
		}
	}

	return row
}

func newRecordRow(rec *audit.TatRecord) Record {
	row := Record{
		AssayType:               rec.Run.AssayType,
		RunName:                 rec.Run.Name,
		WorkspaceID:             rec.Run.WorkspaceID,
		Upload:                  stampTime(rec.Times.Upload),
		FirstJob:                stampTime(rec.Times.FirstJob),
		LastJob:                 stampTime(rec.Times.LastJob),
		Release:                 stampTime(rec.Times.Release),
		UploadToFirstJobDays:    durationDays(rec.UploadToFirstJob),
		PipelineDays:            durationDays(rec.PipelineDuration),
		ProcessingToReleaseDays: durationDays(rec.ProcessingToRelease),
		OverallDays:             durationDays(rec.OverallTAT),
		Classification:          string(rec.Classification),
		ReviewReasons:           strings.Join(rec.ReviewReasons, ";"),
	}

	if rec.Ticket != nil {
		row.TicketKey = rec.Ticket.Key
	}

	return row
}

func stampTime(ts audit.Timestamp) *time.Time {
	if !ts.Resolved() {
		return nil
	}

	t := ts.Time

	return &t
}

func durationDays(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}

	days := audit.Days(*d)

	return &days
}
