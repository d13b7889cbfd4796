package audit

import "time"

// StatusPolicy groups ticket statuses by what they mean for release time
// computation. The sets come from configuration since helpdesk workflows
// differ per deployment.
type StatusPolicy struct {
	Released       []string
	UrgentReleased []string
	OnHold         []string
	Cancelled      []string
	Open           []string
}

func contains(set []string, status string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}

	return false
}

// IsCancelled reports whether status means the run was never released.
func (p StatusPolicy) IsCancelled(status string) bool {
	return contains(p.Cancelled, status)
}

// IsOpen reports whether status means the run is still in progress.
func (p StatusPolicy) IsOpen(status string) bool {
	return contains(p.Open, status)
}

// IsReleased reports whether status is a released terminal status.
func (p StatusPolicy) IsReleased(status string) bool {
	return contains(p.Released, status)
}

// Calculator derives the stage durations, the release time and the
// classification of a TatRecord from its resolved timestamps and matched
// ticket.
type Calculator struct {
	// Now is the wall-clock time captured once at audit start. Using a
	// single instant keeps one audit run internally consistent and lets
	// tests inject a fixed clock.
	Now time.Time

	// StandardDays is the turnaround-time standard a run must meet to
	// count as compliant.
	StandardDays int

	Statuses StatusPolicy
}

// Calculate fills in the derived durations and the classification.
func (c *Calculator) Calculate(rec *TatRecord) {
	times := &rec.Times

	rec.UploadToFirstJob = diff(times.Upload, times.FirstJob)
	rec.PipelineDuration = diff(times.FirstJob, times.LastJob)

	c.resolveRelease(rec)

	if rec.Classification == ClassCancelled {
		// Cancelled runs are excluded from every duration and
		// compliance statistic.
		rec.OverallTAT = nil
		rec.ProcessingToRelease = nil

		return
	}

	if times.Upload.Resolved() && times.Release.Resolved() {
		rec.OverallTAT = diff(times.Upload, times.Release)
	}

	c.classify(rec)
}

// resolveRelease determines the release time from the ticket status.
func (c *Calculator) resolveRelease(rec *TatRecord) {
	times := &rec.Times

	if rec.Ticket == nil {
		times.Release = Timestamp{Reason: ReasonNoTicket}

		return
	}

	status := rec.Ticket.Status

	switch {
	case c.Statuses.IsCancelled(status):
		rec.Classification = ClassCancelled

	case c.Statuses.IsReleased(status):
		if rec.Ticket.Resolved.IsZero() {
			times.Release = Timestamp{Reason: ReasonNotYetReleased}

			return
		}

		times.Release = Timestamp{Time: rec.Ticket.Resolved}
		rec.ProcessingToRelease = diff(times.LastJob, times.Release)

	case contains(c.Statuses.UrgentReleased, status):
		// Urgent samples went out but the ticket is still open: the
		// run is measured against the audit clock and flagged as
		// provisional, not final.
		times.Release = Timestamp{Time: c.Now}
		times.Provisional = true
		rec.Flag(FlagProvisional)
		rec.ProcessingToRelease = diff(times.LastJob, times.Release)

	case contains(c.Statuses.OnHold, status):
		// On-hold runs accrue time from whatever processing step
		// last completed.
		times.Release = Timestamp{Time: c.Now}
		times.Provisional = true
		rec.Flag(FlagProvisional)

		if last, ok := latestResolved(
			times.Upload, times.FirstJob, times.LastJob,
		); ok {
			rec.ProcessingToRelease = diff(last, times.Release)
		}

	default:
		times.Release = Timestamp{Reason: ReasonNotYetReleased}
	}
}

// classify applies the classification rules. A missing required timestamp
// always wins: such a record needs review regardless of any partial
// durations that could be computed.
func (c *Calculator) classify(rec *TatRecord) {
	times := &rec.Times

	for _, ts := range []Timestamp{
		times.Upload, times.FirstJob, times.LastJob,
	} {
		if !ts.Resolved() {
			rec.Classification = ClassNeedsReview
			rec.Flag(ts.Reason)

			return
		}
	}

	if !times.Release.Resolved() {
		rec.Classification = ClassNeedsReview
		rec.Flag(times.Release.Reason)

		return
	}

	if negative(rec.UploadToFirstJob) || negative(rec.PipelineDuration) ||
		negative(rec.ProcessingToRelease) {
		rec.Classification = ClassNeedsReview
		rec.Flag(ReasonNegativeStage)

		return
	}

	standard := time.Duration(c.StandardDays) * 24 * time.Hour
	if rec.OverallTAT != nil && *rec.OverallTAT <= standard {
		rec.Classification = ClassCompliant
	} else {
		rec.Classification = ClassNonCompliant
	}
}

// diff returns to-from when both timestamps are resolved, nil otherwise.
func diff(from, to Timestamp) *time.Duration {
	if !from.Resolved() || !to.Resolved() {
		return nil
	}

	d := to.Time.Sub(from.Time)

	return &d
}

func negative(d *time.Duration) bool {
	return d != nil && *d < 0
}

// latestResolved returns the latest of the resolved timestamps.
func latestResolved(timestamps ...Timestamp) (Timestamp, bool) {
	var latest Timestamp

	for _, ts := range timestamps {
		if ts.Resolved() && ts.Time.After(latest.Time) {
			latest = ts
		}
	}

	return latest, latest.Resolved()
}
