package audit

import "time"

// Reason codes for timestamps that could not be resolved. These end up in
// the "needs manual review" buckets of the report.
const (
	ReasonNoLogFile      = "no_log_file"
	ReasonNoFirstJob     = "no_first_job_found"
	ReasonNoTerminalJob  = "no_terminal_job_found"
	ReasonNoTicket       = "no_ticket_found"
	ReasonNotYetReleased = "not_yet_released"
	ReasonNegativeStage  = "negative_stage_duration"
)

// Review flags that do not block classification but are surfaced in the
// report for a human to look at.
const (
	FlagTerminalJobRerun = "terminal_job_rerun_after_release"
	FlagFolderTypo       = "run_folder_name_mismatch"
	FlagTicketTypo       = "ticket_name_mismatch"
	FlagProvisional      = "release_time_provisional"
)

// Run is one sequencing batch discovered from a workspace name of the form
// 002_<runname>_<ASSAY>. Immutable after discovery.
type Run struct {
	Name             string
	AssayType        string
	WorkspaceID      string
	WorkspaceCreated time.Time

	// FolderName is the staging area folder matched to the run. It can
	// differ from Name by up to the edit-distance threshold when the
	// workspace name carries a typo.
	FolderName string
}

// Timestamp is an instant that is either resolved or absent with a reason
// code. Partial resolution is a normal outcome, not a failure.
type Timestamp struct {
	Time   time.Time
	Reason string
}

// Resolved reports whether the timestamp was found.
func (t Timestamp) Resolved() bool {
	return !t.Time.IsZero()
}

// RunTimestamps holds the four per-run instants stitched together from the
// workspace platform and the ticket tracker.
type RunTimestamps struct {
	Upload   Timestamp
	FirstJob Timestamp
	LastJob  Timestamp
	Release  Timestamp

	// Provisional marks a release time taken from the audit wall clock
	// rather than a ticket resolution (urgent/on-hold runs).
	Provisional bool
}

// Ticket is an issue-tracker record representing the human workflow state
// for releasing a run's results. A run has at most one matched ticket.
type Ticket struct {
	ID        string
	Key       string
	Title     string
	Status    string
	AssayType string
	Created   time.Time

	// Resolved is the latest transition into the released status, zero
	// while the ticket is unresolved.
	Resolved time.Time

	// Transitions maps a status name to the latest time the ticket
	// entered that status.
	Transitions map[string]time.Time
}

// Classification of a TatRecord. Every record gets exactly one.
type Classification string

const (
	ClassCompliant    Classification = "compliant"
	ClassNonCompliant Classification = "non-compliant"
	ClassNeedsReview  Classification = "needs-review"
	ClassCancelled    Classification = "cancelled"
)

// TatRecord is the per-run result of the audit: the run, its resolved
// timestamps, the matched ticket (if any), the derived durations and the
// classification.
type TatRecord struct {
	Run    Run
	Times  RunTimestamps
	Ticket *Ticket

	UploadToFirstJob    *time.Duration
	PipelineDuration    *time.Duration
	ProcessingToRelease *time.Duration
	OverallTAT          *time.Duration

	Classification Classification
	ReviewReasons  []string
}

// Flag records a review reason once.
func (r *TatRecord) Flag(reason string) {
	for _, existing := range r.ReviewReasons {
		if existing == reason {
			return
		}
	}

	r.ReviewReasons = append(r.ReviewReasons, reason)
}

// Days converts a duration to fractional days for reporting.
func Days(d time.Duration) float64 {
	return d.Hours() / 24
}
