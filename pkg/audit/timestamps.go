package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ResolverConfig carries the per-deployment knobs of the timestamp
// resolver.
type ResolverConfig struct {
	// StagingWorkspaceID is the workspace runs are uploaded into before
	// analysis. The per-run marker log file lives there.
	StagingWorkspaceID string

	// MarkerFilePattern is the glob for the upload-completed marker,
	// e.g. "*.lane.all.log".
	MarkerFilePattern string

	// EntryJobType is the job type whose earliest start marks the
	// beginning of processing.
	EntryJobType string

	// TerminalJobTypes maps an assay type to the job type whose last
	// successful completion marks the end of processing.
	TerminalJobTypes map[string]string

	// MatchThreshold is the maximum edit distance when matching a run
	// name to its staging folder.
	MatchThreshold int

	// CallTimeout bounds every provider call. A timed-out call yields
	// an absent timestamp, not a failed audit.
	CallTimeout time.Duration
}

// Resolver resolves the upload, first-job and last-job timestamps for a
// run. Each timestamp is resolved independently; absence of one does not
// block the others.
type Resolver struct {
	log     logrus.FieldLogger
	jobs    JobService
	matcher *Matcher
	cfg     ResolverConfig
}

// NewResolver creates a Resolver over the given job/log service.
func NewResolver(
	log logrus.FieldLogger, jobs JobService, cfg ResolverConfig,
) *Resolver {
	return &Resolver{
		log:     log.WithField("component", "resolver"),
		jobs:    jobs,
		matcher: &Matcher{Threshold: cfg.MatchThreshold},
		cfg:     cfg,
	}
}

// StagingFolders lists the run folders in the staging workspace, used for
// matching run names (which come from workspace names and can carry typos)
// to the folders the sequencers actually uploaded into.
func (r *Resolver) StagingFolders(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	folders, err := r.jobs.ListFolders(ctx, r.cfg.StagingWorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing staging folders: %w", err)
	}

	return folders, nil
}

// Resolve fills in the upload, first-job and last-job timestamps of rec,
// consulting the matched ticket's resolution time to exclude terminal jobs
// rerun after release. Partial resolution is a normal outcome.
func (r *Resolver) Resolve(
	ctx context.Context, rec *TatRecord, stagingFolders []string,
) error {
	if err := r.resolveUpload(ctx, rec, stagingFolders); err != nil {
		return err
	}

	if err := r.resolveFirstJob(ctx, rec); err != nil {
		return err
	}

	return r.resolveLastJob(ctx, rec)
}

// resolveUpload finds the creation time of the marker log file in the
// run's staging folder.
func (r *Resolver) resolveUpload(
	ctx context.Context, rec *TatRecord, stagingFolders []string,
) error {
	folder, distance, ok := r.matchFolder(rec.Run.Name, stagingFolders)
	if !ok {
		rec.Times.Upload = Timestamp{Reason: ReasonNoLogFile}

		return nil
	}

	rec.Run.FolderName = folder
	if distance > 0 {
		rec.Flag(FlagFolderTypo)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	files, err := r.jobs.ListFiles(
		callCtx,
		r.cfg.StagingWorkspaceID,
		"/"+folder+"/runs",
		r.cfg.MarkerFilePattern,
	)
	if err != nil {
		if timedOut(err) {
			r.log.WithField("run", rec.Run.Name).
				Warn("Marker file lookup timed out")

			rec.Times.Upload = Timestamp{Reason: ReasonNoLogFile}

			return nil
		}

		return err
	}

	if len(files) == 0 {
		rec.Times.Upload = Timestamp{Reason: ReasonNoLogFile}

		return nil
	}

	earliest := files[0].Created
	for _, f := range files[1:] {
		if f.Created.Before(earliest) {
			earliest = f.Created
		}
	}

	rec.Times.Upload = Timestamp{Time: earliest}

	return nil
}

// resolveFirstJob finds the earliest start of the entry job type in the
// run's workspace.
func (r *Resolver) resolveFirstJob(
	ctx context.Context, rec *TatRecord,
) error {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	jobs, err := r.jobs.ListJobs(
		callCtx, rec.Run.WorkspaceID, r.cfg.EntryJobType,
	)
	if err != nil {
		if timedOut(err) {
			r.log.WithField("run", rec.Run.Name).
				Warn("Entry job lookup timed out")

			rec.Times.FirstJob = Timestamp{Reason: ReasonNoFirstJob}

			return nil
		}

		return err
	}

	var earliest time.Time

	for _, job := range jobs {
		if earliest.IsZero() || job.Started.Before(earliest) {
			earliest = job.Started
		}
	}

	if earliest.IsZero() {
		rec.Times.FirstJob = Timestamp{Reason: ReasonNoFirstJob}

		return nil
	}

	rec.Times.FirstJob = Timestamp{Time: earliest}

	return nil
}

// resolveLastJob finds the completion time of the last successful terminal
// job. When the ticket is resolved, jobs completed after the resolution
// are excluded so that reanalysis runs started after release do not move
// the processing end; a later job is only recorded as a review flag.
func (r *Resolver) resolveLastJob(
	ctx context.Context, rec *TatRecord,
) error {
	jobType, ok := r.cfg.TerminalJobTypes[rec.Run.AssayType]
	if !ok {
		r.log.WithField("assay", rec.Run.AssayType).
			Warn("No terminal job type configured")

		rec.Times.LastJob = Timestamp{Reason: ReasonNoTerminalJob}

		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	jobs, err := r.jobs.ListJobs(callCtx, rec.Run.WorkspaceID, jobType)
	if err != nil {
		if timedOut(err) {
			r.log.WithField("run", rec.Run.Name).
				Warn("Terminal job lookup timed out")

			rec.Times.LastJob = Timestamp{Reason: ReasonNoTerminalJob}

			return nil
		}

		return err
	}

	var resolved time.Time
	if rec.Ticket != nil {
		resolved = rec.Ticket.Resolved
	}

	var latest, latestAfter time.Time

	for _, job := range jobs {
		if job.State != JobStateDone {
			continue
		}

		if !resolved.IsZero() && job.Stopped.After(resolved) {
			if job.Stopped.After(latestAfter) {
				latestAfter = job.Stopped
			}

			continue
		}

		if job.Stopped.After(latest) {
			latest = job.Stopped
		}
	}

	if latest.IsZero() {
		rec.Times.LastJob = Timestamp{Reason: ReasonNoTerminalJob}

		return nil
	}

	rec.Times.LastJob = Timestamp{Time: latest}

	if !latestAfter.IsZero() {
		rec.Flag(FlagTerminalJobRerun)
	}

	return nil
}

// matchFolder finds the staging folder closest to the run name within the
// edit-distance threshold.
func (r *Resolver) matchFolder(
	runName string, folders []string,
) (folder string, distance int, ok bool) {
	best := r.cfg.MatchThreshold + 1

	for _, candidate := range folders {
		if d := r.matcher.Distance(runName, candidate); d < best {
			folder, best = candidate, d
		}
	}

	if best > r.cfg.MatchThreshold {
		return "", 0, false
	}

	return folder, best, true
}
