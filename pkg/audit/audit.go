package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultConcurrency is the number of runs resolved in parallel when no
// explicit concurrency value is configured.
const defaultConcurrency = 4

// Options configures one audit invocation. Policy knobs (thresholds,
// buffers, status sets) are explicit configuration rather than globals so
// they can be tuned per deployment.
type Options struct {
	AssayTypes []string
	Start      time.Time
	End        time.Time

	// Now is the audit wall clock, captured once by the caller.
	Now time.Time

	StandardDays   int
	BufferDays     int
	MatchThreshold int
	Concurrency    int

	OpenQueueID   int
	ClosedQueueID int

	Statuses StatusPolicy
	Resolver ResolverConfig
}

// Auditor runs one turnaround-time audit over a date range: discovery,
// ticket matching, timestamp resolution, duration calculation and
// aggregation. Rendering the resulting Report is the caller's concern.
type Auditor struct {
	log     logrus.FieldLogger
	dir     WorkspaceDirectory
	jobs    JobService
	tickets TicketService
	opts    Options
}

// New creates an Auditor over the three providers.
func New(
	log logrus.FieldLogger,
	dir WorkspaceDirectory,
	jobs JobService,
	tickets TicketService,
	opts Options,
) *Auditor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Auditor{
		log:     log.WithField("component", "auditor"),
		dir:     dir,
		jobs:    jobs,
		tickets: tickets,
		opts:    opts,
	}
}

// Run executes the audit. It either returns a complete Report (possibly
// with many needs-review records) or an error; it never returns a
// silently truncated result.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	discoverer := NewDiscoverer(
		a.log, a.dir, a.opts.AssayTypes, a.opts.BufferDays,
	)

	runs, err := discoverer.Discover(ctx, a.opts.Start, a.opts.End)
	if err != nil {
		return nil, fmt.Errorf("run discovery: %w", err)
	}

	resolver := NewResolver(a.log, a.jobs, a.opts.Resolver)

	stagingFolders, err := resolver.StagingFolders(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := a.fetchTickets(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Start:       a.opts.Start,
		End:         a.opts.End,
		GeneratedAt: a.opts.Now,
	}

	records, matched := a.matchTickets(runs, candidates, report)

	if err := a.resolveAll(
		ctx, resolver, records, stagingFolders,
	); err != nil {
		return nil, err
	}

	a.collectFolderTypos(records, report)
	a.bucketUnmatched(ctx, candidates, matched, report)
	a.bucketCancelled(records, report)

	report.Assays = Aggregate(records, a.opts.AssayTypes)

	a.log.WithFields(logrus.Fields{
		"runs":    len(records),
		"tickets": len(candidates),
	}).Info("Audit completed")

	return report, nil
}

// fetchTickets lists both service-desk queues and keeps tickets for the
// audited assays created inside the buffered window.
func (a *Auditor) fetchTickets(ctx context.Context) ([]Ticket, error) {
	var all []Ticket

	for _, queueID := range []int{
		a.opts.ClosedQueueID, a.opts.OpenQueueID,
	} {
		tickets, err := a.tickets.ListQueue(ctx, queueID)
		if err != nil {
			return nil, fmt.Errorf(
				"listing ticket queue %d: %w", queueID, err,
			)
		}

		all = append(all, tickets...)
	}

	// Fetch wider than the reporting window so late-created tickets for
	// in-window runs still match.
	buffer := time.Duration(a.opts.BufferDays) * 24 * time.Hour
	lo, hi := a.reportingWindow()
	lo, hi = lo.Add(-buffer), hi.Add(buffer)

	candidates := make([]Ticket, 0, len(all))

	for _, t := range all {
		if !contains(a.opts.AssayTypes, t.AssayType) {
			continue
		}

		if t.Created.Before(lo) || t.Created.After(hi) {
			continue
		}

		candidates = append(candidates, t)
	}

	a.log.WithField("tickets", len(candidates)).
		Info("Tickets found within the buffered audit window")

	return candidates, nil
}

// matchTickets pairs each run with its best ticket. Matching is done
// serially up front (it is pure in-memory work) so the resolution workers
// never share mutable state.
func (a *Auditor) matchTickets(
	runs []Run, candidates []Ticket, report *Report,
) ([]TatRecord, []bool) {
	matcher := &Matcher{Threshold: a.opts.MatchThreshold}
	records := make([]TatRecord, len(runs))
	matched := make([]bool, len(candidates))

	for i := range runs {
		records[i] = TatRecord{Run: runs[i]}
		rec := &records[i]

		best, distance, ok := matcher.Match(runs[i].Name, candidates)
		if !ok {
			continue
		}

		ticket := *best
		rec.Ticket = &ticket

		for j := range candidates {
			if candidates[j].ID == best.ID {
				matched[j] = true
			}
		}

		if distance > 0 {
			rec.Flag(FlagTicketTypo)
			report.TicketTypos = append(report.TicketTypos, TypoEntry{
				AssayType: runs[i].AssayType,
				RunName:   runs[i].Name,
				Observed:  best.Title,
			})
		}
	}

	return records, matched
}

// resolveAll resolves every record with a bounded worker pool. Each worker
// owns its TatRecord; the only shared resource is the rate-limited
// provider clients.
func (a *Auditor) resolveAll(
	ctx context.Context,
	resolver *Resolver,
	records []TatRecord,
	stagingFolders []string,
) error {
	calc := &Calculator{
		Now:          a.opts.Now,
		StandardDays: a.opts.StandardDays,
		Statuses:     a.opts.Statuses,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for i := range records {
		rec := &records[i]

		g.Go(func() error {
			if err := a.loadTransitions(gCtx, rec); err != nil {
				return err
			}

			if err := resolver.Resolve(
				gCtx, rec, stagingFolders,
			); err != nil {
				return fmt.Errorf(
					"resolving %s: %w", rec.Run.Name, err,
				)
			}

			calc.Calculate(rec)

			a.logRecord(rec)

			return nil
		})
	}

	return g.Wait()
}

// loadTransitions fetches the ticket changelog to get the accurate
// resolution time; the status date reported by queue listings is not
// reliable. A timed-out fetch leaves the ticket unresolved, which the
// calculator surfaces as needs-review.
func (a *Auditor) loadTransitions(ctx context.Context, rec *TatRecord) error {
	if rec.Ticket == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(
		ctx, a.opts.Resolver.CallTimeout,
	)
	defer cancel()

	transitions, err := a.tickets.Transitions(callCtx, rec.Ticket.ID)
	if err != nil {
		if timedOut(err) {
			a.log.WithField("ticket", rec.Ticket.Key).
				Warn("Ticket changelog fetch timed out")

			return nil
		}

		return fmt.Errorf(
			"fetching changelog for %s: %w", rec.Ticket.Key, err,
		)
	}

	rec.Ticket.Transitions = transitions
	rec.Ticket.Resolved = a.resolutionTime(transitions)

	return nil
}

// resolutionTime returns the latest transition into any released status.
func (a *Auditor) resolutionTime(
	transitions map[string]time.Time,
) time.Time {
	var resolved time.Time

	for _, status := range a.opts.Statuses.Released {
		if t, ok := transitions[status]; ok && t.After(resolved) {
			resolved = t
		}
	}

	return resolved
}

// collectFolderTypos lifts the folder-name mismatches flagged during
// resolution into the report-level list.
func (a *Auditor) collectFolderTypos(records []TatRecord, report *Report) {
	for i := range records {
		rec := &records[i]

		for _, reason := range rec.ReviewReasons {
			if reason != FlagFolderTypo {
				continue
			}

			report.FolderTypos = append(report.FolderTypos, TypoEntry{
				AssayType: rec.Run.AssayType,
				RunName:   rec.Run.Name,
				Observed:  rec.Run.FolderName,
			})
		}
	}
}

// reportingWindow is the creation interval a ticket must fall in to be
// reported: the audit period plus one day at the end, covering tickets
// opened for runs sequenced late on the final day.
func (a *Auditor) reportingWindow() (lo, hi time.Time) {
	return a.opts.Start, a.opts.End.Add(24 * time.Hour)
}

// bucketUnmatched routes tickets with no workspace run into the cancelled,
// open or released-without-workspace buckets. Only tickets created inside
// the reporting window are reported.
func (a *Auditor) bucketUnmatched(
	ctx context.Context,
	candidates []Ticket,
	matched []bool,
	report *Report,
) {
	lo, hi := a.reportingWindow()

	for i, ticket := range candidates {
		if matched[i] {
			continue
		}

		if ticket.Created.Before(lo) || ticket.Created.After(hi) {
			continue
		}

		switch {
		case a.opts.Statuses.IsCancelled(ticket.Status):
			report.Cancelled = append(report.Cancelled, CancelledRun{
				RunName:       ticket.Title,
				AssayType:     ticket.AssayType,
				TicketCreated: ticket.Created,
				Reason:        ticket.Status,
			})

		case a.opts.Statuses.IsOpen(ticket.Status):
			report.OpenNoWorkspace = append(
				report.OpenNoWorkspace,
				UnmatchedTicket{Ticket: ticket},
			)

		default:
			report.ReleasedNoWorkspace = append(
				report.ReleasedNoWorkspace,
				a.estimateUnmatched(ctx, ticket),
			)
		}
	}
}

// estimateUnmatched computes the best-effort TAT for a released ticket
// with no workspace: resolution minus ticket creation.
func (a *Auditor) estimateUnmatched(
	ctx context.Context, ticket Ticket,
) UnmatchedTicket {
	entry := UnmatchedTicket{Ticket: ticket}

	callCtx, cancel := context.WithTimeout(
		ctx, a.opts.Resolver.CallTimeout,
	)
	defer cancel()

	transitions, err := a.tickets.Transitions(callCtx, ticket.ID)
	if err != nil {
		a.log.WithError(err).WithField("ticket", ticket.Key).
			Warn("Could not fetch changelog for unmatched ticket")

		return entry
	}

	if resolved := a.resolutionTime(transitions); !resolved.IsZero() {
		estimated := resolved.Sub(ticket.Created)
		entry.EstimatedTAT = &estimated
		entry.Ticket.Resolved = resolved
	}

	return entry
}

// bucketCancelled adds matched records with cancelled tickets to the
// cancelled list, alongside the ticket-only ones.
func (a *Auditor) bucketCancelled(records []TatRecord, report *Report) {
	for i := range records {
		rec := &records[i]
		if rec.Classification != ClassCancelled || rec.Ticket == nil {
			continue
		}

		report.Cancelled = append(report.Cancelled, CancelledRun{
			RunName:       rec.Run.Name,
			AssayType:     rec.Run.AssayType,
			TicketCreated: rec.Ticket.Created,
			Reason:        rec.Ticket.Status,
		})
	}
}

// logRecord emits one line per classified run.
func (a *Auditor) logRecord(rec *TatRecord) {
	fields := logrus.Fields{
		"run":            rec.Run.Name,
		"assay":          rec.Run.AssayType,
		"classification": rec.Classification,
	}

	if rec.OverallTAT != nil {
		fields["overall_days"] = fmt.Sprintf("%.2f", Days(*rec.OverallTAT))
	}

	a.log.WithFields(fields).Debug("Run classified")
}
