package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/seqops/seqaudit/pkg/archive"
	"github.com/seqops/seqaudit/pkg/audit"
	"github.com/seqops/seqaudit/pkg/config"
	"github.com/seqops/seqaudit/pkg/dnanexus"
	"github.com/seqops/seqaudit/pkg/jira"
	"github.com/seqops/seqaudit/pkg/notify"
	"github.com/seqops/seqaudit/pkg/report"
	"github.com/seqops/seqaudit/pkg/upload"
)

const dateLayout = "2006-01-02"

var (
	startDate   string
	endDate     string
	limitAssays []string
	skipArchive bool
	skipUpload  bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a turnaround-time audit",
	Long: `Audit the turnaround time of every sequencing run in the given date
range, render the report and optionally archive, upload and announce it.`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&startDate, "start-date", "",
		"start of the audit period (YYYY-MM-DD)")
	auditCmd.Flags().StringVar(&endDate, "end-date", "",
		"end of the audit period (YYYY-MM-DD)")
	auditCmd.Flags().StringSliceVar(&limitAssays, "assay", nil,
		"limit to these assay types (comma-separated or repeated flag)")
	auditCmd.Flags().BoolVar(&skipArchive, "skip-archive", false,
		"do not archive the report to the database")
	auditCmd.Flags().BoolVar(&skipUpload, "skip-upload", false,
		"do not upload the report files")

	_ = auditCmd.MarkFlagRequired("start-date")
	_ = auditCmd.MarkFlagRequired("end-date")
}

func runAudit(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	start, end, err := parsePeriod(startDate, endDate)
	if err != nil {
		return err
	}

	assayTypes, err := selectAssays(cfg.Audit.AssayTypes, limitAssays)
	if err != nil {
		return err
	}

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Fail fast on broken upload credentials before spending time on
	// the audit itself.
	var uploader upload.Uploader

	if cfg.Upload != nil && cfg.Upload.Enabled && !skipUpload {
		uploader, err = upload.NewS3Uploader(log, cfg.Upload)
		if err != nil {
			return fmt.Errorf("creating uploader: %w", err)
		}

		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("upload preflight: %w", err)
		}
	}

	rep, err := executeAudit(ctx, cfg, assayTypes, start, end)
	if err != nil {
		return err
	}

	writer := report.NewWriter(log, cfg.Report.OutputDir)

	paths, err := writer.Write(rep, cfg.Report.Formats)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	for _, path := range paths {
		log.WithField("path", path).Info("Report written")
	}

	if cfg.Archive != nil && !skipArchive {
		if err := archiveReport(ctx, cfg, rep); err != nil {
			return err
		}
	}

	if uploader != nil {
		period := fmt.Sprintf(
			"%s_%s",
			rep.Start.Format(dateLayout),
			rep.End.Format(dateLayout),
		)

		if err := uploader.UploadFiles(ctx, period, paths); err != nil {
			return fmt.Errorf("uploading report: %w", err)
		}
	}

	if cfg.Notify != nil && cfg.Notify.Enabled {
		notifier := notify.NewNotifier(log, cfg.Notify)
		if err := notifier.NotifyReport(ctx, rep); err != nil {
			// The report is already on disk; a failed notification
			// should not fail the audit.
			log.WithError(err).Warn("Failed to post audit summary")
		}
	}

	return nil
}

// executeAudit wires the providers and runs the audit itself.
func executeAudit(
	ctx context.Context,
	cfg *config.Config,
	assayTypes []string,
	start, end time.Time,
) (*audit.Report, error) {
	callTimeout, err := cfg.Platform.CallTimeoutDuration()
	if err != nil {
		return nil, err
	}

	platform := dnanexus.NewClient(log, dnanexus.Options{
		BaseURL:           cfg.Platform.BaseURL,
		Token:             cfg.Platform.Token,
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
	})

	tickets := jira.NewClient(log, jira.Options{
		BaseURL:       cfg.Jira.BaseURL,
		Email:         cfg.Jira.Email,
		Token:         cfg.Jira.Token,
		ServiceDeskID: cfg.Jira.ServiceDeskID,
		AssayFieldID:  cfg.Jira.AssayFieldID,
	})

	auditor := audit.New(log, platform, platform, tickets, audit.Options{
		AssayTypes:     assayTypes,
		Start:          start,
		End:            end,
		Now:            time.Now().UTC(),
		StandardDays:   cfg.Audit.StandardDays,
		BufferDays:     cfg.Audit.BufferDays,
		MatchThreshold: cfg.Audit.MatchThreshold,
		Concurrency:    cfg.Audit.Concurrency,
		OpenQueueID:    cfg.Jira.OpenQueueID,
		ClosedQueueID:  cfg.Jira.ClosedQueueID,
		Statuses:       statusPolicy(cfg.Jira.Statuses),
		Resolver: audit.ResolverConfig{
			StagingWorkspaceID: cfg.Platform.StagingWorkspaceID,
			MarkerFilePattern:  cfg.Platform.MarkerFilePattern,
			EntryJobType:       cfg.Platform.EntryJobType,
			TerminalJobTypes:   cfg.Platform.TerminalJobTypes,
			MatchThreshold:     cfg.Audit.MatchThreshold,
			CallTimeout:        callTimeout,
		},
	})

	rep, err := auditor.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("running audit: %w", err)
	}

	return rep, nil
}

// archiveReport saves the report to the archive database.
func archiveReport(
	ctx context.Context, cfg *config.Config, rep *audit.Report,
) error {
	store := archive.NewStore(log, cfg.Archive)

	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting archive store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close archive store")
		}
	}()

	id, err := store.SaveReport(ctx, rep)
	if err != nil {
		return fmt.Errorf("archiving report: %w", err)
	}

	log.WithField("audit_id", id).Info("Report archived")

	return nil
}

// parsePeriod parses and validates the audit date range.
func parsePeriod(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"invalid --start-date %q: %w", startStr, err,
		)
	}

	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"invalid --end-date %q: %w", endStr, err,
		)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf(
			"--end-date must not be before --start-date",
		)
	}

	return start, end, nil
}

// selectAssays applies the --assay filter to the configured assay types.
func selectAssays(configured, limits []string) ([]string, error) {
	if len(limits) == 0 {
		return configured, nil
	}

	known := make(map[string]struct{}, len(configured))
	for _, assay := range configured {
		known[assay] = struct{}{}
	}

	for _, assay := range limits {
		if _, ok := known[assay]; !ok {
			return nil, fmt.Errorf(
				"assay type %q is not configured", assay,
			)
		}
	}

	return limits, nil
}

// statusPolicy converts the configured status sets into the audit policy.
func statusPolicy(cfg config.StatusConfig) audit.StatusPolicy {
	return audit.StatusPolicy{
		Released:       cfg.Released,
		UrgentReleased: cfg.UrgentReleased,
		OnHold:         cfg.OnHold,
		Cancelled:      cfg.Cancelled,
		Open:           cfg.Open,
	}
}
