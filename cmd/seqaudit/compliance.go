package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seqops/seqaudit/pkg/compliance"
	"github.com/seqops/seqaudit/pkg/config"
)

var complianceCmd = &cobra.Command{
	Use:   "compliance",
	Short: "Audit app manifests against deployment policy",
	Long: `Scan every repository in the configured GitHub organization for an app
manifest and check it against the deployment policy rules.`,
	RunE: runCompliance,
}

func init() {
	rootCmd.AddCommand(complianceCmd)
}

func runCompliance(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cfg.Compliance == nil {
		return fmt.Errorf("compliance section is required in config")
	}

	if cfg.Compliance.Organization == "" {
		return fmt.Errorf("compliance.organization is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	source := compliance.NewGitHubClient(
		log, cfg.Compliance.BaseURL, cfg.Compliance.Token,
	)

	auditor := compliance.NewAuditor(
		log, source, cfg.Compliance, cfg.Audit.Concurrency,
	)

	report, err := auditor.Run(ctx)
	if err != nil {
		return fmt.Errorf("running compliance audit: %w", err)
	}

	printComplianceReport(report)

	return nil
}

// printComplianceReport writes the per-app results and the violation
// summary to stdout.
func printComplianceReport(report *compliance.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "REPO\tAPP\tCOMPLIANT\tVIOLATIONS")

	for i := range report.Apps {
		app := &report.Apps[i]

		status := "yes"
		if !app.Compliant {
			status = "no"
		}

		fmt.Fprintf(
			w,
			"%s\t%s\t%s\t%s\n",
			app.Repo,
			app.AppName,
			status,
			strings.Join(app.Violations, ", "),
		)
	}

	_ = w.Flush()

	fmt.Printf(
		"\n%d apps audited, %d compliant (%.1f%%), %d repositories skipped\n",
		len(report.Apps),
		report.CompliantCount(),
		report.CompliancePercent(),
		report.Skipped,
	)

	if len(report.ViolationCounts) == 0 {
		return
	}

	codes := make([]string, 0, len(report.ViolationCounts))
	for code := range report.ViolationCounts {
		codes = append(codes, code)
	}

	sort.Strings(codes)

	fmt.Println("\nViolations by rule:")

	for _, code := range codes {
		fmt.Printf("  %s: %d\n", code, report.ViolationCounts[code])
	}
}
