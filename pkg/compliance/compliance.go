// Package compliance audits app manifests across a GitHub organization
// against deployment policy rules.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/seqops/seqaudit/pkg/config"
)

const (
	// manifestPath is where an app repository keeps its manifest.
	manifestPath = "dxapp.json"

	defaultConcurrency = 4
)

// AppResult is the compliance outcome for one app repository.
type AppResult struct {
	Repo       string
	AppName    string
	Compliant  bool
	Violations []string
}

// Report is the outcome of one compliance audit over an organization.
type Report struct {
	Organization string
	GeneratedAt  time.Time

	Apps    []AppResult
	Skipped int

	// ViolationCounts counts apps per violation code.
	ViolationCounts map[string]int
}

// CompliantCount returns the number of compliant apps.
func (r *Report) CompliantCount() int {
	var n int

	for i := range r.Apps {
		if r.Apps[i].Compliant {
			n++
		}
	}

	return n
}

// CompliancePercent returns the compliant fraction as a percentage.
func (r *Report) CompliancePercent() float64 {
	if len(r.Apps) == 0 {
		return 0
	}

	return float64(r.CompliantCount()) / float64(len(r.Apps)) * 100
}

// Auditor scans an organization's repositories for app manifests and
// evaluates each against the configured rules.
type Auditor struct {
	log         logrus.FieldLogger
	source      Source
	cfg         *config.ComplianceConfig
	concurrency int
}

// NewAuditor creates a compliance auditor over the given source.
func NewAuditor(
	log logrus.FieldLogger,
	source Source,
	cfg *config.ComplianceConfig,
	concurrency int,
) *Auditor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Auditor{
		log:         log.WithField("component", "compliance"),
		source:      source,
		cfg:         cfg,
		concurrency: concurrency,
	}
}

// Run audits every non-archived repository. Repositories without a
// manifest are counted as skipped, not as violations.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	repos, err := a.source.ListRepos(ctx, a.cfg.Organization)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	a.log.WithField("repos", len(repos)).
		Info("Scanning organization for app manifests")

	results := make([]*AppResult, len(repos))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i := range repos {
		if repos[i].Archived {
			continue
		}

		g.Go(func() error {
			result, err := a.auditRepo(gCtx, repos[i].Name)
			if err != nil {
				return fmt.Errorf("auditing %s: %w", repos[i].Name, err)
			}

			results[i] = result

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Organization:    a.cfg.Organization,
		GeneratedAt:     time.Now().UTC(),
		ViolationCounts: make(map[string]int),
	}

	for i, result := range results {
		if result == nil {
			if !repos[i].Archived {
				report.Skipped++
			}

			continue
		}

		report.Apps = append(report.Apps, *result)

		for _, v := range result.Violations {
			report.ViolationCounts[v]++
		}
	}

	sort.Slice(report.Apps, func(i, j int) bool {
		return report.Apps[i].Repo < report.Apps[j].Repo
	})

	a.log.WithFields(logrus.Fields{
		"apps":      len(report.Apps),
		"compliant": report.CompliantCount(),
		"skipped":   report.Skipped,
	}).Info("Compliance audit completed")

	return report, nil
}

// auditRepo evaluates one repository, returning nil when it carries no
// manifest.
func (a *Auditor) auditRepo(
	ctx context.Context, repo string,
) (*AppResult, error) {
	data, err := a.source.FileContent(
		ctx, a.cfg.Organization, repo, manifestPath,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}

		return nil, err
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		a.log.WithError(err).WithField("repo", repo).
			Warn("Skipping repository with unparsable manifest")

		return nil, nil
	}

	var script []byte

	if a.cfg.Rules.RequireErrorExit && manifest.RunSpec.File != "" {
		script, err = a.source.FileContent(
			ctx, a.cfg.Organization, repo, manifest.RunSpec.File,
		)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	violations := Evaluate(&a.cfg.Rules, manifest, script)

	return &AppResult{
		Repo:       repo,
		AppName:    manifest.Name,
		Compliant:  len(violations) == 0,
		Violations: violations,
	}, nil
}
