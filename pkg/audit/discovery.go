package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// workspacePrefix is the naming convention for per-run analysis projects:
// 002_<runname>_<ASSAY>.
const workspacePrefix = "002_"

// Discoverer enumerates candidate runs for the audited assay types within
// a date window. Discovery failure is fatal for the whole audit since it
// determines all subsequent work.
type Discoverer struct {
	log        logrus.FieldLogger
	dir        WorkspaceDirectory
	assayTypes []string
	bufferDays int
}

// NewDiscoverer creates a Discoverer over the given workspace directory.
func NewDiscoverer(
	log logrus.FieldLogger,
	dir WorkspaceDirectory,
	assayTypes []string,
	bufferDays int,
) *Discoverer {
	return &Discoverer{
		log:        log.WithField("component", "discovery"),
		dir:        dir,
		assayTypes: assayTypes,
		bufferDays: bufferDays,
	}
}

// Discover lists workspaces created inside [start-buffer, end+buffer] and
// keeps runs whose embedded run date falls inside [start, end] proper. The
// buffer catches workspaces created a few days after the actual run date.
// Duplicate workspaces for one logical run are deduplicated keeping the
// most recently created one.
func (d *Discoverer) Discover(
	ctx context.Context, start, end time.Time,
) ([]Run, error) {
	buffer := time.Duration(d.bufferDays) * 24 * time.Hour

	byName := make(map[string]Run)

	for _, assay := range d.assayTypes {
		pattern := workspacePrefix + "*_" + assay

		workspaces, err := d.dir.ListWorkspaces(
			ctx, pattern, start.Add(-buffer), end.Add(buffer),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"listing %s workspaces: %w", assay, err,
			)
		}

		for _, ws := range workspaces {
			run, ok := parseRunName(ws, assay)
			if !ok {
				continue
			}

			if !runDateWithin(run.Name, start, end) {
				continue
			}

			// Keep the most recently created workspace when the
			// same run appears more than once.
			if existing, dup := byName[run.Name]; dup &&
				existing.WorkspaceCreated.After(ws.Created) {
				continue
			}

			byName[run.Name] = run
		}
	}

	runs := make([]Run, 0, len(byName))
	for _, run := range byName {
		runs = append(runs, run)
	}

	d.log.WithFields(logrus.Fields{
		"runs":  len(runs),
		"start": start.Format("2006-01-02"),
		"end":   end.Format("2006-01-02"),
	}).Info("Run discovery completed")

	return runs, nil
}

// parseRunName extracts the run name from a 002_<runname>_<ASSAY>
// workspace name. Internal check projects (002_vaf_checks) are skipped.
func parseRunName(ws Workspace, assay string) (Run, bool) {
	name := ws.Name

	if !strings.HasPrefix(name, workspacePrefix) ||
		!strings.HasSuffix(name, "_"+assay) {
		return Run{}, false
	}

	runName := strings.TrimPrefix(name, workspacePrefix)
	runName = strings.TrimSuffix(runName, "_"+assay)

	parts := strings.Split(runName, "_")
	if len(parts) < 2 || parts[0] == "vaf" {
		return Run{}, false
	}

	return Run{
		Name:             runName,
		AssayType:        assay,
		WorkspaceID:      ws.ID,
		WorkspaceCreated: ws.Created,
	}, true
}

// runDateWithin parses the YYMMDD prefix of a run name and checks it is
// inside the audit window.
func runDateWithin(runName string, start, end time.Time) bool {
	datePart := strings.SplitN(runName, "_", 2)[0]

	runDate, err := time.Parse("060102", datePart)
	if err != nil {
		return false
	}

	return !runDate.Before(startOfDay(start)) &&
		!runDate.After(startOfDay(end))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
