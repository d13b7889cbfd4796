package compliance

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqops/seqaudit/pkg/config"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// fakeSource serves canned repos and file contents.
type fakeSource struct {
	repos []Repo
	files map[string][]byte // keyed by repo/path
}

func (s *fakeSource) ListRepos(
	_ context.Context, _ string,
) ([]Repo, error) {
	return s.repos, nil
}

func (s *fakeSource) FileContent(
	_ context.Context, _, repo, path string,
) ([]byte, error) {
	data, ok := s.files[repo+"/"+path]
	if !ok {
		return nil, ErrNotFound
	}

	return data, nil
}

func manifestJSON(name string) []byte {
	return []byte(fmt.Sprintf(`{
		"name": %q,
		"runSpec": {
			"interpreter": "bash",
			"file": "src/code.sh",
			"timeoutPolicy": {"*": {"hours": 48}}
		},
		"regionalOptions": {"aws:eu-central-1": {}},
		"developers": ["org-emee_1"],
		"authorizedUsers": ["org-emee_1"]
	}`, name))
}

func TestAuditor_Run(t *testing.T) {
	source := &fakeSource{
		repos: []Repo{
			{Name: "eggd_artemis"},
			{Name: "eggd_conductor"},
			{Name: "not-an-app"},
			{Name: "old-app", Archived: true},
		},
		files: map[string][]byte{
			"eggd_artemis/dxapp.json":   manifestJSON("eggd_artemis"),
			"eggd_artemis/src/code.sh":  []byte("set -exuo pipefail\n"),
			"eggd_conductor/dxapp.json": manifestJSON("conductor"),
			"eggd_conductor/src/code.sh": []byte(
				"#!/bin/bash\nmain() { true; }\n",
			),
			// Archived repo carries a manifest but must be ignored.
			"old-app/dxapp.json": manifestJSON("eggd_old"),
		},
	}

	auditor := NewAuditor(testLogger(), source, &config.ComplianceConfig{
		Organization: "example-org",
		Rules: config.ManifestRules{
			RequiredPrefix:       "eggd_",
			AllowedRegions:       []string{"aws:eu-central-1"},
			Interpreters:         []string{"bash", "python3"},
			AuthorizedUsers:      []string{"org-emee_1"},
			AuthorizedDevs:       []string{"org-emee_1"},
			RequireTimeoutPolicy: true,
			RequireErrorExit:     true,
		},
	}, 2)

	report, err := auditor.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Apps, 2)
	assert.Equal(t, 1, report.Skipped)

	artemis := report.Apps[0]
	assert.Equal(t, "eggd_artemis", artemis.Repo)
	assert.True(t, artemis.Compliant)
	assert.Empty(t, artemis.Violations)

	conductor := report.Apps[1]
	assert.Equal(t, "eggd_conductor", conductor.Repo)
	assert.False(t, conductor.Compliant)
	assert.ElementsMatch(
		t,
		[]string{ViolationNamePrefix, ViolationErrorExit},
		conductor.Violations,
	)

	assert.Equal(t, 1, report.CompliantCount())
	assert.InDelta(t, 50.0, report.CompliancePercent(), 1e-9)
	assert.Equal(t, 1, report.ViolationCounts[ViolationNamePrefix])
	assert.Equal(t, 1, report.ViolationCounts[ViolationErrorExit])
}

func TestAuditor_UnparsableManifestSkipped(t *testing.T) {
	source := &fakeSource{
		repos: []Repo{{Name: "broken"}},
		files: map[string][]byte{
			"broken/dxapp.json": []byte("{not json"),
		},
	}

	auditor := NewAuditor(testLogger(), source, &config.ComplianceConfig{
		Organization: "example-org",
		Rules:        config.ManifestRules{RequiredPrefix: "eggd_"},
	}, 1)

	report, err := auditor.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Apps)
	assert.Equal(t, 1, report.Skipped)
}
