package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timeoutJobService times out on every call.
type timeoutJobService struct{}

func (timeoutJobService) ListFolders(
	_ context.Context, _ string,
) ([]string, error) {
	return nil, context.DeadlineExceeded
}

func (timeoutJobService) ListFiles(
	_ context.Context, _, _, _ string,
) ([]FileInfo, error) {
	return nil, context.DeadlineExceeded
}

func (timeoutJobService) ListJobs(
	_ context.Context, _, _ string,
) ([]JobInfo, error) {
	return nil, context.DeadlineExceeded
}

func TestResolver_TimedOutCallsYieldAbsentTimestamps(t *testing.T) {
	resolver := NewResolver(testLogger(), timeoutJobService{}, ResolverConfig{
		StagingWorkspaceID: "staging",
		MarkerFilePattern:  "*.lane.all.log",
		EntryJobType:       "eggd_conductor",
		TerminalJobTypes:   map[string]string{"CEN": "eggd_artemis"},
		MatchThreshold:     2,
		CallTimeout:        time.Minute,
	})

	rec := &TatRecord{Run: Run{
		Name:        "230601_A01295",
		AssayType:   "CEN",
		WorkspaceID: "ws-1",
	}}

	// Timed-out lookups degrade to absent timestamps; the audit goes on.
	err := resolver.Resolve(
		context.Background(), rec, []string{"230601_A01295"},
	)
	require.NoError(t, err)

	assert.False(t, rec.Times.Upload.Resolved())
	assert.Equal(t, ReasonNoLogFile, rec.Times.Upload.Reason)

	assert.False(t, rec.Times.FirstJob.Resolved())
	assert.Equal(t, ReasonNoFirstJob, rec.Times.FirstJob.Reason)

	assert.False(t, rec.Times.LastJob.Resolved())
	assert.Equal(t, ReasonNoTerminalJob, rec.Times.LastJob.Reason)
}

// failingJobService fails every call with a non-timeout error.
type failingJobService struct {
	err error
}

func (s failingJobService) ListFolders(
	_ context.Context, _ string,
) ([]string, error) {
	return nil, s.err
}

func (s failingJobService) ListFiles(
	_ context.Context, _, _, _ string,
) ([]FileInfo, error) {
	return nil, s.err
}

func (s failingJobService) ListJobs(
	_ context.Context, _, _ string,
) ([]JobInfo, error) {
	return nil, s.err
}

func TestResolver_ProviderErrorIsFatal(t *testing.T) {
	provErr := NewProviderError("dnanexus", "/system/findDataObjects",
		assert.AnError)

	resolver := NewResolver(testLogger(), failingJobService{err: provErr},
		ResolverConfig{
			StagingWorkspaceID: "staging",
			MarkerFilePattern:  "*.lane.all.log",
			EntryJobType:       "eggd_conductor",
			TerminalJobTypes:   map[string]string{"CEN": "eggd_artemis"},
			MatchThreshold:     2,
			CallTimeout:        time.Minute,
		})

	rec := &TatRecord{Run: Run{
		Name:        "230601_A01295",
		AssayType:   "CEN",
		WorkspaceID: "ws-1",
	}}

	err := resolver.Resolve(
		context.Background(), rec, []string{"230601_A01295"},
	)
	require.ErrorIs(t, err, provErr)
}
