package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobService serves canned folders, files and jobs.
type fakeJobService struct {
	folders []string
	files   map[string][]FileInfo // keyed by folder path
	jobs    map[string][]JobInfo  // keyed by workspaceID/jobType
}

func (s *fakeJobService) ListFolders(
	_ context.Context, _ string,
) ([]string, error) {
	return s.folders, nil
}

func (s *fakeJobService) ListFiles(
	_ context.Context, _, folder, _ string,
) ([]FileInfo, error) {
	return s.files[folder], nil
}

func (s *fakeJobService) ListJobs(
	_ context.Context, workspaceID, jobType string,
) ([]JobInfo, error) {
	return s.jobs[workspaceID+"/"+jobType], nil
}

// fakeTicketService serves canned queues and changelogs.
type fakeTicketService struct {
	queues      map[int][]Ticket
	transitions map[string]map[string]time.Time
}

func (s *fakeTicketService) ListQueue(
	_ context.Context, queueID int,
) ([]Ticket, error) {
	return s.queues[queueID], nil
}

func (s *fakeTicketService) Transitions(
	_ context.Context, ticketID string,
) (map[string]time.Time, error) {
	return s.transitions[ticketID], nil
}

func TestAuditor_Run(t *testing.T) {
	at := func(value string) time.Time {
		parsed, err := time.Parse("2006-01-02T15:04", value)
		require.NoError(t, err)

		return parsed
	}

	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)
	now := time.Date(2023, 7, 10, 12, 0, 0, 0, time.UTC)

	dir := &fakeDirectory{workspaces: []Workspace{
		{
			ID:      "ws-1",
			Name:    "002_230601_A01295_CEN",
			Created: at("2023-06-01T09:00"),
		},
		{
			ID:      "ws-2",
			Name:    "002_230610_A01295_CEN",
			Created: at("2023-06-10T09:00"),
		},
	}}

	jobs := &fakeJobService{
		// The second run's folder carries a typo.
		folders: []string{"230601_A01295", "230610_A01395"},
		files: map[string][]FileInfo{
			"/230601_A01295/runs": {
				{
					Name:    "230601_A01295.lane.all.log",
					Created: at("2023-06-01T10:00"),
				},
			},
			"/230610_A01395/runs": {
				{
					Name:    "230610_A01295.lane.all.log",
					Created: at("2023-06-10T10:00"),
				},
			},
		},
		jobs: map[string][]JobInfo{
			"ws-1/eggd_conductor": {
				{State: JobStateDone, Started: at("2023-06-01T12:00")},
			},
			"ws-1/eggd_artemis": {
				{
					State:   JobStateDone,
					Started: at("2023-06-01T13:00"),
					Stopped: at("2023-06-02T09:00"),
				},
				// Rerun after release: excluded, flagged.
				{
					State:   JobStateDone,
					Started: at("2023-06-05T13:00"),
					Stopped: at("2023-06-05T18:00"),
				},
			},
			"ws-2/eggd_conductor": {
				{State: JobStateDone, Started: at("2023-06-10T12:00")},
			},
			// ws-2 has no terminal jobs at all.
		},
	}

	tickets := &fakeTicketService{
		queues: map[int][]Ticket{
			35: {
				{
					ID:        "t1",
					Key:       "EBH-1",
					Title:     "230601-A01295",
					Status:    "All samples released",
					AssayType: "CEN",
					Created:   at("2023-06-01T09:30"),
				},
				{
					ID:        "t3",
					Key:       "EBH-3",
					Title:     "230620_A01295",
					Status:    "Data not received",
					AssayType: "CEN",
					Created:   at("2023-06-20T09:00"),
				},
				{
					ID:        "t4",
					Key:       "EBH-4",
					Title:     "230625_A01295",
					Status:    "All samples released",
					AssayType: "CEN",
					Created:   at("2023-06-25T09:00"),
				},
			},
			34: {
				{
					ID:        "t2",
					Key:       "EBH-2",
					Title:     "230610_A01295",
					Status:    "Data processed",
					AssayType: "CEN",
					Created:   at("2023-06-10T09:30"),
				},
				{
					ID:        "t5",
					Key:       "EBH-5",
					Title:     "230628_A01295",
					Status:    "Data Received",
					AssayType: "CEN",
					Created:   at("2023-06-28T09:00"),
				},
			},
		},
		transitions: map[string]map[string]time.Time{
			"t1": {
				"All samples released": at("2023-06-03T09:00"),
			},
			"t4": {
				"All samples released": at("2023-06-27T09:00"),
			},
		},
	}

	auditor := New(testLogger(), dir, jobs, tickets, Options{
		AssayTypes:     []string{"CEN"},
		Start:          start,
		End:            end,
		Now:            now,
		StandardDays:   3,
		BufferDays:     5,
		MatchThreshold: 2,
		Concurrency:    2,
		OpenQueueID:    34,
		ClosedQueueID:  35,
		Statuses:       testStatuses,
		Resolver: ResolverConfig{
			StagingWorkspaceID: "staging",
			MarkerFilePattern:  "*.lane.all.log",
			EntryJobType:       "eggd_conductor",
			TerminalJobTypes:   map[string]string{"CEN": "eggd_artemis"},
			MatchThreshold:     2,
			CallTimeout:        time.Minute,
		},
	})

	report, err := auditor.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Assays, 1)
	cen := report.Assays[0]
	require.Len(t, cen.Records, 2)

	first := cen.Records[0]
	assert.Equal(t, "230601_A01295", first.Run.Name)
	assert.Equal(t, ClassCompliant, first.Classification)
	require.NotNil(t, first.OverallTAT)
	assert.Equal(t, 47*time.Hour, *first.OverallTAT)
	assert.Equal(t, at("2023-06-02T09:00"), first.Times.LastJob.Time)
	assert.Contains(t, first.ReviewReasons, FlagTerminalJobRerun)

	second := cen.Records[1]
	assert.Equal(t, "230610_A01295", second.Run.Name)
	assert.Equal(t, ClassNeedsReview, second.Classification)
	assert.Contains(t, second.ReviewReasons, ReasonNoTerminalJob)
	assert.Contains(t, second.ReviewReasons, FlagFolderTypo)
	assert.Equal(t, "230610_A01395", second.Run.FolderName)

	// Every record lands in exactly one classification bucket.
	total := 0
	for _, n := range cen.Counts {
		total += n
	}

	assert.Equal(t, len(cen.Records), total)

	// Cancelled ticket with no workspace.
	require.Len(t, report.Cancelled, 1)
	assert.Equal(t, "230620_A01295", report.Cancelled[0].RunName)
	assert.Equal(t, "Data not received", report.Cancelled[0].Reason)

	// Released ticket with no workspace gets an estimated TAT.
	require.Len(t, report.ReleasedNoWorkspace, 1)
	released := report.ReleasedNoWorkspace[0]
	assert.Equal(t, "t4", released.Ticket.ID)
	require.NotNil(t, released.EstimatedTAT)
	assert.Equal(t, 48*time.Hour, *released.EstimatedTAT)

	// Open ticket with no workspace.
	require.Len(t, report.OpenNoWorkspace, 1)
	assert.Equal(t, "t5", report.OpenNoWorkspace[0].Ticket.ID)

	assert.Empty(t, report.TicketTypos)
	require.Len(t, report.FolderTypos, 1)
	assert.Equal(t, "230610_A01295", report.FolderTypos[0].RunName)
	assert.Equal(t, "230610_A01395", report.FolderTypos[0].Observed)
	assert.Equal(t, 2, report.TotalRuns())
}

func TestAuditor_UnmatchedTicketsBoundByReportingWindow(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)

	tickets := &fakeTicketService{
		queues: map[int][]Ticket{
			35: {
				// Created within a day after the period end: reported.
				{
					ID:        "t1",
					Key:       "EBH-1",
					Title:     "230630_A01295",
					Status:    "All samples released",
					AssayType: "CEN",
					Created:   end.Add(12 * time.Hour),
				},
				// Inside the buffered fetch window but past the
				// reporting window: fetched, never reported.
				{
					ID:        "t2",
					Key:       "EBH-2",
					Title:     "230702_A01295",
					Status:    "All samples released",
					AssayType: "CEN",
					Created:   end.Add(48 * time.Hour),
				},
			},
		},
		transitions: map[string]map[string]time.Time{
			"t1": {
				"All samples released": end.Add(36 * time.Hour),
			},
		},
	}

	auditor := New(testLogger(), &fakeDirectory{}, &fakeJobService{}, tickets,
		Options{
			AssayTypes:     []string{"CEN"},
			Start:          start,
			End:            end,
			Now:            end.Add(10 * 24 * time.Hour),
			StandardDays:   3,
			BufferDays:     5,
			MatchThreshold: 2,
			OpenQueueID:    34,
			ClosedQueueID:  35,
			Statuses:       testStatuses,
			Resolver: ResolverConfig{
				StagingWorkspaceID: "staging",
				MarkerFilePattern:  "*.lane.all.log",
				EntryJobType:       "eggd_conductor",
				TerminalJobTypes:   map[string]string{"CEN": "eggd_artemis"},
				MatchThreshold:     2,
				CallTimeout:        time.Minute,
			},
		})

	report, err := auditor.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.ReleasedNoWorkspace, 1)
	released := report.ReleasedNoWorkspace[0]
	assert.Equal(t, "t1", released.Ticket.ID)
	require.NotNil(t, released.EstimatedTAT)
	assert.Equal(t, 24*time.Hour, *released.EstimatedTAT)
}

func TestAuditor_TicketTypoFlagged(t *testing.T) {
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)

	dir := &fakeDirectory{workspaces: []Workspace{
		{
			ID:      "ws-1",
			Name:    "002_230601_A01295_CEN",
			Created: start.Add(12 * time.Hour),
		},
	}}

	tickets := &fakeTicketService{
		queues: map[int][]Ticket{
			35: {
				{
					ID:        "t1",
					Key:       "EBH-1",
					Title:     "230601_A01296", // one character off
					Status:    "All samples released",
					AssayType: "CEN",
					Created:   start,
				},
			},
		},
	}

	auditor := New(testLogger(), dir, &fakeJobService{}, tickets, Options{
		AssayTypes:     []string{"CEN"},
		Start:          start,
		End:            end,
		Now:            end,
		StandardDays:   3,
		BufferDays:     5,
		MatchThreshold: 2,
		OpenQueueID:    34,
		ClosedQueueID:  35,
		Statuses:       testStatuses,
		Resolver: ResolverConfig{
			StagingWorkspaceID: "staging",
			MarkerFilePattern:  "*.lane.all.log",
			EntryJobType:       "eggd_conductor",
			TerminalJobTypes:   map[string]string{"CEN": "eggd_artemis"},
			MatchThreshold:     2,
			CallTimeout:        time.Minute,
		},
	})

	report, err := auditor.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.TicketTypos, 1)
	assert.Equal(t, "230601_A01295", report.TicketTypos[0].RunName)
	assert.Equal(t, "230601_A01296", report.TicketTypos[0].Observed)

	rec := report.Assays[0].Records[0]
	assert.Contains(t, rec.ReviewReasons, FlagTicketTypo)

	// The matched ticket still contributes its resolution path even
	// though the name was off.
	require.NotNil(t, rec.Ticket)
	assert.Equal(t, "t1", rec.Ticket.ID)
}
