package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Workspace is a project on the compute platform corresponding to one
// sequencing run.
type Workspace struct {
	ID      string
	Name    string
	Created time.Time
}

// FileInfo describes an uploaded file in a workspace folder.
type FileInfo struct {
	Name    string
	Created time.Time
}

// JobInfo describes one job execution in a workspace.
type JobInfo struct {
	State   string
	Started time.Time
	Stopped time.Time
}

// JobStateDone is the state of a successfully completed job.
const JobStateDone = "done"

// WorkspaceDirectory lists projects on the compute platform.
type WorkspaceDirectory interface {
	// ListWorkspaces returns workspaces whose name matches pattern
	// (glob) created inside the given interval.
	ListWorkspaces(
		ctx context.Context,
		pattern string,
		createdAfter, createdBefore time.Time,
	) ([]Workspace, error)
}

// JobService lists uploaded files and job executions within a workspace.
type JobService interface {
	ListFolders(ctx context.Context, workspaceID string) ([]string, error)
	ListFiles(
		ctx context.Context,
		workspaceID, folder, pattern string,
	) ([]FileInfo, error)
	ListJobs(
		ctx context.Context,
		workspaceID, jobType string,
	) ([]JobInfo, error)
}

// TicketService searches and fetches issue-tracker tickets.
type TicketService interface {
	// ListQueue returns all tickets in a service-desk queue.
	ListQueue(ctx context.Context, queueID int) ([]Ticket, error)
	// Transitions returns, per status, the latest time the ticket
	// entered that status.
	Transitions(
		ctx context.Context, ticketID string,
	) (map[string]time.Time, error)
}

// ProviderError is a failed service call (auth, network, bad response).
// It is fatal for the whole audit; not-found conditions are data, never
// ProviderErrors.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with the provider and operation that failed.
func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// timedOut reports whether err is a per-call timeout. Timed-out reads are
// treated like not-found results, never a fatal abort.
func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
