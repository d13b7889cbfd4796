// Package dnanexus implements the workspace directory and job service
// against the DNAnexus platform API.
package dnanexus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/seqops/seqaudit/pkg/audit"
)

const (
	providerName = "dnanexus"

	// defaultRequestsPerSecond caps the request rate against the
	// platform API across all resolver workers.
	defaultRequestsPerSecond = 10

	httpTimeout = 60 * time.Second
)

// Options configures the platform client.
type Options struct {
	BaseURL string
	Token   string

	// RequestsPerSecond caps the shared request rate. Zero selects the
	// default.
	RequestsPerSecond float64
}

// Client is a DNAnexus API client. All calls are rate limited through a
// shared limiter so concurrent resolver workers stay inside the
// platform's request quota.
type Client struct {
	log     logrus.FieldLogger
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

// Compile-time interface checks.
var (
	_ audit.WorkspaceDirectory = (*Client)(nil)
	_ audit.JobService         = (*Client)(nil)
)

// NewClient creates a platform client.
func NewClient(log logrus.FieldLogger, opts Options) *Client {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	// A fractional rate must still allow single requests through.
	burst := int(math.Ceil(rps))
	if burst < 1 {
		burst = 1
	}

	return &Client{
		log:     log.WithField("component", "dnanexus"),
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type findProjectsRequest struct {
	Name     nameQuery     `json:"name"`
	Created  *createdQuery `json:"created,omitempty"`
	Describe describeQuery `json:"describe"`
	Starting string        `json:"starting,omitempty"`
}

type nameQuery struct {
	Glob string `json:"glob"`
}

type createdQuery struct {
	After  int64 `json:"after,omitempty"`
	Before int64 `json:"before,omitempty"`
}

type describeQuery struct {
	Fields map[string]bool `json:"fields"`
}

type findResult struct {
	ID       string `json:"id"`
	Describe struct {
		Name           string `json:"name"`
		Created        int64  `json:"created"`
		State          string `json:"state"`
		StartedRunning int64  `json:"startedRunning"`
		StoppedRunning int64  `json:"stoppedRunning"`
	} `json:"describe"`
}

type findResponse struct {
	Results []findResult `json:"results"`
	Next    *struct {
		ID string `json:"id"`
	} `json:"next"`
}

// ListWorkspaces finds projects whose name matches the glob pattern,
// created inside the given interval.
func (c *Client) ListWorkspaces(
	ctx context.Context,
	pattern string,
	createdAfter, createdBefore time.Time,
) ([]audit.Workspace, error) {
	req := findProjectsRequest{
		Name: nameQuery{Glob: pattern},
		Created: &createdQuery{
			After:  createdAfter.UnixMilli(),
			Before: createdBefore.UnixMilli(),
		},
		Describe: describeQuery{
			Fields: map[string]bool{"name": true, "created": true},
		},
	}

	var workspaces []audit.Workspace

	for {
		var resp findResponse
		if err := c.post(
			ctx, "/system/findProjects", req, &resp,
		); err != nil {
			return nil, err
		}

		for _, r := range resp.Results {
			workspaces = append(workspaces, audit.Workspace{
				ID:      r.ID,
				Name:    r.Describe.Name,
				Created: time.UnixMilli(r.Describe.Created).UTC(),
			})
		}

		if resp.Next == nil {
			return workspaces, nil
		}

		req.Starting = resp.Next.ID
	}
}

type listFolderRequest struct {
	Folder string `json:"folder"`
	Only   string `json:"only"`
}

type listFolderResponse struct {
	Folders []string `json:"folders"`
}

// ListFolders lists the top-level folders of a workspace, without the
// leading slash.
func (c *Client) ListFolders(
	ctx context.Context, workspaceID string,
) ([]string, error) {
	req := listFolderRequest{Folder: "/", Only: "folders"}

	var resp listFolderResponse
	if err := c.post(
		ctx, "/"+workspaceID+"/listFolder", req, &resp,
	); err != nil {
		return nil, err
	}

	folders := make([]string, 0, len(resp.Folders))
	for _, f := range resp.Folders {
		folders = append(folders, strings.TrimPrefix(f, "/"))
	}

	return folders, nil
}

type findDataObjectsRequest struct {
	Class    string        `json:"class"`
	Name     nameQuery     `json:"name"`
	Scope    scopeQuery    `json:"scope"`
	Describe describeQuery `json:"describe"`
	Starting string        `json:"starting,omitempty"`
}

type scopeQuery struct {
	Project string `json:"project"`
	Folder  string `json:"folder"`
	Recurse bool   `json:"recurse"`
}

// ListFiles finds files in a workspace folder matching the glob pattern.
func (c *Client) ListFiles(
	ctx context.Context,
	workspaceID, folder, pattern string,
) ([]audit.FileInfo, error) {
	req := findDataObjectsRequest{
		Class: "file",
		Name:  nameQuery{Glob: pattern},
		Scope: scopeQuery{
			Project: workspaceID,
			Folder:  folder,
			Recurse: true,
		},
		Describe: describeQuery{
			Fields: map[string]bool{"name": true, "created": true},
		},
	}

	var files []audit.FileInfo

	for {
		var resp findResponse
		if err := c.post(
			ctx, "/system/findDataObjects", req, &resp,
		); err != nil {
			return nil, err
		}

		for _, r := range resp.Results {
			files = append(files, audit.FileInfo{
				Name:    r.Describe.Name,
				Created: time.UnixMilli(r.Describe.Created).UTC(),
			})
		}

		if resp.Next == nil {
			return files, nil
		}

		req.Starting = resp.Next.ID
	}
}

type findExecutionsRequest struct {
	Project  string        `json:"project"`
	Name     nameQuery     `json:"name"`
	Describe describeQuery `json:"describe"`
	Starting string        `json:"starting,omitempty"`
}

// ListJobs finds job executions in a workspace whose name contains the
// job type.
func (c *Client) ListJobs(
	ctx context.Context,
	workspaceID, jobType string,
) ([]audit.JobInfo, error) {
	req := findExecutionsRequest{
		Project: workspaceID,
		Name:    nameQuery{Glob: "*" + jobType + "*"},
		Describe: describeQuery{
			Fields: map[string]bool{
				"state":          true,
				"startedRunning": true,
				"stoppedRunning": true,
			},
		},
	}

	var jobs []audit.JobInfo

	for {
		var resp findResponse
		if err := c.post(
			ctx, "/system/findExecutions", req, &resp,
		); err != nil {
			return nil, err
		}

		for _, r := range resp.Results {
			job := audit.JobInfo{State: r.Describe.State}

			if r.Describe.StartedRunning != 0 {
				job.Started = time.UnixMilli(
					r.Describe.StartedRunning,
				).UTC()
			}

			if r.Describe.StoppedRunning != 0 {
				job.Stopped = time.UnixMilli(
					r.Describe.StoppedRunning,
				).UTC()
			}

			jobs = append(jobs, job)
		}

		if resp.Next == nil {
			return jobs, nil
		}

		req.Starting = resp.Next.ID
	}
}

// post sends one rate-limited API call and decodes the JSON response.
func (c *Client) post(
	ctx context.Context, path string, reqBody, respBody any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return audit.NewProviderError(
			providerName, path, fmt.Errorf("encoding request: %w", err),
		)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload),
	)
	if err != nil {
		return audit.NewProviderError(
			providerName, path, fmt.Errorf("creating request: %w", err),
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Surface the deadline so callers can treat the call as
			// not-found instead of fatal.
			return ctx.Err()
		}

		return audit.NewProviderError(providerName, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return audit.NewProviderError(
			providerName,
			path,
			fmt.Errorf("status %d: %s", resp.StatusCode, body),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return audit.NewProviderError(
			providerName, path, fmt.Errorf("decoding response: %w", err),
		)
	}

	return nil
}
