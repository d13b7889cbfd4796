package compliance

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seqops/seqaudit/pkg/audit"
)

const (
	providerName = "github"

	defaultBaseURL = "https://api.github.com"

	reposPageSize = 100

	httpTimeout = 30 * time.Second
)

// ErrNotFound is returned when a repository file does not exist.
var ErrNotFound = errors.New("file not found")

// Repo is a repository in the audited organization.
type Repo struct {
	Name     string `json:"name"`
	Archived bool   `json:"archived"`
}

// Source lists an organization's repositories and fetches file contents.
type Source interface {
	ListRepos(ctx context.Context, org string) ([]Repo, error)
	FileContent(
		ctx context.Context, org, repo, path string,
	) ([]byte, error)
}

// GitHubClient implements Source against the GitHub REST API.
type GitHubClient struct {
	log     logrus.FieldLogger
	http    *http.Client
	baseURL string
	token   string
}

var _ Source = (*GitHubClient)(nil)

// NewGitHubClient creates a GitHub client. baseURL is optional and
// supports GitHub Enterprise installations.
func NewGitHubClient(
	log logrus.FieldLogger, baseURL, token string,
) *GitHubClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &GitHubClient{
		log:     log.WithField("component", "github"),
		http:    &http.Client{Timeout: httpTimeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
	}
}

// ListRepos returns all repositories of the organization.
func (c *GitHubClient) ListRepos(
	ctx context.Context, org string,
) ([]Repo, error) {
	var repos []Repo

	for page := 1; ; page++ {
		url := fmt.Sprintf(
			"%s/orgs/%s/repos?per_page=%d&page=%d",
			c.baseURL, org, reposPageSize, page,
		)

		var batch []Repo
		if err := c.get(ctx, url, &batch); err != nil {
			return nil, err
		}

		repos = append(repos, batch...)

		if len(batch) < reposPageSize {
			return repos, nil
		}
	}
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// FileContent fetches one file from a repository's default branch.
// Returns ErrNotFound when the path does not exist.
func (c *GitHubClient) FileContent(
	ctx context.Context, org, repo, path string,
) ([]byte, error) {
	url := fmt.Sprintf(
		"%s/repos/%s/%s/contents/%s", c.baseURL, org, repo, path,
	)

	var resp contentsResponse
	if err := c.get(ctx, url, &resp); err != nil {
		return nil, err
	}

	if resp.Encoding != "base64" {
		return []byte(resp.Content), nil
	}

	// GitHub wraps base64 content at 60 columns.
	decoded, err := base64.StdEncoding.DecodeString(
		strings.ReplaceAll(resp.Content, "\n", ""),
	)
	if err != nil {
		return nil, audit.NewProviderError(
			providerName, url, fmt.Errorf("decoding content: %w", err),
		)
	}

	return decoded, nil
}

// get sends one authenticated API call and decodes the JSON response.
func (c *GitHubClient) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return audit.NewProviderError(
			providerName, url, fmt.Errorf("creating request: %w", err),
		)
	}

	req.Header.Set("Accept", "application/vnd.github+json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return audit.NewProviderError(providerName, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return audit.NewProviderError(
			providerName,
			url,
			fmt.Errorf("status %d: %s", resp.StatusCode, body),
		)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return audit.NewProviderError(
			providerName, url, fmt.Errorf("decoding response: %w", err),
		)
	}

	return nil
}
