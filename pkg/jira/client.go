// Package jira implements the ticket service against the Jira Service
// Management REST API.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seqops/seqaudit/pkg/audit"
)

const (
	providerName = "jira"

	// queuePageSize is the page size for service-desk queue listings.
	queuePageSize = 50

	// changelogPageSize is the page size for issue changelog listings.
	changelogPageSize = 100

	httpTimeout = 60 * time.Second

	// jiraTimeLayout is the timestamp format used by the Jira REST API.
	jiraTimeLayout = "2006-01-02T15:04:05.000-0700"
)

// Options configures the Jira client.
type Options struct {
	BaseURL       string
	Email         string
	Token         string
	ServiceDeskID string

	// AssayFieldID is the custom field carrying the assay type, e.g.
	// "customfield_10070".
	AssayFieldID string
}

// Client is a Jira Service Management API client.
type Client struct {
	log  logrus.FieldLogger
	http *http.Client
	opts Options
}

var _ audit.TicketService = (*Client)(nil)

// NewClient creates a Jira client authenticating with email + API token.
func NewClient(log logrus.FieldLogger, opts Options) *Client {
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	return &Client{
		log:  log.WithField("component", "jira"),
		http: &http.Client{Timeout: httpTimeout},
		opts: opts,
	}
}

type queueIssue struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

type issueFields struct {
	Summary string `json:"summary"`
	Status  struct {
		Name string `json:"name"`
	} `json:"status"`
	Created string `json:"created"`
}

type queuePage struct {
	Values     []queueIssue `json:"values"`
	IsLastPage bool         `json:"isLastPage"`
}

// ListQueue returns every ticket in a service-desk queue, walking all
// pages.
func (c *Client) ListQueue(
	ctx context.Context, queueID int,
) ([]audit.Ticket, error) {
	path := fmt.Sprintf(
		"/rest/servicedeskapi/servicedesk/%s/queue/%d/issue",
		c.opts.ServiceDeskID,
		queueID,
	)

	var tickets []audit.Ticket

	for start := 0; ; start += queuePageSize {
		url := fmt.Sprintf(
			"%s%s?start=%d&limit=%d",
			c.opts.BaseURL, path, start, queuePageSize,
		)

		var page queuePage
		if err := c.get(ctx, url, &page); err != nil {
			return nil, err
		}

		for _, issue := range page.Values {
			ticket, err := c.parseIssue(issue)
			if err != nil {
				c.log.WithError(err).WithField("issue", issue.Key).
					Warn("Skipping unparsable queue issue")

				continue
			}

			tickets = append(tickets, ticket)
		}

		if page.IsLastPage || len(page.Values) == 0 {
			return tickets, nil
		}
	}
}

// parseIssue extracts the ticket from a queue issue, including the assay
// type custom field which may be a plain string or an option object.
func (c *Client) parseIssue(issue queueIssue) (audit.Ticket, error) {
	var fields issueFields
	if err := json.Unmarshal(issue.Fields, &fields); err != nil {
		return audit.Ticket{}, fmt.Errorf("parsing fields: %w", err)
	}

	created, err := time.Parse(jiraTimeLayout, fields.Created)
	if err != nil {
		return audit.Ticket{}, fmt.Errorf("parsing created: %w", err)
	}

	ticket := audit.Ticket{
		ID:      issue.ID,
		Key:     issue.Key,
		Title:   fields.Summary,
		Status:  fields.Status.Name,
		Created: created.UTC(),
	}

	if c.opts.AssayFieldID != "" {
		ticket.AssayType = parseAssayField(issue.Fields, c.opts.AssayFieldID)
	}

	return ticket, nil
}

// parseAssayField reads the assay custom field as either "CEN" or
// {"value": "CEN"}.
func parseAssayField(fields json.RawMessage, fieldID string) string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(fields, &raw); err != nil {
		return ""
	}

	value, ok := raw[fieldID]
	if !ok {
		return ""
	}

	var asString string
	if err := json.Unmarshal(value, &asString); err == nil {
		return asString
	}

	var asOption struct {
		Value string `json:"value"`
	}

	if err := json.Unmarshal(value, &asOption); err == nil {
		return asOption.Value
	}

	return ""
}

type changelogPage struct {
	Values []struct {
		Created string `json:"created"`
		Items   []struct {
			Field    string `json:"field"`
			ToString string `json:"toString"`
		} `json:"items"`
	} `json:"values"`
	IsLast bool `json:"isLast"`
}

// Transitions walks the issue changelog and returns, per status, the
// latest time the ticket entered that status. Queue listings only carry
// the current status date, which lags the actual transition.
func (c *Client) Transitions(
	ctx context.Context, ticketID string,
) (map[string]time.Time, error) {
	transitions := make(map[string]time.Time)

	for startAt := 0; ; startAt += changelogPageSize {
		url := fmt.Sprintf(
			"%s/rest/api/3/issue/%s/changelog?startAt=%d&maxResults=%d",
			c.opts.BaseURL,
			ticketID,
			startAt,
			changelogPageSize,
		)

		var page changelogPage
		if err := c.get(ctx, url, &page); err != nil {
			return nil, err
		}

		for _, entry := range page.Values {
			at, err := time.Parse(jiraTimeLayout, entry.Created)
			if err != nil {
				continue
			}

			for _, item := range entry.Items {
				if item.Field != "status" {
					continue
				}

				if at.UTC().After(transitions[item.ToString]) {
					transitions[item.ToString] = at.UTC()
				}
			}
		}

		if page.IsLast || len(page.Values) == 0 {
			return transitions, nil
		}
	}
}

// get sends one authenticated API call and decodes the JSON response.
func (c *Client) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, url, nil,
	)
	if err != nil {
		return audit.NewProviderError(
			providerName, url, fmt.Errorf("creating request: %w", err),
		)
	}

	req.SetBasicAuth(c.opts.Email, c.opts.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		return audit.NewProviderError(providerName, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

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
