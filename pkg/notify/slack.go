// Package notify posts audit summaries to a Slack incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seqops/seqaudit/pkg/audit"
	"github.com/seqops/seqaudit/pkg/config"
)

const httpTimeout = 10 * time.Second

// Notifier posts a short audit summary to Slack.
type Notifier struct {
	log  logrus.FieldLogger
	http *http.Client
	cfg  *config.NotifyConfig
}

// NewNotifier creates a Notifier for the configured webhook.
func NewNotifier(
	log logrus.FieldLogger, cfg *config.NotifyConfig,
) *Notifier {
	return &Notifier{
		log:  log.WithField("component", "notify"),
		http: &http.Client{Timeout: httpTimeout},
		cfg:  cfg,
	}
}

type slackMessage struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// NotifyReport posts the compliance summary of a finished audit. A failed
// notification is logged and returned but should not fail the audit; the
// report is already on disk by the time this runs.
func (n *Notifier) NotifyReport(
	ctx context.Context, report *audit.Report,
) error {
	msg := slackMessage{
		Channel: n.cfg.Channel,
		Text:    summaryText(report),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		n.cfg.WebhookURL,
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

		return fmt.Errorf(
			"webhook returned status %d: %s", resp.StatusCode, body,
		)
	}

	n.log.Info("Audit summary posted to Slack")

	return nil
}

// summaryText renders the one-message audit summary.
func summaryText(report *audit.Report) string {
	var buf bytes.Buffer

	fmt.Fprintf(
		&buf,
		"Turnaround time audit %s to %s: %d runs audited.\n",
		report.Start.Format("2006-01-02"),
		report.End.Format("2006-01-02"),
		report.TotalRuns(),
	)

	for i := range report.Assays {
		assay := &report.Assays[i]
		if len(assay.Records) == 0 {
			continue
		}

		fmt.Fprintf(
			&buf,
			"• %s: %.1f%% compliant (%d/%d), %d needing review\n",
			assay.AssayType,
			assay.CompliancePercent(),
			assay.CompliantRuns,
			assay.RelevantRuns,
			assay.Counts[audit.ClassNeedsReview],
		)
	}

	if n := len(report.Cancelled); n > 0 {
		fmt.Fprintf(&buf, "• %d cancelled runs excluded\n", n)
	}

	return buf.String()
}
