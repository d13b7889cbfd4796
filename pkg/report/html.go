package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/seqops/seqaudit/pkg/audit"
)

var htmlFuncs = template.FuncMap{
	"days":    formatDays,
	"date":    func(t time.Time) string { return t.Format("2006-01-02") },
	"instant": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	"stamp":   formatStamp,
}

func formatDays(d *time.Duration) string {
	if d == nil {
		return "-"
	}

	return fmt.Sprintf("%.2f", audit.Days(*d))
}

func formatStamp(ts audit.Timestamp) string {
	if !ts.Resolved() {
		return ts.Reason
	}

	return ts.Time.Format("2006-01-02 15:04")
}

var htmlTemplate = template.Must(
	template.New("report").Funcs(htmlFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Turnaround time audit {{date .Start}} to {{date .End}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #bbb; padding: 4px 10px; text-align: left; }
th { background: #eee; }
h2 { margin-top: 2em; }
.compliant { color: #1a7f37; }
.non-compliant { color: #b42318; }
.needs-review { color: #9a6700; }
.cancelled { color: #666; }
</style>
</head>
<body>
<h1>Turnaround time audit</h1>
<p>Period {{date .Start}} to {{date .End}}, generated {{instant .GeneratedAt}}.</p>

{{range .Assays}}
<h2>{{.AssayType}}</h2>
{{if .Records}}
<p>
Compliance: <strong>{{percent .CompliancePercent}}</strong>
({{.CompliantRuns}}/{{.RelevantRuns}} runs within standard).
Mean turnaround {{printf "%.2f" .MeanOverallDays}} days,
median {{printf "%.2f" .MedianOverallDays}} days.
</p>
<table>
<tr>
<th>Run</th><th>Upload</th><th>First job</th><th>Last job</th>
<th>Release</th><th>Upload&rarr;job (d)</th><th>Pipeline (d)</th>
<th>Processing&rarr;release (d)</th><th>Overall (d)</th><th>Status</th>
</tr>
{{range .Records}}
<tr>
<td>{{.Run.Name}}</td>
<td>{{stamp .Times.Upload}}</td>
<td>{{stamp .Times.FirstJob}}</td>
<td>{{stamp .Times.LastJob}}</td>
<td>{{stamp .Times.Release}}{{if .Times.Provisional}} (provisional){{end}}</td>
<td>{{days .UploadToFirstJob}}</td>
<td>{{days .PipelineDuration}}</td>
<td>{{days .ProcessingToRelease}}</td>
<td>{{days .OverallTAT}}</td>
<td class="{{.Classification}}">{{.Classification}}</td>
</tr>
{{end}}
</table>
{{if .ReviewBuckets}}
<h3>Needs manual review</h3>
<table>
<tr><th>Reason</th><th>Runs</th></tr>
{{range $reason, $runs := .ReviewBuckets}}
<tr><td>{{$reason}}</td><td>{{range $runs}}{{.}} {{end}}</td></tr>
{{end}}
</table>
{{end}}
{{else}}
<p>No runs found for this assay in the audit period.</p>
{{end}}
{{end}}

{{if .Cancelled}}
<h2>Cancelled runs</h2>
<table>
<tr><th>Run</th><th>Assay</th><th>Ticket created</th><th>Reason</th></tr>
{{range .Cancelled}}
<tr>
<td>{{.RunName}}</td><td>{{.AssayType}}</td>
<td>{{instant .TicketCreated}}</td><td>{{.Reason}}</td>
</tr>
{{end}}
</table>
{{end}}

{{if or .TicketTypos .FolderTypos}}
<h2>Naming mismatches</h2>
<table>
<tr><th>Assay</th><th>Run</th><th>Observed name</th><th>Where</th></tr>
{{range .TicketTypos}}
<tr><td>{{.AssayType}}</td><td>{{.RunName}}</td><td>{{.Observed}}</td><td>ticket</td></tr>
{{end}}
{{range .FolderTypos}}
<tr><td>{{.AssayType}}</td><td>{{.RunName}}</td><td>{{.Observed}}</td><td>staging folder</td></tr>
{{end}}
</table>
{{end}}

{{if .OpenNoWorkspace}}
<h2>Open tickets with no workspace</h2>
<table>
<tr><th>Ticket</th><th>Title</th><th>Status</th><th>Created</th></tr>
{{range .OpenNoWorkspace}}
<tr>
<td>{{.Ticket.Key}}</td><td>{{.Ticket.Title}}</td>
<td>{{.Ticket.Status}}</td><td>{{instant .Ticket.Created}}</td>
</tr>
{{end}}
</table>
{{end}}

{{if .ReleasedNoWorkspace}}
<h2>Released tickets with no workspace</h2>
<table>
<tr><th>Ticket</th><th>Title</th><th>Created</th><th>Estimated turnaround (d)</th></tr>
{{range .ReleasedNoWorkspace}}
<tr>
<td>{{.Ticket.Key}}</td><td>{{.Ticket.Title}}</td>
<td>{{instant .Ticket.Created}}</td><td>{{days .EstimatedTAT}}</td>
</tr>
{{end}}
</table>
{{end}}

</body>
</html>
`))

// RenderHTML renders the report as a standalone HTML page.
func RenderHTML(report *audit.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}

	return buf.Bytes(), nil
}
