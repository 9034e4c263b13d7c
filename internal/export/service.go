// Package export renders flattened time entry records into timesheet
// documents for clients. It consumes plain records; the app layer
// produces them through the scope resolver and rate cascade.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"math"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ErrPDFDependencyMissing indicates headless Chrome is not installed.
var ErrPDFDependencyMissing = errors.New("pdf export dependency missing")

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Record is one flattened time entry.
type Record struct {
	ID              int64
	MatterPath      string
	Description     string
	StartTime       string
	EndTime         string
	DurationSeconds float64
	Invoiced        bool
	Rate            float64
	RateSource      string
	Amount          float64
}

// SummaryRow is one grouped "this task took N hours" line.
type SummaryRow struct {
	MatterPath      string
	Description     string
	Segments        int
	DurationSeconds float64
	Amount          float64
}

// Timesheet is the renderable document: per-entry detail rows plus
// grouped summary rows, with window and totals.
type Timesheet struct {
	Title       string
	GeneratedAt time.Time
	From        *time.Time
	To          *time.Time
	Records     []Record
	Summary     []SummaryRow
}

func (t Timesheet) TotalSeconds() float64 {
	var sum float64
	for _, r := range t.Records {
		sum += r.DurationSeconds
	}
	return sum
}

func (t Timesheet) TotalAmount() float64 {
	var sum float64
	for _, r := range t.Records {
		sum += r.Amount
	}
	return sum
}

func formatHMS(seconds float64) string {
	total := int64(math.Round(seconds))
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

var timesheetTemplate = template.Must(template.New("timesheet").Funcs(template.FuncMap{
	"hms":  formatHMS,
	"euro": func(v float64) string { return fmt.Sprintf("%.2f €", v) },
	"date": func(t time.Time) string { return t.Format("2006-01-02") },
}).Parse(timesheetHTML))

type templateData struct {
	Timesheet
	Window string
}

// RenderHTML renders the timesheet document.
func RenderHTML(ts Timesheet) ([]byte, error) {
	data := templateData{Timesheet: ts}
	switch {
	case ts.From != nil && ts.To != nil:
		data.Window = fmt.Sprintf("%s – %s", ts.From.Format("2006-01-02"), ts.To.Format("2006-01-02"))
	case ts.From != nil:
		data.Window = "from " + ts.From.Format("2006-01-02")
	case ts.To != nil:
		data.Window = "until " + ts.To.Format("2006-01-02")
	}

	var buf bytes.Buffer
	if err := timesheetTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render timesheet: %w", err)
	}
	return buf.Bytes(), nil
}

// Export renders the timesheet in the requested format.
func Export(ts Timesheet, format Format) (*Result, error) {
	html, err := RenderHTML(ts)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatHTML, "":
		return &Result{
			Data:     html,
			Filename: sanitizeFilename(ts.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(string(html), ts.Title)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func sanitizeFilename(title string) string {
	if title == "" {
		return "timesheet"
	}
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r == ' ':
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "timesheet"
	}
	return string(out)
}

const timesheetHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Georgia, serif; margin: 2em; color: #222; }
  h1 { font-size: 1.4em; border-bottom: 2px solid #222; padding-bottom: 0.3em; }
  .meta { color: #666; font-size: 0.85em; margin-bottom: 1.5em; }
  table { width: 100%; border-collapse: collapse; margin-bottom: 2em; }
  th { text-align: left; border-bottom: 1px solid #999; padding: 0.4em 0.6em; font-size: 0.8em; text-transform: uppercase; }
  td { padding: 0.4em 0.6em; border-bottom: 1px solid #eee; font-size: 0.9em; }
  td.num { text-align: right; white-space: nowrap; }
  tfoot td { font-weight: bold; border-top: 2px solid #222; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">
  Generated {{date .GeneratedAt}}{{if .Window}} · {{.Window}}{{end}}
</div>

{{if .Summary}}
<h2>Summary</h2>
<table>
  <thead>
    <tr><th>Matter</th><th>Task</th><th>Time</th><th>Amount</th></tr>
  </thead>
  <tbody>
  {{range .Summary}}
    <tr>
      <td>{{.MatterPath}}</td>
      <td>{{.Description}}</td>
      <td class="num">{{hms .DurationSeconds}}</td>
      <td class="num">{{euro .Amount}}</td>
    </tr>
  {{end}}
  </tbody>
</table>
{{end}}

<h2>Detail</h2>
<table>
  <thead>
    <tr><th>Matter</th><th>Description</th><th>Start</th><th>Time</th><th>Rate</th><th>Amount</th></tr>
  </thead>
  <tbody>
  {{range .Records}}
    <tr>
      <td>{{.MatterPath}}</td>
      <td>{{.Description}}</td>
      <td>{{.StartTime}}</td>
      <td class="num">{{hms .DurationSeconds}}</td>
      <td class="num">{{euro .Rate}}</td>
      <td class="num">{{euro .Amount}}</td>
    </tr>
  {{end}}
  </tbody>
  <tfoot>
    <tr>
      <td colspan="3">Total</td>
      <td class="num">{{hms .TotalSeconds}}</td>
      <td></td>
      <td class="num">{{euro .TotalAmount}}</td>
    </tr>
  </tfoot>
</table>
</body>
</html>`
