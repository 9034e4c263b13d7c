package export

import (
	"strings"
	"testing"
	"time"
)

func sampleTimesheet() Timesheet {
	return Timesheet{
		Title:       "Acme April 2025",
		GeneratedAt: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC),
		Records: []Record{
			{
				ID: 1, MatterPath: "Acme > Litigation",
				Description: "drafting brief", StartTime: "2025-04-02T09:00:00Z",
				DurationSeconds: 5400, Rate: 120, RateSource: "matter", Amount: 180,
			},
			{
				ID: 2, MatterPath: "Acme > Litigation",
				Description: "call with counsel", StartTime: "2025-04-03T14:00:00Z",
				DurationSeconds: 1800, Rate: 120, RateSource: "matter", Amount: 60,
			},
		},
		Summary: []SummaryRow{
			{MatterPath: "Acme > Litigation", Description: "drafting brief", Segments: 1, DurationSeconds: 5400, Amount: 180},
		},
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML(sampleTimesheet())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out := string(html)
	for _, want := range []string{
		"Acme April 2025",
		"Acme &gt; Litigation",
		"drafting brief",
		"01:30:00",
		"180.00 €",
		"02:00:00", // total of 5400 + 1800
		"240.00 €",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered HTML missing %q", want)
		}
	}
}

func TestRenderHTMLEscapes(t *testing.T) {
	ts := sampleTimesheet()
	ts.Records[0].Description = `<script>alert("x")</script>`
	html, err := RenderHTML(ts)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(string(html), "<script>alert") {
		t.Fatal("description not escaped")
	}
}

func TestExportHTMLResult(t *testing.T) {
	res, err := Export(sampleTimesheet(), FormatHTML)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if res.Filename != "Acme-April-2025.html" {
		t.Errorf("filename = %q", res.Filename)
	}
	if res.MimeType != "text/html; charset=utf-8" {
		t.Errorf("mime type = %q", res.MimeType)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	if _, err := Export(sampleTimesheet(), Format("docx")); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Acme / April":   "Acme--April",
		"":               "timesheet",
		"___":            "___",
		"Ünïcode report": "ncode-report",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatHMS(t *testing.T) {
	cases := map[float64]string{
		0:      "00:00:00",
		59.4:   "00:00:59",
		3661:   "01:01:01",
		86400:  "24:00:00",
		5400:   "01:30:00",
		359999: "99:59:59",
		360000: "100:00:00",
	}
	for in, want := range cases {
		if got := formatHMS(in); got != want {
			t.Errorf("formatHMS(%v) = %q, want %q", in, got, want)
		}
	}
}
