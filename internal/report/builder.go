// Package report renders the summary mailed after a run.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Entry is the result of one site flow.
type Entry struct {
	Site      string
	Flow      string
	Outcome   string
	Detail    string
	AuthStage string
	DryRun    bool
	Duration  time.Duration
	// Lines are flow-specific details, one per claimed coupon, sale item
	// or task.
	Lines []string
}

// Failed reports whether the flow did not complete.
func (e Entry) Failed() bool { return e.Outcome != "completed" }

// Builder creates run reports
type Builder struct {
	maxLines int
	template *template.Template
	now      func() time.Time
}

// New creates a new report builder. maxLines bounds the detail lines per
// entry; 0 means no limit.
func New(maxLines int) (*Builder, error) {
	tmpl, err := template.New("report").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{
		maxLines: maxLines,
		template: tmpl,
		now:      time.Now,
	}, nil
}

// Report represents a compiled report ready for sending
type Report struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	Failures  int
	CreatedAt time.Time
}

// reportData is the template data structure
type reportData struct {
	Title    string
	Date     string
	RunID    string
	Entries  []Entry
	Failures int
}

// Build creates a report for the run with the given id.
func (b *Builder) Build(runID string, entries []Entry) (*Report, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no flows to report")
	}

	now := b.now()
	data := reportData{
		Title:   "claim4me run",
		Date:    now.Format("Monday, January 2 15:04"),
		RunID:   runID,
		Entries: make([]Entry, len(entries)),
	}
	for i, e := range entries {
		if b.maxLines > 0 && len(e.Lines) > b.maxLines {
			more := len(e.Lines) - b.maxLines
			e.Lines = append(e.Lines[:b.maxLines:b.maxLines], fmt.Sprintf("... and %d more", more))
		}
		if e.Failed() {
			data.Failures++
		}
		data.Entries[i] = e
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	status := "all completed"
	if data.Failures > 0 {
		status = fmt.Sprintf("%d of %d failed", data.Failures, len(entries))
	}
	return &Report{
		Subject:   fmt.Sprintf("claim4me %s: %s", now.Format("Jan 2"), status),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		Failures:  data.Failures,
		CreatedAt: now,
	}, nil
}

func buildPlainText(data reportData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s\n%s\nrun %s\n\n", data.Title, data.Date, data.RunID))

	for _, e := range data.Entries {
		buf.WriteString(fmt.Sprintf("%s %s: %s", e.Site, e.Flow, e.Outcome))
		if e.Detail != "" {
			buf.WriteString(" (" + e.Detail + ")")
		}
		if e.DryRun {
			buf.WriteString(" [dry run]")
		}
		buf.WriteString("\n")
		for _, l := range e.Lines {
			buf.WriteString("   " + strings.TrimSpace(l) + "\n")
		}
		buf.WriteString("\n")
	}

	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #ee4d2d; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .flow { border-bottom: 1px solid #eee; padding: 15px 0; }
        .flow:last-child { border-bottom: none; }
        .name { font-weight: bold; color: #333; }
        .completed { color: #2e7d32; }
        .failed { color: #c62828; }
        .detail { margin: 8px 0; color: #555; }
        .lines { margin: 5px 0; padding-left: 18px; color: #444; font-size: 13px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}}</div>

        {{range .Entries}}
        <div class="flow">
            <div class="name">{{.Site}} {{.Flow}}
                <span class="{{if .Failed}}failed{{else}}completed{{end}}">{{.Outcome}}</span>
                {{if .DryRun}}<span>(dry run)</span>{{end}}
            </div>
            {{if .Detail}}<div class="detail">{{.Detail}}</div>{{end}}
            {{if .AuthStage}}<div class="detail">login stage: {{.AuthStage}}</div>{{end}}
            {{if .Lines}}<ul class="lines">{{range .Lines}}<li>{{.}}</li>{{end}}</ul>{{end}}
        </div>
        {{end}}

        <div class="footer">
            Run {{.RunID}} · {{.Failures}} failed · Generated by claim4me
        </div>
    </div>
</body>
</html>`
