// Package report renders the debug report for the most recent run from the
// diagnostics journal and the transport metrics.
package report

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// ErrNoRuns is returned when the journal holds no runs to report on.
var ErrNoRuns = errors.New("no recorded runs")

// JournalReader is the read side of the run journal.
type JournalReader interface {
	LatestRun(ctx context.Context) (*model.RunSummary, error)
	Events(ctx context.Context, runID string) ([]model.TransportEvent, error)
}

// Metric is one gathered metric value.
type Metric struct {
	Name   string
	Labels string
	Value  float64
}

// Data is everything a report is rendered from.
type Data struct {
	GeneratedAt time.Time
	Run         model.RunSummary
	Events      []model.TransportEvent
	Metrics     []Metric
}

// Load reads the latest run and its events from the journal.
func Load(ctx context.Context, journal JournalReader, metrics []Metric, now time.Time) (Data, error) {
	run, err := journal.LatestRun(ctx)
	if err != nil {
		return Data{}, fmt.Errorf("load latest run: %w", err)
	}
	if run == nil {
		return Data{}, ErrNoRuns
	}

	events, err := journal.Events(ctx, run.ID)
	if err != nil {
		return Data{}, fmt.Errorf("load events for run %s: %w", run.ID, err)
	}

	return Data{GeneratedAt: now, Run: *run, Events: events, Metrics: metrics}, nil
}

// Markdown renders d as a GitHub-flavored markdown document.
func Markdown(d Data) string {
	var b strings.Builder

	b.WriteString("# CDP Runbooker debug report\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", d.GeneratedAt.UTC().Format(time.RFC3339))

	writeRun(&b, d.Run)
	writeTransportSummary(&b, d.Events)
	writeMetrics(&b, d.Metrics)
	writeEvents(&b, d.Run.StartedAt, d.Events)

	return b.String()
}

// HTML renders d as a standalone sanitized HTML page.
func HTML(d Data) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>CDP Runbooker debug report %s</title>\n", html.EscapeString(d.Run.ID))
	b.WriteString("</head>\n<body>\n")
	b.WriteString(RenderHTML(Markdown(d)))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// Write renders d to path, as HTML when the extension is .html or .htm and
// as markdown otherwise. The file is replaced atomically.
func Write(path string, d Data) error {
	var body string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		body = HTML(d)
	default:
		body = Markdown(d)
	}

	if err := atomic.WriteFile(path, strings.NewReader(body)); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}

func writeRun(b *strings.Builder, run model.RunSummary) {
	b.WriteString("## Run\n\n")
	b.WriteString("| field | value |\n|---|---|\n")
	row(b, "id", run.ID)
	row(b, "command", run.Command)
	row(b, "started", formatTime(run.StartedAt))
	row(b, "finished", formatTime(run.FinishedAt))
	if !run.FinishedAt.IsZero() {
		row(b, "duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
	}
	row(b, "resolved", fmt.Sprint(run.Resolved))
	row(b, "already member", fmt.Sprint(run.AlreadyMember))
	row(b, "unresolved", fmt.Sprint(run.Unresolved))
	row(b, "added", fmt.Sprint(run.Added))
	if run.Error != "" {
		row(b, "error", run.Error)
	}
	b.WriteString("\n")
}

func writeTransportSummary(b *strings.Builder, events []model.TransportEvent) {
	b.WriteString("## Transport\n\n")
	if len(events) == 0 {
		b.WriteString("No transport events were recorded.\n\n")
		return
	}

	var sends, maxAttempt int
	statuses := make(map[int]int)
	waits := make(map[model.WaitReason]time.Duration)
	outcomes := make(map[string]int)
	lowest := -1

	for _, ev := range events {
		switch ev.Kind {
		case model.EventSend:
			sends++
			maxAttempt = max(maxAttempt, ev.Attempt)
		case model.EventResponse:
			statuses[ev.Status]++
			if ev.Remaining >= 0 && (lowest < 0 || ev.Remaining < lowest) {
				lowest = ev.Remaining
			}
		case model.EventWait:
			waits[ev.Reason] += ev.Wait
		case model.EventOutcome:
			outcomes[ev.Outcome]++
		}
	}

	b.WriteString("| measure | value |\n|---|---|\n")
	row(b, "requests sent", fmt.Sprint(sends))
	row(b, "highest attempt", fmt.Sprint(maxAttempt))
	if lowest >= 0 {
		row(b, "lowest remaining quota", fmt.Sprint(lowest))
	}
	for _, code := range sortedKeys(statuses) {
		row(b, fmt.Sprintf("status %d", code), fmt.Sprint(statuses[code]))
	}
	for _, reason := range sortedKeys(waits) {
		row(b, "waited ("+string(reason)+")", waits[reason].String())
	}
	for _, outcome := range sortedKeys(outcomes) {
		row(b, "outcome "+outcome, fmt.Sprint(outcomes[outcome]))
	}
	b.WriteString("\n")
}

func writeMetrics(b *strings.Builder, metrics []Metric) {
	if len(metrics) == 0 {
		return
	}
	b.WriteString("## Metrics\n\n")
	b.WriteString("| metric | labels | value |\n|---|---|---|\n")
	for _, m := range metrics {
		fmt.Fprintf(b, "| %s | %s | %g |\n", cell(m.Name), cell(m.Labels), m.Value)
	}
	b.WriteString("\n")
}

func writeEvents(b *strings.Builder, start time.Time, events []model.TransportEvent) {
	if len(events) == 0 {
		return
	}
	b.WriteString("## Events\n\n")
	b.WriteString("| +time | kind | request | attempt | status | wait | remaining | outcome | error |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|\n")
	for _, ev := range events {
		offset := ""
		if !start.IsZero() {
			offset = ev.At.Sub(start).Round(time.Millisecond).String()
		}
		wait := ""
		if ev.Wait > 0 {
			wait = ev.Wait.String() + " " + string(ev.Reason)
		}
		status := ""
		if ev.Status != 0 {
			status = fmt.Sprint(ev.Status)
		}
		remaining := ""
		if ev.Remaining >= 0 && ev.Kind == model.EventResponse {
			remaining = fmt.Sprint(ev.Remaining)
		}
		fmt.Fprintf(b, "| %s | %s | %s %s | %d | %s | %s | %s | %s | %s |\n",
			offset, ev.Kind, ev.Method, cell(ev.Endpoint), ev.Attempt,
			status, wait, remaining, cell(ev.Outcome), cell(ev.Err))
	}
	b.WriteString("\n")
}

func row(b *strings.Builder, field, value string) {
	fmt.Fprintf(b, "| %s | %s |\n", field, cell(value))
}

// cell keeps a value inside one table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
