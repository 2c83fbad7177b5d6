package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/application"
	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// Printer renders results for humans. Colors are dropped automatically when
// out is not a color-capable terminal.
type Printer struct {
	out     io.Writer
	ok      lipgloss.Style
	fail    lipgloss.Style
	warn    lipgloss.Style
	heading lipgloss.Style
	dim     lipgloss.Style
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	r := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		ok:      r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		fail:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:    r.NewStyle().Foreground(lipgloss.Color("3")),
		heading: r.NewStyle().Bold(true).Underline(true),
		dim:     r.NewStyle().Faint(true),
	}
}

// Diagnosis prints each diagnostic step and an overall verdict.
func (p *Printer) Diagnosis(d application.Diagnosis) {
	fmt.Fprintln(p.out, p.heading.Render("Token diagnosis"))
	if d.Token != "" {
		fmt.Fprintf(p.out, "%s %s (%s)\n", p.dim.Render("token:"), d.Token, d.Origin)
	}
	for _, s := range d.Steps {
		mark := p.ok.Render("ok  ")
		if !s.OK {
			mark = p.fail.Render("FAIL")
		}
		fmt.Fprintf(p.out, "  %s %-13s %s\n", mark, s.Name, s.Detail)
	}
	if d.Healthy() {
		fmt.Fprintln(p.out, p.ok.Render("All checks passed."))
		return
	}
	fmt.Fprintln(p.out, p.fail.Render("Some checks failed."))
}

// AddReport prints the outcome of an add-users run.
func (p *Printer) AddReport(r model.AddMembersReport) {
	resolved, already, unresolved := r.Resolution.Counts()

	fmt.Fprintln(p.out, p.heading.Render("Folder "+r.FolderID))
	fmt.Fprintf(p.out, "  candidates:     %d\n", len(r.Resolution.Results))
	fmt.Fprintf(p.out, "  resolved:       %d\n", resolved)
	fmt.Fprintf(p.out, "  already member: %d\n", already)
	fmt.Fprintf(p.out, "  unresolved:     %d\n", unresolved)
	fmt.Fprintf(p.out, "  added:          %s\n", p.ok.Render(fmt.Sprint(r.Added)))

	for _, res := range r.Resolution.Results {
		if res.Outcome == model.OutcomeResolved && res.MatchedDomain != "" {
			fmt.Fprintf(p.out, "  %s %s matched via %s\n", p.dim.Render("~"), res.Candidate, res.MatchedDomain)
		}
	}

	if unresolved > 0 {
		fmt.Fprintln(p.out, p.warn.Render("Unresolved:"))
		for _, res := range r.Resolution.Unresolved() {
			if res.Cause != nil {
				fmt.Fprintf(p.out, "  %s (%s)\n", res.Candidate, model.KindOf(res.Cause))
				continue
			}
			fmt.Fprintf(p.out, "  %s\n", res.Candidate)
		}
	}

	if r.FailedBatches > 0 {
		fmt.Fprintln(p.out, p.fail.Render(fmt.Sprintf("%d add batch(es) failed:", r.FailedBatches)))
		for _, err := range r.BatchErrors {
			fmt.Fprintf(p.out, "  %v\n", err)
		}
	}
}

// Success prints a confirmation line.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, p.ok.Render(msg))
}

// Warn prints a warning line.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.out, p.warn.Render(msg))
}
