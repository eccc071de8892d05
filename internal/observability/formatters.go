// Package observability provides formatted output utilities for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/commute-matcher/internal/engine"
	"github.com/jonathan/commute-matcher/internal/planning"
	"github.com/jonathan/commute-matcher/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 10
)

// Printer handles formatted output for the CLI.
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintStart outputs what a newly started run will process.
func (p *Printer) PrintStart(tenantID string, res *engine.StartResult) {
	if res == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tenant:     %s\n", tenantID)
	fmt.Fprintf(&sb, "Run:        %s\n", res.RunID)
	fmt.Fprintf(&sb, "Status:     %s\n", res.Status)
	fmt.Fprintf(&sb, "Pairs:      %d\n", res.TotalPairs)
	fmt.Fprintf(&sb, "Batches:    %d\n", res.TotalBatches)
	fmt.Fprintf(&sb, "Estimated:  %s", res.EstimatedDuration.Round(time.Second))

	p.printBox("GENERATION STARTED", sb.String())
}

// PrintJobState outputs a tenant's job progress.
func (p *Printer) PrintJobState(st *types.JobState) {
	if st == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tenant:     %s\n", st.TenantID)
	fmt.Fprintf(&sb, "Status:     %s\n", st.Status)
	if st.Status == types.JobStatusIdle {
		p.printBox("JOB STATUS", strings.TrimSuffix(sb.String(), "\n"))
		return
	}

	fmt.Fprintf(&sb, "Run:        %s (%s)\n", st.RunID, st.Mode)
	fmt.Fprintf(&sb, "Progress:   %d/%d pairs (%.1f%%)\n", st.ProcessedPairs, st.TotalPairs, st.PercentComplete())
	fmt.Fprintf(&sb, "Batches:    %d/%d\n", st.CurrentBatchIndex, st.TotalBatches)
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Matches:    %d\n", st.MatchesFound)
	fmt.Fprintf(&sb, "Excluded:   %d\n", st.ExcludedOver80)
	fmt.Fprintf(&sb, "Errors:     %d\n", st.Errors)
	if st.StartedAt != nil {
		end := st.UpdatedAt
		if st.CompletedAt != nil {
			end = *st.CompletedAt
		}
		if !end.IsZero() && end.After(*st.StartedAt) {
			fmt.Fprintf(&sb, "Elapsed:    %s\n", end.Sub(*st.StartedAt).Round(time.Second))
		}
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(&sb, "\nError: %s\n", st.ErrorMessage)
	}

	p.printBox("JOB STATUS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatchPlan outputs the batches a run would send without calling the provider.
func (p *Printer) PrintBatchPlan(policy string, batches []planning.Batch) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Policy:     %s\n", policy)
	fmt.Fprintf(&sb, "Pairs:      %d\n", planning.TotalPairs(batches))
	fmt.Fprintf(&sb, "Batches:    %d\n", len(batches))

	if len(batches) > 0 {
		sb.WriteString("\n")
		count := min(len(batches), maxItemsToShow)
		for _, b := range batches[:count] {
			fmt.Fprintf(&sb, "#%-4d %2d origins x %2d destinations = %3d\n",
				b.Index, len(b.Origins), len(b.Destinations), b.Size())
		}
		if len(batches) > maxItemsToShow {
			fmt.Fprintf(&sb, "... and %d more batches\n", len(batches)-maxItemsToShow)
		}
	}

	p.printBox("BATCH PLAN", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintMatches outputs matches, fastest commute first as listed by the store.
func (p *Printer) PrintMatches(matches []types.Match) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Total matches: %d\n", len(matches))

	if len(matches) > 0 {
		sb.WriteString("\n")
		count := min(len(matches), maxItemsToShow)
		for _, m := range matches[:count] {
			role := " "
			if m.RoleMatch {
				role = "✓"
			}
			fmt.Fprintf(&sb, "%s %-14s → %-14s %3d min %s\n",
				role, truncate(m.CandidateID, 14), truncate(m.ClientID, 14), m.CommuteMinutes, m.CommuteBand)
		}
		if len(matches) > maxItemsToShow {
			fmt.Fprintf(&sb, "... and %d more matches\n", len(matches)-maxItemsToShow)
		}
	}

	p.printBox("MATCHES", strings.TrimSuffix(sb.String(), "\n"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
