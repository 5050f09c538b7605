package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mikeboe/deep-research/pkg/research"
)

const rule = "============================================================"

func printProgress(w io.Writer, it research.Iteration) {
	fmt.Fprintf(w, "  iteration %d: %d queries, %d sources, %d relevant summaries, confidence %d/10\n",
		it.IterationNumber, len(it.Queries), len(it.SearchResults), len(it.Summaries), it.Synthesis.ConfidenceScore)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

// printSummary writes the human readable outcome of a run.
func printSummary(w io.Writer, r *research.ResearchReport) {
	final := r.FinalSynthesis

	fmt.Fprintf(w, "\n%s\nRESEARCH SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(w, "Query: %s\n", r.OriginalQuery)
	fmt.Fprintf(w, "Iterations: %d\n", len(r.Iterations))
	fmt.Fprintf(w, "Sources analyzed: %d\n", r.TotalSources)
	fmt.Fprintf(w, "Confidence: %.0f/10\n", r.ConfidenceScore)
	if final.NeedsMoreResearch {
		fmt.Fprintln(w, "Status: more research recommended")
	}

	fmt.Fprintf(w, "\nExecutive summary:\n%s\n", strings.TrimSpace(final.ExecutiveSummary))

	findings := make([]string, 0, len(final.KeyFindings))
	for _, f := range final.KeyFindings {
		if f.Theme != "" {
			findings = append(findings, f.Theme+": "+f.Finding)
		} else {
			findings = append(findings, f.Finding)
		}
	}
	printList(w, "Key findings", findings)
	printList(w, "Information gaps", final.InformationGaps)
}
