// Package cli renders Mistri results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/mistri/internal/ingest"
	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/router"
	"github.com/hyperjump/mistri/internal/store"
	"github.com/hyperjump/mistri/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per item, tab-separated.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts text, compact, or json (case-insensitive).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputCompact, OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (use text, compact, or json)", s)
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func categoryLabel(c models.Category) string {
	if c == "" {
		return "all categories"
	}
	return string(c)
}

// WriteSearch writes search results to w in the given format.
func WriteSearch(w io.Writer, resp *models.SearchResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for _, m := range resp.Matches {
			fmt.Fprintf(w, "%.4f\t%s\t%s\n", m.SimilarityScore, m.Code, m.Name)
		}
		return nil
	}
	fmt.Fprintf(w, "\nFound %d matches in %s (rule: %s)\n\n", resp.Count, categoryLabel(resp.Category), resp.Rule)
	for i, m := range resp.Matches {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Similarity: %.4f | ID: %d\n", i+1, m.SimilarityScore, m.ID)
		fmt.Fprintf(w, "%s: %s\n", m.Code, m.Name)
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(m.Description, 200))
	}
	return nil
}

// WriteDiagnosis writes a diagnosis to w in the given format.
func WriteDiagnosis(w io.Writer, resp *models.DiagnosisResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		code := ""
		if len(resp.MatchedErrors) > 0 {
			code = resp.MatchedErrors[0].Code
		}
		fmt.Fprintf(w, "%s\t%.4f\t%s\n", code, resp.ConfidenceScore, resp.Diagnosis)
		return nil
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Diagnosis)
	fmt.Fprintf(w, "%s\n\n", resp.SafetyWarning)
	fmt.Fprintln(w, "Steps:")
	for i, step := range resp.Steps {
		fmt.Fprintf(w, "  %d. %s\n", i+1, step)
	}
	fmt.Fprintf(w, "\nConfidence: %.2f\n", resp.ConfidenceScore)
	if len(resp.MatchedErrors) > 1 {
		fmt.Fprintln(w, "Other candidates:")
		for _, m := range resp.MatchedErrors[1:] {
			fmt.Fprintf(w, "  %s (%s) %.4f\n", m.Code, m.Name, m.Similarity)
		}
	}
	return nil
}

// WriteDecision writes a routing decision.
func WriteDecision(w io.Writer, d router.Decision, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, d)
	case OutputCompact:
		fmt.Fprintf(w, "%s\t%s\t%s\n", categoryLabel(d.Category), d.Rule, d.Match)
		return nil
	}
	fmt.Fprintf(w, "Category: %s\nRule: %s\n", categoryLabel(d.Category), d.Rule)
	if d.Match != "" {
		fmt.Fprintf(w, "Matched: %q\n", d.Match)
	}
	return nil
}

// WriteReport writes an ingestion report.
func WriteReport(w io.Writer, r *ingest.Report, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, r)
	case OutputCompact:
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", r.BuildID, r.Total, r.Ingested, r.Skipped)
		return nil
	}
	fmt.Fprintf(w, "Build %s\n", r.BuildID)
	fmt.Fprintf(w, "  Records: %d total, %d ingested, %d skipped\n", r.Total, r.Ingested, r.Skipped)
	fmt.Fprintf(w, "  Dimensions: %d\n", r.Dimensions)
	for _, c := range store.SortedCategories(r.Categories) {
		fmt.Fprintf(w, "  %s: %d\n", c, r.Categories[c])
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  skipped #%d %s: %s\n", f.Position, f.Code, f.Error)
	}
	fmt.Fprintf(w, "  Written to %s in %s\n", r.Dir, r.Duration)
	return nil
}

// WriteStatus writes store status.
func WriteStatus(w io.Writer, st models.StoreStatus, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, st)
	case OutputCompact:
		fmt.Fprintf(w, "%t\t%s\t%d\t%d\n", st.Loaded, st.BuildID, st.Records, st.DiskUsageBytes)
		return nil
	}
	fmt.Fprintf(w, "Store: %s\n", st.StorePath)
	if !st.Loaded {
		fmt.Fprintf(w, "  Not loaded: %s\n", st.Error)
		return nil
	}
	fmt.Fprintf(w, "  Build: %s\n", st.BuildID)
	if st.CreatedAt != nil {
		fmt.Fprintf(w, "  Created: %s\n", st.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "  Model: %s (%d dimensions)\n", st.Model, st.Dimensions)
	fmt.Fprintf(w, "  Records: %d\n", st.Records)
	for _, c := range store.SortedCategories(st.Categories) {
		fmt.Fprintf(w, "    %s: %d\n", c, st.Categories[c])
	}
	fmt.Fprintf(w, "  Disk usage: %s\n", humanBytes(st.DiskUsageBytes))
	return nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
