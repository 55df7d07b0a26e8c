// Package output renders search results, evaluation reports, and
// dataset validation summaries for the terminal. Styling degrades to
// plain text when stdout is not a TTY.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/coderag/coderag/internal/eval"
	"github.com/coderag/coderag/internal/search"
)

// Renderer writes human-readable output.
type Renderer struct {
	w      io.Writer
	styled bool

	title  lipgloss.Style
	header lipgloss.Style
	score  lipgloss.Style
	dim    lipgloss.Style
	bad    lipgloss.Style
	good   lipgloss.Style
}

// New builds a renderer for w. Styling is enabled only when w is a
// terminal.
func New(w io.Writer) *Renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	r := &Renderer{w: w, styled: styled}
	if styled {
		r.title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
		r.header = lipgloss.NewStyle().Bold(true)
		r.score = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
		r.dim = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
		r.bad = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
		r.good = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	}
	return r
}

func (r *Renderer) render(style lipgloss.Style, s string) string {
	if !r.styled {
		return s
	}
	return style.Render(s)
}

// SearchResults prints a ranked result list.
func (r *Renderer) SearchResults(query string, resp *search.Response) {
	fmt.Fprintln(r.w, r.render(r.title, fmt.Sprintf("Results for %q", query)))
	if len(resp.Results) == 0 {
		fmt.Fprintln(r.w, r.render(r.dim, "  no results"))
		return
	}
	for i, res := range resp.Results {
		line := fmt.Sprintf("%2d. %s %s", i+1,
			r.render(r.score, fmt.Sprintf("%.4f", res.CombinedScore)), res.ID)
		if res.FilePath != "" {
			line += r.render(r.dim, "  "+res.FilePath)
		}
		fmt.Fprintln(r.w, line)
		if snippet := firstLine(res.Content); snippet != "" {
			fmt.Fprintln(r.w, r.render(r.dim, "      "+snippet))
		}
	}
	fmt.Fprintln(r.w, r.render(r.dim, fmt.Sprintf(
		"  vector leg %dms (used=%t), bm25 leg %dms (used=%t), total %dms",
		resp.Timings.VectorLegMS, resp.VectorLegUsed,
		resp.Timings.BM25LegMS, resp.BM25LegUsed, resp.Timings.TotalMS)))
}

// EvaluationReport prints the per-metric-per-k score table.
func (r *Renderer) EvaluationReport(report *eval.Report) {
	fmt.Fprintln(r.w, r.render(r.title,
		fmt.Sprintf("Evaluation: %s on %s", report.Adapter, report.Dataset)))
	fmt.Fprintf(r.w, "  questions: %d, failed: %d, duration: %dms\n",
		report.QuestionCount, report.FailedQuestions, report.DurationMS)

	ks := report.SortedKValues()
	headerCells := []string{fmt.Sprintf("%-10s", "metric")}
	for _, k := range ks {
		headerCells = append(headerCells, fmt.Sprintf("%8s", fmt.Sprintf("@%d", k)))
	}
	fmt.Fprintln(r.w, r.render(r.header, "  "+strings.Join(headerCells, " ")))

	metrics := make([]string, 0, len(report.Scores))
	for metric := range report.Scores {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	for _, metric := range metrics {
		cells := []string{fmt.Sprintf("%-10s", metric)}
		for _, k := range ks {
			cells = append(cells, r.render(r.score, fmt.Sprintf("%8.4f", report.Scores[metric][k])))
		}
		fmt.Fprintln(r.w, "  "+strings.Join(cells, " "))
	}
}

// ValidationReport prints the dataset validator outcome.
func (r *Renderer) ValidationReport(report *eval.ValidationReport) {
	if report.IsValid {
		fmt.Fprintln(r.w, r.render(r.good, "dataset is valid"))
	} else {
		fmt.Fprintln(r.w, r.render(r.bad, "dataset is INVALID"))
	}
	for file, ok := range report.FileChecks {
		mark := "ok"
		if !ok {
			mark = "FAILED"
		}
		fmt.Fprintf(r.w, "  %-20s %s\n", file, mark)
	}
	for _, e := range report.FormatErrors {
		fmt.Fprintln(r.w, r.render(r.bad, "  format: "+e))
	}
	for _, e := range report.ConsistencyErrors {
		fmt.Fprintln(r.w, r.render(r.dim, "  warning: "+e))
	}
	if n, ok := report.Statistics["question_count"]; ok {
		fmt.Fprintf(r.w, "  questions: %v\n", n)
	}
}

// RunHistory prints recent evaluation runs.
func (r *Renderer) RunHistory(records []*eval.RunRecord) {
	if len(records) == 0 {
		fmt.Fprintln(r.w, r.render(r.dim, "no recorded runs"))
		return
	}
	fmt.Fprintln(r.w, r.render(r.header,
		fmt.Sprintf("  %-4s %-20s %-12s %-16s %-9s %s", "id", "started", "adapter", "dataset", "questions", "failed")))
	for _, rec := range records {
		fmt.Fprintf(r.w, "  %-4d %-20s %-12s %-16s %-9d %d\n",
			rec.ID, rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.Adapter, rec.Dataset, rec.QuestionCount, rec.FailedQuestions)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 100 {
		s = s[:100] + "..."
	}
	return s
}
