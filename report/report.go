// Package report renders a controller.UpdateResult for a human watching
// cmd/hmrdemo: a one-line quicktemplate-rendered status line, a go-pretty
// summary table, and, when the update reached the root unaccepted, a
// tablewriter rendering of the invalidation chain — the same pairing
// cmd/benchmark and cmd/benchmark_reactively use for their own two styles
// of tabular output.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/olekukonko/tablewriter"

	"github.com/delaneyj/hmrcore/controller"
	"github.com/delaneyj/hmrcore/metrics"
)

// Print renders res to w: a summary table (status, declined specifiers,
// load/reevaluation counts), and, for an unaccepted result, the
// invalidation chain as nested rows.
func Print(w io.Writer, url string, res *controller.UpdateResult) {
	if res == nil {
		fmt.Fprintf(w, "%s: no update needed\n", url)
		return
	}

	StreamSummaryLine(w, url, string(res.Status), res.Loads, res.Reevaluations)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetTitle(fmt.Sprintf("hot update: %s", url))
	tbl.AppendHeader(table.Row{"status", "loads", "reevaluations", "declined"})
	tbl.AppendRows([]table.Row{{
		string(res.Status),
		res.Loads,
		res.Reevaluations,
		strings.Join(res.Declined, ", "),
	}})
	tbl.Render()

	if res.Chain != nil {
		printChain(w, res.Chain)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "error: %v\n", res.Err)
	}
}

// printChain renders an InvalidationChain as nested tablewriter rows, one
// row per chain node with indentation marking depth.
func printChain(w io.Writer, chain *controller.InvalidationChain) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"depth", "controllers"})

	var walk func(c *controller.InvalidationChain, depth int)
	walk = func(c *controller.InvalidationChain, depth int) {
		if c == nil {
			return
		}
		label := strings.Join(c.URLs, ", ")
		if c.Repeat {
			label += " (repeat)"
		}
		tw.Append([]string{strings.Repeat("  ", depth) + fmt.Sprint(depth), label})
		for _, child := range c.Children {
			walk(child, depth+1)
		}
	}
	walk(chain, 0)
	tw.Render()
}

// PrintMetrics renders a metrics.Recorder's phase summaries as a go-pretty
// table with humanized durations.
func PrintMetrics(w io.Writer, rec *metrics.Recorder) {
	summaries := rec.Summaries()
	if len(summaries) == 0 {
		return
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetTitle("phase timings")
	tbl.AppendHeader(table.Row{"phase", "count", "avg", "p75", "p99", "max"})
	for _, s := range summaries {
		tbl.AppendRow(table.Row{
			string(s.Phase),
			s.Count,
			humanizeDuration(s.Avg),
			humanizeDuration(s.P75),
			humanizeDuration(s.P99),
			humanizeDuration(s.Max),
		})
	}
	tbl.Render()
}

func humanizeDuration(d time.Duration) string {
	if d < time.Microsecond {
		return d.String()
	}
	return humanize.SIWithDigits(d.Seconds(), 2, "s")
}
