package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/outlier-sync/internal/reconcile"
)

// formatSummary writes the run counts to out.
func formatSummary(out io.Writer, res *reconcile.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	s := res.Summary
	_, _ = fmt.Fprintf(w, "Run at:\t%s\n", res.At.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "Actor:\t%s\n", res.Actor)
	_, _ = fmt.Fprintf(w, "Incoming:\t%d\n", s.Incoming)
	if s.Duplicates > 0 {
		_, _ = fmt.Fprintf(w, "  Duplicates dropped:\t%d\n", s.Duplicates)
	}
	_, _ = fmt.Fprintf(w, "New:\t%d\n", s.New)
	_, _ = fmt.Fprintf(w, "Updated:\t%d\n", s.Updated)
	_, _ = fmt.Fprintf(w, "Unchanged:\t%d\n", s.Unchanged)
	_, _ = fmt.Fprintf(w, "Missing:\t%d\n", s.Missing)
	_, _ = fmt.Fprintf(w, "Total:\t%d\n", s.Total)
	_ = w.Flush()
}

// formatChanges writes one line per new or updated record.
func formatChanges(out io.Writer, res *reconcile.Result) {
	if len(res.Changes) == 0 {
		_, _ = fmt.Fprintln(out, "No changes.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tSTATUS\tKEY\tCHANGED")
	_, _ = fmt.Fprintln(w, "---\t------\t---\t-------")
	for _, c := range res.Changes {
		changed := make([]string, 0, len(c.Fields))
		for _, f := range c.FieldNames() {
			changed = append(changed, fmt.Sprintf("%s (was %s)", f, c.Fields[f].Text()))
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", c.Row, c.Status, c.Key, strings.Join(changed, ", "))
	}
	_ = w.Flush()
}
