package history

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// WriteRuns prints a table of runs, with times relative to now.
func WriteRuns(w io.Writer, runs []RunInfo, now time.Time) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSTATUS\tSUB-ARRAYS\tVECTORS\tMEAN P\tCATALOGUE")
	for _, r := range runs {
		duration := "-"
		if d := r.Duration(); d > 0 || !r.FinishedAt.IsZero() {
			duration = d.Round(time.Second).String()
		}
		meanP := meanPText(r.MeanP)
		status := r.Status
		if r.Error != "" {
			status += ": " + firstLine(r.Error)
		}
		subs := strings.Join(r.Subarrays, ",")
		if subs == "" {
			subs = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s/%s\t%s\t%s\n",
			shortID(r.ID),
			humanize.RelTime(r.StartedAt, now, "ago", "from now"),
			duration,
			status,
			subs,
			humanize.Comma(int64(r.Selected)),
			humanize.Comma(int64(r.Vectors)),
			meanP,
			r.Catalogue,
		)
	}
	return tw.Flush()
}

// meanPText shows a mean polarisation to two decimals. FtoaWithDigits
// truncates, so the value is rounded first.
func meanPText(p float64) string {
	if math.IsNaN(p) {
		return "-"
	}
	return humanize.FtoaWithDigits(math.Round(p*100)/100, 2)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
