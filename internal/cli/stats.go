package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/raphaelgruber/vamos-go/internal/metrics"
)

// printStats writes the session's request statistics.
func printStats(w io.Writer, snap metrics.Snapshot) {
	if len(snap.Operations) == 0 {
		fmt.Fprintln(w, "No requests were made.")
		return
	}

	rows := make([][]string, 0, len(snap.Operations))
	for _, op := range snap.Operations {
		rows = append(rows, []string{
			op.Name,
			strconv.FormatInt(op.Count, 10),
			strconv.FormatInt(op.Failures, 10),
			fmt.Sprintf("%.0f", op.AvgTimeMs),
			strconv.FormatInt(op.MaxTimeMs, 10),
			formatBytes(op.Bytes),
		})
	}

	fmt.Fprintf(w, "Session stats (%.1fs)\n", snap.UptimeSeconds)
	fmt.Fprintln(w, renderTable(
		[]string{"Operation", "Calls", "Failed", "Avg ms", "Max ms", "Bytes"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}

func formatBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}
