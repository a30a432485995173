package pipeline

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"engagement-sync/internal/ledger"
)

var statusColor = map[string]*color.Color{
	ledger.StatusOK:     color.New(color.FgGreen),
	ledger.StatusNoData: color.New(color.FgYellow),
	ledger.StatusFailed: color.New(color.FgRed, color.Bold),
	statusSkipped:       color.New(color.FgHiBlack),
}

// WriteSummary prints one table row per outcome and the total run time.
func WriteSummary(w io.Writer, s Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Course", "Destination", "Partner", "Status", "Rows", "Elapsed", "Detail"})
	table.SetAutoWrapText(false)

	for _, o := range s.Outcomes {
		status := o.Status
		if c, ok := statusColor[o.Status]; ok {
			status = c.Sprint(o.Status)
		}
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		}
		table.Append([]string{
			string(o.Course),
			string(o.Destination),
			o.Partner,
			status,
			strconv.Itoa(o.Rows),
			o.Elapsed.Round(time.Millisecond).String(),
			detail,
		})
	}
	table.Render()

	fmt.Fprintf(w, "Total run time: %.2f seconds\n", s.Elapsed.Seconds())
}
