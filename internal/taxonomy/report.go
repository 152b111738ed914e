package taxonomy

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sells-group/filing-acquirer/internal/model"
)

// StatisticsReport is the library CLI's --stats summary (spec's
// supplemented workflow-reporting feature): counts by download status,
// the manual-drop queue depth, and which failed libraries still need
// attention.
type StatisticsReport struct {
	Pending       int
	Failed        int
	FailedDetails []model.TaxonomyLibrary
	ManualQueued  int
}

// BuildStatisticsReport assembles a StatisticsReport from the library
// rows a caller has already fetched (pending/failed queries and a manual-
// downloads directory scan), since the Repository has no generic COUNT
// surface and this is presentation, not persistence.
func BuildStatisticsReport(pending []model.TaxonomyLibrary, failed []model.TaxonomyLibrary, manualDrops []ManualDropFile) StatisticsReport {
	return StatisticsReport{
		Pending:       len(pending),
		Failed:        len(failed),
		FailedDetails: failed,
		ManualQueued:  len(manualDrops),
	}
}

// Render writes the report as an aligned table, grounded on the teacher's
// tabular status rendering (cmd/fedsync_status.go's tabwriter usage).
func (r StatisticsReport) Render(w io.Writer) {
	fmt.Fprintf(w, "pending downloads:  %d\n", r.Pending)
	fmt.Fprintf(w, "failed downloads:   %d\n", r.Failed)
	fmt.Fprintf(w, "manual drop queue:  %d\n", r.ManualQueued)

	if len(r.FailedDetails) == 0 {
		return
	}

	fmt.Fprintln(w, "\nfailed libraries:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAXONOMY\tVERSION\tREASON\tATTEMPTS")
	for _, lib := range r.FailedDetails {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", lib.TaxonomyName, lib.TaxonomyVersion, lib.FailureReason, lib.TotalAttempts)
	}
	tw.Flush() //nolint:errcheck
}
