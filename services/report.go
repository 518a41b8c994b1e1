package services

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"ebay-harvester/models"
	"ebay-harvester/utils"
)

// Totals aggregates the summaries of all runs of a process.
type Totals struct {
	Runs          int
	Done          int
	Failed        int
	TotalItems    int
	IngestedItems int
	Batches       int
	FailedBatches int
	ProxyFailures int
	Pages         int
	SlowestPage   time.Duration
}

// Reporter prints run summaries for the operator.
type Reporter struct {
	logger *utils.Logger
	out    io.Writer
}

// NewReporter creates a Reporter printing to out.
func NewReporter(logger *utils.Logger, out io.Writer) *Reporter {
	return &Reporter{logger: logger, out: out}
}

// Aggregate folds run summaries into Totals.
func (r *Reporter) Aggregate(runs []*models.RunSummary) Totals {
	var t Totals
	for _, s := range runs {
		if s == nil {
			continue
		}
		t.Runs++
		switch s.State {
		case models.RunDone:
			t.Done++
		case models.RunFailed:
			t.Failed++
		}
		t.TotalItems += s.TotalItems
		t.IngestedItems += s.IngestedItems
		t.Batches += s.Batches
		t.FailedBatches += s.FailedBatches
		t.ProxyFailures += s.ProxyFailures
		t.Pages += len(s.Pages)
		for _, d := range s.PageDurations() {
			if d > t.SlowestPage {
				t.SlowestPage = d
			}
		}
	}
	return t
}

// Print writes one block per run followed by the totals.
func (r *Reporter) Print(runs []*models.RunSummary) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)
	w := r.out

	fmt.Fprintf(w, "\n%s\n  HARVEST SUMMARY\n%s\n\n", sep, sep)

	for _, s := range runs {
		if s == nil {
			continue
		}
		fmt.Fprintf(w, "  %s\n  %s\n", truncate(s.StoreURL, 52), thin)
		fmt.Fprintf(w, "  Run id          : %s\n", s.RunID)
		fmt.Fprintf(w, "  State           : %s\n", s.State)
		fmt.Fprintf(w, "  Total items     : %d\n", s.TotalItems)
		fmt.Fprintf(w, "  Ingested items  : %d\n", s.IngestedItems)
		fmt.Fprintf(w, "  Batches (failed): %d (%d)\n", s.Batches, s.FailedBatches)
		if s.ProxyFailures > 0 {
			fmt.Fprintf(w, "  Proxy failures  : %d\n", s.ProxyFailures)
		}
		for _, p := range s.Pages {
			fmt.Fprintf(w, "    Page %-4d %4d cards  %.2fs\n", p.Page, p.Cards, p.Duration.Seconds())
		}
		fmt.Fprintf(w, "  Total duration  : %.2fs\n", s.Duration.Seconds())
		if s.Err != "" {
			fmt.Fprintf(w, "  Error           : %s\n", s.Err)
		}
		fmt.Fprintln(w)
	}

	t := r.Aggregate(runs)
	fmt.Fprintf(w, "  Runs %d | done %d | failed %d | items %d | failed batches %d\n",
		t.Runs, t.Done, t.Failed, t.TotalItems, t.FailedBatches)
	fmt.Fprintf(w, "%s\n\n", sep)

	if t.FailedBatches > 0 || t.Failed > 0 {
		r.logger.Warn("[report] %d run(s) failed, %d batch(es) were not stored", t.Failed, t.FailedBatches)
	}
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return utils.Truncate(s, max-3) + "..."
}
