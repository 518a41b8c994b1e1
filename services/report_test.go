package services

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ebay-harvester/models"
)

func sampleRuns() []*models.RunSummary {
	return []*models.RunSummary{
		{
			RunID:         "run-a",
			StoreURL:      "https://www.ebay.com/str/acme",
			State:         models.RunDone,
			TotalItems:    280,
			IngestedItems: 280,
			Batches:       6,
			Pages: []models.PageStat{
				{Page: 1, Cards: 200, Duration: 1500 * time.Millisecond},
				{Page: 2, Cards: 80, Duration: 700 * time.Millisecond},
			},
			Duration: 3 * time.Second,
		},
		nil,
		{
			RunID:         "run-b",
			StoreURL:      "https://www.ebay.com/str/beta",
			State:         models.RunFailed,
			TotalItems:    200,
			IngestedItems: 150,
			Batches:       4,
			FailedBatches: 1,
			ProxyFailures: 2,
			Pages:         []models.PageStat{{Page: 1, Cards: 200, Duration: 2 * time.Second}},
			Err:           "fetch page 2: status 503",
		},
	}
}

func TestAggregate(t *testing.T) {
	r := NewReporter(newTestLogger(), &bytes.Buffer{})

	got := r.Aggregate(sampleRuns())

	assert.Equal(t, Totals{
		Runs:          2,
		Done:          1,
		Failed:        1,
		TotalItems:    480,
		IngestedItems: 430,
		Batches:       10,
		FailedBatches: 1,
		ProxyFailures: 2,
		Pages:         3,
		SlowestPage:   2 * time.Second,
	}, got)
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	NewReporter(newTestLogger(), &buf).Print(sampleRuns())

	out := buf.String()
	assert.Contains(t, out, "HARVEST SUMMARY")
	assert.Contains(t, out, "https://www.ebay.com/str/acme")
	assert.Contains(t, out, "Total items     : 280")
	assert.Contains(t, out, "Batches (failed): 6 (0)")
	assert.Contains(t, out, "Page 2      80 cards  0.70s")
	assert.Contains(t, out, "Proxy failures  : 2")
	assert.Contains(t, out, "Error           : fetch page 2: status 503")
	assert.Contains(t, out, "Runs 2 | done 1 | failed 1 | items 480 | failed batches 1")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "https://www.ebay.com/str/ü", truncate("https://www.ebay.com/str/ü", 26))
	assert.Equal(t, "ééééééé...", truncate("éééééééééééé", 10))
}
