package processor

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olegkotsar/dupesweep/testutils"
)

// TestScan_MemoryUsage measures peak heap while grouping a large inventory
func TestScan_MemoryUsage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping memory test in short mode")
	}

	// 100k files across 100 directories, every tenth file has a copy in /copies
	const totalEntries = 100000
	fake := testutils.NewFakeStorage()
	fake.PageSize = 2000
	for i := 0; i < totalEntries; i++ {
		fp := fmt.Sprintf("hash%d", i)
		fake.AddFile(fmt.Sprintf("/photos/d%03d/file%06d.jpg", i%100, i), int64(i%5000+1), fp, t0)
		if i%10 == 0 {
			fake.AddFile(fmt.Sprintf("/copies/d%03d/deep/file%06d.jpg", i%100, i), int64(i%5000+1), fp, t0)
		}
	}
	t.Logf("Created %d files", len(fake.Paths()))

	cfg := testConfig(t)
	cfg.Scan.PlanFile = ""
	r, _ := newTestRunner(t, fake, cfg)

	// Force GC and get baseline
	runtime.GC()
	var m1 runtime.MemStats
	runtime.ReadMemStats(&m1)
	baselineAlloc := m1.Alloc
	t.Logf("Baseline memory: %.2f MB", float64(baselineAlloc)/(1024*1024))

	// Capture peak memory during the scan
	done := make(chan struct{})
	peakAlloc := baselineAlloc
	sampled := make(chan uint64, 1)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		peak := baselineAlloc
		for {
			select {
			case <-done:
				sampled <- peak
				return
			case <-ticker.C:
				var m runtime.MemStats
				runtime.ReadMemStats(&m)
				if m.Alloc > peak {
					peak = m.Alloc
				}
			}
		}
	}()

	start := time.Now()
	res, err := r.Scan(context.Background())
	elapsed := time.Since(start)
	close(done)
	peakAlloc = <-sampled
	require.NoError(t, err)

	require.Equal(t, totalEntries/10, len(res.Plan.Candidates))
	require.Equal(t, totalEntries/10, res.Plan.Groups)
	for _, c := range res.Plan.Candidates[:10] {
		require.Contains(t, c.Path, "/copies/", "the shallower original is kept")
	}

	t.Logf("Scan completed in %s", elapsed)
	t.Logf("Peak memory: %.2f MB (delta %.2f MB)", float64(peakAlloc)/(1024*1024), float64(peakAlloc-baselineAlloc)/(1024*1024))
	t.Logf("Statistics: %s", res.String())
}
