package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKeepsTotalEqualToHitsPlusMisses(t *testing.T) {
	r := New()
	r.Record(true, 10*time.Millisecond)
	r.Record(false, 20*time.Millisecond)
	r.Record(false, 30*time.Millisecond)

	s := r.Snapshot()
	assert.Equal(t, s.CacheHits+s.CacheMisses, s.TotalRequests)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(2), s.CacheMisses)
}

func TestHitRateScenario(t *testing.T) {
	// Mirrors end-to-end scenario 1: miss then hit -> 50% hit rate.
	r := New()
	r.Record(false, time.Millisecond)
	r.Record(true, time.Millisecond)

	s := r.Snapshot()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.InDelta(t, 50.0, s.HitRate(), 0.001)
}

func TestZeroTotalHasZeroRates(t *testing.T) {
	r := New()
	s := r.Snapshot()
	assert.Zero(t, s.HitRate())
	assert.Zero(t, s.MeanResponseTimeMillis())
}

func TestRenderHTMLIncludesCounters(t *testing.T) {
	r := New()
	r.Record(true, 5*time.Millisecond)
	out := r.RenderHTML(3)

	assert.True(t, strings.Contains(out, "Total Requests:</strong> 1"))
	assert.True(t, strings.Contains(out, "Cache Size:</strong> 3"))
	assert.True(t, strings.Contains(out, "setTimeout"))
}

func TestRenderPromIncludesAllFamilies(t *testing.T) {
	r := New()
	r.Record(true, time.Millisecond)
	r.Record(false, time.Millisecond)

	out, err := r.RenderProm(7)
	require.NoError(t, err)

	for _, name := range []string{
		"cachetier_requests_total",
		"cachetier_cache_hits_total",
		"cachetier_cache_misses_total",
		"cachetier_cache_entries",
		"cachetier_mean_response_time_ms",
	} {
		assert.Contains(t, out, name)
	}
}
