// Package metrics implements the traffic counters shared by every
// request path: a single-lock counter block, a periodic logrus
// reporter, the spec's self-refreshing HTML snapshot, and a
// supplementary Prometheus text-format exposition built on the
// otherwise-unused prometheus/client_model and prometheus/common
// dependencies the teacher repo carries but never imports.
package metrics

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"sync"
	"time"

	units "github.com/docker/go-units"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/cachetier/cachetier/pkg/logging"
)

// Snapshot is a consistent, point-in-time read of the counters.
type Snapshot struct {
	TotalRequests     int64
	CacheHits         int64
	CacheMisses       int64
	TotalResponseTime time.Duration
}

// HitRate returns hits/total*100, or zero when total is zero.
func (s Snapshot) HitRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalRequests) * 100
}

// MeanResponseTimeMillis returns the mean response time in
// milliseconds, or zero when total is zero.
func (s Snapshot) MeanResponseTimeMillis() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalResponseTime.Seconds()) / float64(s.TotalRequests) * 1000
}

// Recorder holds the traffic counters behind a single RWMutex: all
// fields are only ever touched under that one lock, matching §4.4's
// "counters updated under one lock" contract.
type Recorder struct {
	mu sync.RWMutex

	totalRequests     int64
	cacheHits         int64
	cacheMisses       int64
	totalResponseTime time.Duration
}

// New creates a zeroed Recorder.
func New() *Recorder {
	return &Recorder{}
}

// Record accounts for one completed (or abandoned) request.
// total_requests = cache_hits + cache_misses holds after every call.
func (r *Recorder) Record(hit bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalRequests++
	r.totalResponseTime += elapsed
	if hit {
		r.cacheHits++
	} else {
		r.cacheMisses++
	}
}

// Snapshot returns a consistent read of all four counters.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		TotalRequests:     r.totalRequests,
		CacheHits:         r.cacheHits,
		CacheMisses:       r.cacheMisses,
		TotalResponseTime: r.totalResponseTime,
	}
}

// CacheLenFunc supplies the current cache entry count for reporting;
// it is passed in rather than imported to keep this package independent
// of pkg/cache.
type CacheLenFunc func() int

// Run is the periodic reporter loop: every interval, log a snapshot
// plus the current cache length. It returns when ctx is cancelled,
// skipping the report on the tick where cancellation is observed —
// matching the original's "reporter is skipped on the iteration in
// which shutdown is observed."
func (r *Recorder) Run(ctx context.Context, log logging.Logger, interval time.Duration, cacheLen CacheLenFunc) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			r.report(log, cacheLen())
		}
	}
}

func (r *Recorder) report(log logging.Logger, cacheLen int) {
	s := r.Snapshot()
	log.Infof(
		"metrics: requests=%d hits=%d misses=%d hit_rate=%.2f%% mean_response=%.2fms cache=%d entries",
		s.TotalRequests, s.CacheHits, s.CacheMisses, s.HitRate(), s.MeanResponseTimeMillis(), cacheLen,
	)
}

// RenderHTML renders the §4.4 self-refreshing HTML metrics snapshot.
func (r *Recorder) RenderHTML(cacheLen int) string {
	s := r.Snapshot()
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Server Metrics</title></head><body>
<h1>Server Performance Metrics</h1>
<p><strong>Total Requests:</strong> %d</p>
<p><strong>Cache Hits:</strong> %d</p>
<p><strong>Cache Misses:</strong> %d</p>
<p><strong>Cache Hit Rate:</strong> %.2f%%</p>
<p><strong>Average Response Time:</strong> %.2f ms</p>
<p><strong>Cache Size:</strong> %d entries (%s)</p>
<p><em>Auto-refresh every 5 seconds</em></p>
<script>setTimeout(function(){location.reload();}, 5000);</script>
</body></html>`,
		s.TotalRequests, s.CacheHits, s.CacheMisses, s.HitRate(), s.MeanResponseTimeMillis(),
		cacheLen, html.EscapeString(units.HumanSize(float64(cacheLen))),
	)
}

// RenderProm renders the same snapshot in Prometheus text exposition
// format, using the client_model protobuf types and the common
// module's text encoder rather than the full client_golang registry
// (which the pack never pulls in).
func (r *Recorder) RenderProm(cacheLen int) (string, error) {
	s := r.Snapshot()

	families := []*dto.MetricFamily{
		counterFamily("cachetier_requests_total", "Total requests served.", float64(s.TotalRequests)),
		counterFamily("cachetier_cache_hits_total", "Total cache hits.", float64(s.CacheHits)),
		counterFamily("cachetier_cache_misses_total", "Total cache misses.", float64(s.CacheMisses)),
		gaugeFamily("cachetier_cache_entries", "Current number of cache entries.", float64(cacheLen)),
		gaugeFamily("cachetier_mean_response_time_ms", "Mean response time in milliseconds.", s.MeanResponseTimeMillis()),
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", fmt.Errorf("encode metric family %s: %w", fam.GetName(), err)
		}
	}
	return buf.String(), nil
}

func counterFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_COUNTER
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &t,
		Metric: []*dto.Metric{
			{Counter: &dto.Counter{Value: &value}},
		},
	}
}

func gaugeFamily(name, help string, value float64) *dto.MetricFamily {
	t := dto.MetricType_GAUGE
	return &dto.MetricFamily{
		Name: &name,
		Help: &help,
		Type: &t,
		Metric: []*dto.Metric{
			{Gauge: &dto.Gauge{Value: &value}},
		},
	}
}
