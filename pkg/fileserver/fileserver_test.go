package fileserver

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetier/cachetier/pkg/cache"
	"github.com/cachetier/cachetier/pkg/metrics"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

// roundTrip writes request on a net.Pipe, serves it synchronously
// against h, and returns the full raw response.
func roundTrip(t *testing.T, h *Handler, request string) string {
	t.Helper()
	server, client := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.Serve(server)
		close(done)
	}()

	_, err := client.Write([]byte(request))
	require.NoError(t, err)

	out, err := io.ReadAll(client)
	require.NoError(t, err)
	<-done
	return string(out)
}

func newTestHandler(t *testing.T) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("A"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), []byte(""), 0o644))

	c := cache.New(testLogger(), 10)
	rec := metrics.New()
	return New(root, c, rec, testLogger()), root
}

func TestScenarioMissThenHit(t *testing.T) {
	h, _ := newTestHandler(t)

	resp1 := roundTrip(t, h, "GET / HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp1, "HTTP/1.1 200 OK")
	assert.Contains(t, resp1, "Content-Type: text/html")
	assert.Contains(t, resp1, "\r\n\r\nA")

	resp2 := roundTrip(t, h, "GET / HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp2, "HTTP/1.1 200 OK")
	assert.Contains(t, resp2, "\r\n\r\nA")

	s := h.recorder.Snapshot()
	assert.Equal(t, int64(2), s.TotalRequests)
	assert.Equal(t, int64(1), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
	assert.InDelta(t, 50.0, s.HitRate(), 0.001)
}

func TestDotDotRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "GET /../server.h HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 404 Not Found")
	assert.Contains(t, resp, "404 Not Found</h1>")
}

func TestMissingFileReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "GET /missing.html HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 404 Not Found")

	s := h.recorder.Snapshot()
	assert.Equal(t, int64(1), s.CacheMisses)
}

func TestNonGetMethodReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "POST /x HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 404 Not Found")
}

func TestZeroByteFileServedWithZeroLength(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "GET /empty.txt HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 200 OK")
	assert.Contains(t, resp, "Content-Length: 0")
	assert.True(t, strings.HasSuffix(resp, "\r\n\r\n"))
}

func TestMalformedRequestLineReturns500(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "garbage\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 500 Internal Server Error")
}

func TestMetricsEndpointRendersHTML(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "GET /metrics HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 200 OK")
	assert.Contains(t, resp, "Server Performance Metrics")
}

func TestMetricsPromEndpointRendersProm(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := roundTrip(t, h, "GET /metrics.prom HTTP/1.1\r\n\r\n")
	assert.Contains(t, resp, "HTTP/1.1 200 OK")
	assert.Contains(t, resp, "cachetier_requests_total")
}

func TestEmptyReadIsRecordedAsMissWithoutResponse(t *testing.T) {
	h, _ := newTestHandler(t)
	server, client := net.Pipe()

	done := make(chan struct{})
	go func() {
		h.Serve(server)
		close(done)
	}()

	client.Close()
	<-done

	s := h.recorder.Snapshot()
	assert.Equal(t, int64(1), s.TotalRequests)
	assert.Equal(t, int64(1), s.CacheMisses)
}
