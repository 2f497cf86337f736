// Package routing provides the small net/http mux that fronts the
// server's introspection routes (/metrics, /metrics.prom). The raw
// request-line handler in pkg/fileserver bypasses net/http entirely
// per the server's request contract; this mux exists only for
// operators who'd rather scrape over conventional HTTP.
package routing

import (
	"net/http"
	"path"
	"strings"
)

// NormalizedServeMux wraps http.ServeMux, collapsing any run of
// doubled slashes in the request path before dispatch so that
// "//metrics" and "/metrics" route identically.
type NormalizedServeMux struct {
	*http.ServeMux
}

// NewNormalizedServeMux creates an empty NormalizedServeMux.
func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{http.NewServeMux()}
}

func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "//") {
		r.URL.Path = path.Clean(r.URL.Path)
	}
	nm.ServeMux.ServeHTTP(w, r)
}
