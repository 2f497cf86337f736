// Package fileserver implements the backend's per-connection request
// handler: read the request line off the raw socket, resolve it
// against the LRU cache or the filesystem, and write a framed
// HTTP/1.1 response. It deliberately does not use net/http's request
// parser — the original reads at most 4096 bytes and scans only the
// request line, and this keeps that exact, testable contract instead
// of inheriting net/http's header and body handling.
package fileserver

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"net"

	"github.com/cachetier/cachetier/pkg/cache"
	"github.com/cachetier/cachetier/pkg/internal/utils"
	"github.com/cachetier/cachetier/pkg/logging"
	"github.com/cachetier/cachetier/pkg/metrics"
)

// bufferSize is the fixed request-line read buffer, matching the
// original's 4096-byte recv.
const bufferSize = 4096

const serverHeader = "Advanced-Multithreaded-Server/1.0"

const notFoundBody = "<!DOCTYPE html><html><body><h1>404 Not Found</h1></body></html>"
const internalErrorBody = "<!DOCTYPE html><html><body><h1>500 Internal Server Error</h1></body></html>"

// contentTypes is the closed extension->MIME map from the external
// interface contract. Anything else falls back to octet-stream.
var contentTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".txt":  "text/plain",
}

// Handler serves file requests out of root, through cache, recording
// every outcome into recorder.
type Handler struct {
	root     string
	cache    *cache.Cache
	recorder *metrics.Recorder
	log      logging.Logger
}

// New creates a Handler rooted at root.
func New(root string, c *cache.Cache, recorder *metrics.Recorder, log logging.Logger) *Handler {
	return &Handler{root: root, cache: c, recorder: recorder, log: log}
}

// Serve handles exactly one request on conn and closes it on every
// return path, matching the resource policy that every dequeued
// socket is closed exactly once.
func (h *Handler) Serve(conn net.Conn) {
	defer conn.Close()

	start := time.Now()

	buf := make([]byte, bufferSize)
	n, err := conn.Read(buf)
	if err != nil || n <= 0 {
		h.recorder.Record(false, time.Since(start))
		return
	}

	method, path, ok := parseRequestLine(buf[:n])
	if !ok {
		h.writeError(conn, 500, "500 Internal Server Error", internalErrorBody)
		h.recorder.Record(false, time.Since(start))
		return
	}

	h.log.Debugf("request: %s %s", method, utils.SanitizeForLog(path))

	if path == "/metrics" {
		body := h.recorder.RenderHTML(h.cache.Len())
		h.writeOK(conn, "text/html", []byte(body))
		h.recorder.Record(false, time.Since(start))
		return
	}

	if path == "/metrics.prom" {
		body, err := h.recorder.RenderProm(h.cache.Len())
		if err != nil {
			h.writeError(conn, 500, "500 Internal Server Error", internalErrorBody)
			h.recorder.Record(false, time.Since(start))
			return
		}
		h.writeOK(conn, "text/plain; version=0.0.4", []byte(body))
		h.recorder.Record(false, time.Since(start))
		return
	}

	if method != "GET" {
		h.writeError(conn, 404, "404 Not Found", notFoundBody)
		h.recorder.Record(false, time.Since(start))
		return
	}

	filename := mapPath(path)
	if strings.Contains(filename, "..") {
		h.writeError(conn, 404, "404 Not Found", notFoundBody)
		h.recorder.Record(false, time.Since(start))
		return
	}

	if view, hit := h.cache.Get(filename); hit {
		h.writeOK(conn, contentType(filename), view.Content)
		h.recorder.Record(true, time.Since(start))
		return
	}

	content, err := os.ReadFile(filepath.Join(h.root, filename))
	if err != nil {
		h.writeError(conn, 404, "404 Not Found", notFoundBody)
		h.recorder.Record(false, time.Since(start))
		return
	}

	h.cache.Add(filename, content)
	h.writeOK(conn, contentType(filename), content)
	h.recorder.Record(false, time.Since(start))
}

// parseRequestLine extracts the first three whitespace-separated
// tokens of the buffer: METHOD, PATH, and PROTOCOL (the latter
// ignored, exactly as the original's sscanf("%s %s %s", ...) does,
// regardless of what headers follow in the same read).
func parseRequestLine(data []byte) (method, path string, ok bool) {
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// mapPath resolves a request path to a filename under root: "/" maps
// to index.html, everything else has its leading slash stripped.
func mapPath(path string) string {
	if path == "/" {
		return "index.html"
	}
	return strings.TrimPrefix(path, "/")
}

func contentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := contentTypes[ext]; ok {
		return t
	}
	return "application/octet-stream"
}

// writeOK writes a 200 response with body as the payload.
func (h *Handler) writeOK(conn net.Conn, ctype string, body []byte) {
	h.writeResponse(conn, "200 OK", ctype, body)
}

// writeError writes a response with the given numeric status and
// reason, using body as the payload.
func (h *Handler) writeError(conn net.Conn, status int, reason, body string) {
	h.writeResponse(conn, reason, "text/html", []byte(body))
}

// writeResponse emits the exact header ordering required by the
// external interface contract: status line, Content-Type,
// Content-Length, Connection, Server, blank line, body.
func (h *Handler) writeResponse(conn net.Conn, statusLine, ctype string, body []byte) {
	var b strings.Builder
	b.WriteString("HTTP/1.1 ")
	b.WriteString(statusLine)
	b.WriteString("\r\n")
	b.WriteString("Content-Type: ")
	b.WriteString(ctype)
	b.WriteString("\r\n")
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Server: ")
	b.WriteString(serverHeader)
	b.WriteString("\r\n\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return
	}
	if len(body) > 0 {
		_, _ = conn.Write(body)
	}
}
