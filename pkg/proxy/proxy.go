// Package proxy implements the load balancer's per-connection data
// path: dialing the selected backend and relaying bytes in both
// directions until either side closes or errors. The original uses a
// single thread per client blocked in select() with a 1-second
// timeout, polling both sockets in turn; this package instead runs one
// goroutine per direction, coordinated with an errgroup so that either
// direction failing tears down both — the natural Go shape for the
// same fixed pair of directions the original's select() loop covers.
package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cachetier/cachetier/pkg/logging"
)

// DefaultDialTimeout is both the backend connect timeout and the
// backend socket's send/recv deadline for the life of the relay,
// matching the original's SO_RCVTIMEO/SO_SNDTIMEO setup on the
// backend socket — a timeout here is fatal, not a poll. It is a var,
// not a const, so tests can shrink it rather than waiting out the
// real 5 seconds.
var DefaultDialTimeout = 5 * time.Second

// DefaultIdleTimeout bounds how long a single read on the client side
// may block before the relay re-checks ctx; the original's select()
// used a 1 second timeout for the same purpose, and a timeout here is
// not fatal — it just loops back around.
const DefaultIdleTimeout = 1 * time.Second

// bufferSize matches the original's fixed 4096-byte recv/send buffer.
const bufferSize = 4096

// DialBackend connects to addr with the given timeout as the connect
// timeout, mirroring connect_to_backend. The backend socket's
// per-operation deadlines are applied later by Relay, using
// DefaultDialTimeout.
func DialBackend(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial backend %s: %w", addr, err)
	}
	return conn, nil
}

// Relay pumps bytes between client and backend until one side closes,
// errors, or ctx is cancelled, then closes both connections. It
// returns the first error observed from either direction, or nil on a
// clean EOF-driven shutdown. Each pump is told which of its two
// connections is the backend so it can apply the backend's mandatory
// 5-second send/recv deadlines (§4.5, §5) instead of the 1-second
// client-side poll.
func Relay(ctx context.Context, log logging.Logger, client, backend net.Conn) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return pump(ctx, backend, client, backend)
	})
	g.Go(func() error {
		return pump(ctx, client, backend, backend)
	})

	go func() {
		<-ctx.Done()
		client.Close()
		backend.Close()
	}()

	err := g.Wait()
	client.Close()
	backend.Close()
	if err != nil && err != io.EOF {
		log.Debugf("proxy: relay ended: %v", err)
		return err
	}
	return nil
}

// pump copies dst<-src in bufferSize chunks. backend identifies which
// of dst/src is the backend connection (the other is always the
// client): the backend side gets the original's 5-second
// SO_RCVTIMEO/SO_SNDTIMEO deadline on both its read and its write, and
// a timeout there is fatal, terminating the relay exactly as a
// stalled backend would trip the original's recv/send timeout. The
// client-side read instead gets the 1-second rolling deadline used
// purely so the loop can observe ctx cancellation promptly — the same
// non-fatal role the original's select() poll played — so a timeout
// there just loops back around.
func pump(ctx context.Context, dst, src, backend net.Conn) error {
	buf := make([]byte, bufferSize)
	srcIsBackend := src == backend

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		readTimeout := DefaultIdleTimeout
		if srcIsBackend {
			readTimeout = DefaultDialTimeout
		}
		if deadliner, ok := src.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = deadliner.SetReadDeadline(time.Now().Add(readTimeout))
		}

		n, err := src.Read(buf)
		if n > 0 {
			if dst == backend {
				if deadliner, ok := dst.(interface{ SetWriteDeadline(time.Time) error }); ok {
					_ = deadliner.SetWriteDeadline(time.Now().Add(DefaultDialTimeout))
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if srcIsBackend {
					return err
				}
				continue
			}
			// Returning io.EOF (rather than nil) still lets errgroup
			// record it as the cancellation trigger, so the peer
			// direction's blocked Read unwinds via ctx.Done() within
			// one idle-timeout tick instead of running forever.
			return err
		}
	}
}

// minimalResponse renders a bare HTTP/1.1 status line and HTML body,
// matching the original's hand-written 502/503 responses.
func minimalResponse(status, title string) string {
	body := fmt.Sprintf("<html><body><h1>%s</h1></body></html>", title)
	return fmt.Sprintf(
		"HTTP/1.1 %s\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, len(body), body,
	)
}

// WriteServiceUnavailable writes a 503 response, used when no backend
// is currently active.
func WriteServiceUnavailable(conn net.Conn) error {
	_, err := conn.Write([]byte(minimalResponse("503 Service Unavailable", "Service Unavailable")))
	return err
}

// WriteBadGateway writes a 502 response, used when the selected
// backend could not be dialed.
func WriteBadGateway(conn net.Conn) error {
	_, err := conn.Write([]byte(minimalResponse("502 Bad Gateway", "Bad Gateway")))
	return err
}
