package proxy

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

func TestRelayForwardsClientToBackend(t *testing.T) {
	clientConn, clientRemote := net.Pipe()
	backendConn, backendRemote := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Relay(ctx, testLogger(), clientConn, backendConn) }()

	go func() { _, _ = clientRemote.Write([]byte("hello")) }()
	buf := make([]byte, 5)
	n, err := io.ReadFull(backendRemote, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	clientRemote.Close()
	backendRemote.Close()
	<-done
}

func TestRelayForwardsBackendToClient(t *testing.T) {
	clientConn, clientRemote := net.Pipe()
	backendConn, backendRemote := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Relay(ctx, testLogger(), clientConn, backendConn) }()

	go func() { _, _ = backendRemote.Write([]byte("world")) }()
	buf := make([]byte, 5)
	n, err := io.ReadFull(clientRemote, buf)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	clientRemote.Close()
	backendRemote.Close()
	<-done
}

func TestRelayStopsWhenClientClosesRemote(t *testing.T) {
	clientConn, clientRemote := net.Pipe()
	backendConn, _ := net.Pipe()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- Relay(ctx, testLogger(), clientConn, backendConn) }()

	clientRemote.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate after client closed")
	}
}

func TestRelayTerminatesOnBackendStall(t *testing.T) {
	orig := DefaultDialTimeout
	DefaultDialTimeout = 50 * time.Millisecond
	defer func() { DefaultDialTimeout = orig }()

	clientConn, _ := net.Pipe()
	backendConn, _ := net.Pipe() // backendRemote never written to or closed

	done := make(chan error, 1)
	go func() { done <- Relay(context.Background(), testLogger(), clientConn, backendConn) }()

	select {
	case err := <-done:
		assert.Error(t, err, "a stalled backend past its read deadline should terminate the relay with an error")
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate after the backend stalled past its read deadline")
	}
}

func TestWriteServiceUnavailable(t *testing.T) {
	server, client := net.Pipe()
	go func() { _ = WriteServiceUnavailable(server); server.Close() }()

	buf := make([]byte, 4096)
	n, _ := client.Read(buf)
	out := string(buf[:n])
	assert.Contains(t, out, "503 Service Unavailable")
	assert.Contains(t, out, "Connection: close")
}

func TestWriteBadGateway(t *testing.T) {
	server, client := net.Pipe()
	go func() { _ = WriteBadGateway(server); server.Close() }()

	buf := make([]byte, 4096)
	n, _ := client.Read(buf)
	out := string(buf[:n])
	assert.Contains(t, out, "502 Bad Gateway")
}

func TestDialBackendFailsOnUnreachableAddr(t *testing.T) {
	_, err := DialBackend(context.Background(), "127.0.0.1:1", 200*time.Millisecond)
	assert.Error(t, err)
}
