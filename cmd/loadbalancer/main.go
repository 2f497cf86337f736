// Command loadbalancer is the TCP load balancer: it accepts client
// connections, selects a backend by policy, and relays bytes in both
// directions until either side closes. Unlike the server's fixed
// worker pool, each accepted connection gets its own detached
// goroutine — a proxied session's lifetime is unbounded, so queueing
// it behind a fixed pool would only add latency for no benefit.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cachetier/cachetier/pkg/backendpool"
	"github.com/cachetier/cachetier/pkg/config"
	"github.com/cachetier/cachetier/pkg/internal/utils"
	"github.com/cachetier/cachetier/pkg/proxy"
)

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:   "loadbalancer",
		Short: "Balance TCP connections across a set of static backends",
	}
	cfg := config.BindLoadBalancerFlags(root)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfg)
	}

	if err := root.Execute(); err != nil {
		log.Errorf("loadbalancer: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.LoadBalancer) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	policy, err := backendpool.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}

	backends := make([]*backendpool.Backend, 0, len(cfg.Backends))
	for _, addr := range cfg.Backends {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("loadbalancer: invalid backend address %q: %w", addr, err)
		}
		var port int
		if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
			return fmt.Errorf("loadbalancer: invalid backend port %q: %w", addr, err)
		}
		backends = append(backends, &backendpool.Backend{Host: host, Port: port})
	}
	if len(backends) == 0 {
		return fmt.Errorf("loadbalancer: no backends configured")
	}

	pool := backendpool.New(log, backends)
	checker := backendpool.NewHealthChecker(pool, log, cfg.HealthInterval, cfg.HealthTimeout)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("loadbalancer: listen on port %d: %w", cfg.Port, err)
	}
	log.Infof("loadbalancer: listening on %s, policy=%s, backends=%v", listener.Addr(), policy, cfg.Backends)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return acceptLoop(gctx, listener, pool, policy, cfg.DialTimeout)
	})
	g.Go(func() error {
		return checker.Run(gctx)
	})

	runtimeErrors := make(chan error, 1)
	go func() { runtimeErrors <- g.Wait() }()

	select {
	case err := <-runtimeErrors:
		if err != nil {
			log.Errorf("loadbalancer: runtime error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("loadbalancer: shutdown signal received")
		_ = listener.Close()
		if err := <-runtimeErrors; err != nil {
			log.Errorf("loadbalancer: runtime shutdown error: %v", err)
		}
	}

	log.Infoln("loadbalancer: stopped")
	return nil
}

// acceptLoop accepts client connections and spawns one detached
// handler goroutine per connection until the listener is closed.
func acceptLoop(ctx context.Context, listener net.Listener, pool *backendpool.Pool, policy backendpool.Policy, dialTimeout time.Duration) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}
		go handleConnection(ctx, conn, pool, policy, dialTimeout)
	}
}

// handleConnection selects a backend for conn, dials it, and relays
// bytes until the session ends, synthesizing the §4.5 failure
// responses when selection or dialing fails.
func handleConnection(ctx context.Context, conn net.Conn, pool *backendpool.Pool, policy backendpool.Policy, dialTimeout time.Duration) {
	log.Debugf("loadbalancer: accepted %s", utils.SanitizeForLog(conn.RemoteAddr().String()))

	backend, err := pool.Select(policy)
	if err != nil {
		_ = proxy.WriteServiceUnavailable(conn)
		conn.Close()
		return
	}

	backendConn, err := proxy.DialBackend(ctx, backend.Addr(), dialTimeout)
	if err != nil {
		log.Debugf("loadbalancer: dial %s failed: %v", backend.Addr(), err)
		_ = proxy.WriteBadGateway(conn)
		conn.Close()
		return
	}

	if err := proxy.Relay(ctx, log, conn, backendConn); err != nil {
		log.Debugf("loadbalancer: relay to %s ended: %v", backend.Addr(), err)
	}
}
