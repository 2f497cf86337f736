// Command server is the static-content serving backend: a fixed
// worker pool draining a bounded accept queue, an LRU cache in front
// of the filesystem, and a metrics reporter, all behind the raw-socket
// request handler in pkg/fileserver.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachetier/cachetier/pkg/cache"
	"github.com/cachetier/cachetier/pkg/config"
	"github.com/cachetier/cachetier/pkg/fileserver"
	"github.com/cachetier/cachetier/pkg/metrics"
	"github.com/cachetier/cachetier/pkg/middleware"
	"github.com/cachetier/cachetier/pkg/routing"
)

var log = logrus.New()

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Serve static files from an LRU-cached, bounded worker pool",
	}
	cfg := config.BindServerFlags(root)
	root.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfg)
	}

	if err := root.Execute(); err != nil {
		log.Errorf("server: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Server) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(cfg.ExtraFlags) > 0 {
		log.Infof("server: extra flags configured: %v", cfg.ExtraFlags)
	}

	c := cache.New(log, cfg.CacheCapacity)
	recorder := metrics.New()
	handler := fileserver.New(cfg.Root, c, recorder, log)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listen on port %d: %w", cfg.Port, err)
	}
	log.Infof("server: listening on %s, serving %s", listener.Addr(), cfg.Root)

	rt := fileserver.NewRuntime(listener, handler, recorder, log, cfg.Workers, cfg.QueueCapacity)

	runtimeErrors := make(chan error, 1)
	go func() {
		runtimeErrors <- rt.Run(ctx, cfg.MetricsInterval)
	}()

	var adminServer *http.Server
	adminErrors := make(chan error, 1)
	if cfg.AdminPort != 0 {
		adminServer = newAdminServer(cfg.AdminPort, c, recorder)
		log.Infof("server: admin introspection listening on :%d", cfg.AdminPort)
		go func() {
			adminErrors <- adminServer.ListenAndServe()
		}()
	}

	select {
	case err := <-runtimeErrors:
		if err != nil {
			log.Errorf("server: runtime error: %v", err)
		}
	case err := <-adminErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("server: admin server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("server: shutdown signal received")
		_ = listener.Close()
		if adminServer != nil {
			_ = adminServer.Close()
		}
		if err := <-runtimeErrors; err != nil {
			log.Errorf("server: runtime shutdown error: %v", err)
		}
	}

	log.Infoln("server: stopped")
	return nil
}

// newAdminServer exposes /metrics and /metrics.prom over a
// conventional net/http mux, fronted by the CORS middleware, for
// operators who prefer scraping over the raw-socket request path.
func newAdminServer(port int, c *cache.Cache, recorder *metrics.Recorder) *http.Server {
	mux := routing.NewNormalizedServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(recorder.RenderHTML(c.Len())))
	})
	mux.HandleFunc("/metrics.prom", func(w http.ResponseWriter, r *http.Request) {
		body, err := recorder.RenderProm(c.Len())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(body))
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: middleware.CorsMiddleware(nil, mux),
	}
}
