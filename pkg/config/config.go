// Package config builds the cobra flag surfaces for the server and
// load balancer binaries, falling back to the environment variables
// and defaults the external interface contract specifies when a flag
// is left unset — the same env-var-first pattern the teacher's root
// main.go uses for its own socket/model-path configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"
)

// Server holds the resolved configuration for the cachetier server
// binary.
type Server struct {
	Port            int
	Root            string
	Workers         int
	QueueCapacity   int
	CacheCapacity   int
	MetricsInterval time.Duration
	AdminPort       int
	ExtraFlags      []string
}

// BindServerFlags registers the server's flags on cmd and returns the
// Server that will be populated once cmd's flags are parsed.
func BindServerFlags(cmd *cobra.Command) *Server {
	cfg := &Server{}
	flags := cmd.Flags()

	flags.IntVar(&cfg.Port, "port", envInt("CACHETIER_PORT", 8080), "TCP port to serve static content on")
	flags.StringVar(&cfg.Root, "root", envString("CACHETIER_ROOT", "."), "directory to serve files from")
	flags.IntVar(&cfg.Workers, "workers", envInt("CACHETIER_WORKERS", 10), "fixed worker pool size")
	flags.IntVar(&cfg.QueueCapacity, "queue-capacity", envInt("CACHETIER_QUEUE_CAPACITY", 100), "bounded accept queue capacity")
	flags.IntVar(&cfg.CacheCapacity, "cache-capacity", envInt("CACHETIER_CACHE_CAPACITY", 50), "LRU cache entry capacity")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", envDuration("CACHETIER_METRICS_INTERVAL", 10*time.Second), "metrics reporter interval")
	flags.IntVar(&cfg.AdminPort, "admin-port", envInt("CACHETIER_ADMIN_PORT", 0), "optional separate net/http port for /metrics and /metrics.prom; 0 disables it")

	var extraFlagsRaw string
	flags.StringVar(&extraFlagsRaw, "extra-flags", os.Getenv("CACHETIER_EXTRA_FLAGS"), "shell-quoted string of additional listener options")
	cmd.PreRunE = chainPreRunE(cmd.PreRunE, func(*cobra.Command, []string) error {
		parsed, err := shellwords.Parse(extraFlagsRaw)
		if err != nil {
			return fmt.Errorf("config: parse --extra-flags: %w", err)
		}
		cfg.ExtraFlags = parsed
		return nil
	})

	return cfg
}

// LoadBalancer holds the resolved configuration for the cachetier
// load balancer binary.
type LoadBalancer struct {
	Port           int
	Backends       []string
	Policy         string
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	DialTimeout    time.Duration
}

// BindLoadBalancerFlags registers the load balancer's flags on cmd.
func BindLoadBalancerFlags(cmd *cobra.Command) *LoadBalancer {
	cfg := &LoadBalancer{}
	flags := cmd.Flags()

	flags.IntVar(&cfg.Port, "port", envInt("CACHETIER_LB_PORT", 8085), "TCP port the load balancer listens on")
	flags.StringVar(&cfg.Policy, "policy", envString("CACHETIER_LB_POLICY", "round-robin"), "backend selection policy: round-robin or least-connections")
	flags.DurationVar(&cfg.HealthInterval, "health-interval", envDuration("CACHETIER_LB_HEALTH_INTERVAL", 10*time.Second), "interval between backend health sweeps")
	flags.DurationVar(&cfg.HealthTimeout, "health-timeout", envDuration("CACHETIER_LB_HEALTH_TIMEOUT", 2*time.Second), "per-backend health probe dial timeout")
	flags.DurationVar(&cfg.DialTimeout, "dial-timeout", envDuration("CACHETIER_LB_DIAL_TIMEOUT", 5*time.Second), "backend connect timeout for the proxy loop")

	var backendsRaw string
	defaultBackends := envString("CACHETIER_LB_BACKENDS", "127.0.0.1:8081 127.0.0.1:8082 127.0.0.1:8083 127.0.0.1:8084")
	flags.StringVar(&backendsRaw, "backends", defaultBackends, "shell-quoted, whitespace-separated list of backend host:port addresses")
	cmd.PreRunE = chainPreRunE(cmd.PreRunE, func(*cobra.Command, []string) error {
		parsed, err := shellwords.Parse(backendsRaw)
		if err != nil {
			return fmt.Errorf("config: parse --backends: %w", err)
		}
		cfg.Backends = parsed
		return nil
	})

	return cfg
}

func chainPreRunE(existing func(*cobra.Command, []string) error, next func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	if existing == nil {
		return next
	}
	return func(cmd *cobra.Command, args []string) error {
		if err := existing(cmd, args); err != nil {
			return err
		}
		return next(cmd, args)
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
