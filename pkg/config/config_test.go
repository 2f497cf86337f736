package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindServerFlagsDefaults(t *testing.T) {
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cfg := BindServerFlags(cmd)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.Workers)
	assert.Equal(t, 100, cfg.QueueCapacity)
	assert.Equal(t, 50, cfg.CacheCapacity)
	assert.Empty(t, cfg.ExtraFlags)
}

func TestBindServerFlagsParsesExtraFlags(t *testing.T) {
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cfg := BindServerFlags(cmd)
	cmd.SetArgs([]string{"--extra-flags", `--foo bar "baz qux"`})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []string{"--foo", "bar", "baz qux"}, cfg.ExtraFlags)
}

func TestBindLoadBalancerFlagsDefaults(t *testing.T) {
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cfg := BindLoadBalancerFlags(cmd)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, 8085, cfg.Port)
	assert.Equal(t, "round-robin", cfg.Policy)
	assert.Equal(t, []string{"127.0.0.1:8081", "127.0.0.1:8082", "127.0.0.1:8083", "127.0.0.1:8084"}, cfg.Backends)
}

func TestBindLoadBalancerFlagsParsesBackends(t *testing.T) {
	cmd := &cobra.Command{RunE: func(*cobra.Command, []string) error { return nil }}
	cfg := BindLoadBalancerFlags(cmd)
	cmd.SetArgs([]string{"--backends", "127.0.0.1:9001 127.0.0.1:9002", "--policy", "least-connections"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, []string{"127.0.0.1:9001", "127.0.0.1:9002"}, cfg.Backends)
	assert.Equal(t, "least-connections", cfg.Policy)
}
