package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vitals-monitor/internal/config"
	"github.com/JakeFAU/vitals-monitor/internal/server"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("VITALS_STORE_DRIVER", "memory")
	t.Setenv("VITALS_LOGGING_LEVEL", "error")
	t.Setenv("VITALS_TELEMETRY_TRACING_ENABLED", "false")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDispatchCommandWithNothingDue(t *testing.T) {
	out, err := runCLI(t, "dispatch")
	require.NoError(t, err)
	require.Contains(t, out, "dispatched 0 project(s)")
}

func TestDispatchCommandWithLocalQueue(t *testing.T) {
	t.Setenv("VITALS_QUEUE_PROVIDER", "memory")
	out, err := runCLI(t, "dispatch")
	require.NoError(t, err)
	require.Contains(t, out, "dispatched 0 project(s)")
}

func TestMigrateRequiresPostgres(t *testing.T) {
	_, err := runCLI(t, "migrate")
	require.ErrorContains(t, err, "postgres")
}

func TestAuditCommandUnknownProject(t *testing.T) {
	_, err := runCLI(t, "audit", "missing")
	require.ErrorContains(t, err, "project not found")
}

func TestAuditCommandRequiresProjectID(t *testing.T) {
	_, err := runCLI(t, "audit")
	require.Error(t, err)
}

func TestConfigErrorsStopBeforeBuild(t *testing.T) {
	orig := buildApp
	t.Cleanup(func() { buildApp = orig })
	built := false
	buildApp = func(ctx context.Context, cfg config.Config) (*server.App, error) {
		built = true
		return orig(ctx, cfg)
	}

	t.Setenv("VITALS_SERVER_PORT", "0")
	_, err := runCLI(t, "dispatch")
	require.ErrorContains(t, err, "server.port")
	require.False(t, built)
}
