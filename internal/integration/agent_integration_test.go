package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/service/agent"
	"github.com/forgestamp/forgestamp/internal/service/common"
)

// TestAgent_ChecksInAndReturnsOnCancel runs the agent against a live registry and cancels it.
func TestAgent_ChecksInAndReturnsOnCancel(t *testing.T) {
	t.Parallel()

	// The agent refuses to start without a local identity.
	if _, err := common.DetectActor(); err != nil {
		t.Skipf("actor detection unavailable: %v", err)
	}

	if _, err := common.DetectMachineID(); err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}

	// Setup test environment with a live registry and temporary state.
	addr := reservePort(t)
	statePath := filepath.Join(t.TempDir(), "state.json")

	stop := startRegistry(t, &config.Config{
		RegistryAddress: addr,
		Storage:         config.StorageFile,
		StatePath:       statePath,
		Timeout:         5 * time.Second,
	})
	defer stop()

	// Create temporary config file for the agent.
	cfgPath := filepath.Join(t.TempDir(), "agent-settings.yaml")
	err := config.Save(cfgPath, &config.Config{
		RegistryAddress: addr,
		Timeout:         1 * time.Second,
	})
	require.NoError(t, err)

	// Setup cancellable context for the agent.
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	// Start the agent without auto-update so it keeps reporting.
	go func() {
		options := &agent.Options{
			ConfigPath:      cfgPath,
			RegistryAddress: addr, // Override config address
			CheckInInterval: 50 * time.Millisecond,
			AutoUpdate:      false,
		}

		done <- agent.Run(runCtx, options)
	}()

	ctx := context.Background()

	// Connect to the test registry.
	c, err := common.Dial(ctx, addr)
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	// The first check-in goes out immediately.
	require.Eventually(t, func() bool {
		agents, listErr := c.ListAgents(ctx)
		return listErr == nil && agents.Total == 1
	}, 5*time.Second, 25*time.Millisecond, "agent never checked in")

	cancel()

	// Verify the agent exits cleanly on cancellation.
	err = <-done
	require.NoError(t, err)
}
