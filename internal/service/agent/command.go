package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/service/common"
	"github.com/forgestamp/forgestamp/internal/service/proc"
	"github.com/forgestamp/forgestamp/internal/service/updater"
)

// Options controls the agent check-in behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// RegistryAddress provides an optional registry address override.
	RegistryAddress string
	// CheckInInterval defines the interval between check-ins.
	CheckInInterval time.Duration
	// Timeout specifies the per-call timeout duration.
	Timeout time.Duration
	// AutoUpdate launches the updater when the registry reports a newer release.
	AutoUpdate bool
	// Debug prevents the updater launch when the release goes stale, for testing purposes.
	Debug bool
}

// DefaultCheckInInterval defines the fixed reporting interval for check-ins.
const DefaultCheckInInterval = time.Minute

// errUpdateSpawned indicates that the updater has been launched and the agent should exit.
var errUpdateSpawned = errors.New("updater spawned")

// Run reports the compiled-in versions to the registry on a fixed interval
// and optionally launches the updater when the running release goes stale.
// Loads configuration first to get timeout and registry address.
//
//nolint:cyclop // Flow is straightforward and readable; splitting would reduce clarity.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "forgestamp-agent")

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	config.ApplyLogLevel(cfg)

	// Use default check-in interval as it's not user-configurable.
	if opts.CheckInInterval <= 0 {
		opts.CheckInInterval = DefaultCheckInInterval
	}

	// Determine registry address: command line argument overrides config.
	registryAddress := cfg.RegistryAddress
	if opts.RegistryAddress != "" {
		registryAddress = opts.RegistryAddress
	}

	// Per-call timeout: command line flag overrides config.
	timeout := cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	// Collect the identity reported with every check-in.
	request, err := buildCheckInRequest(ctx)
	if err != nil {
		return err
	}

	// Establish the registry connection with the resolved timeout.
	client, err := common.Dial(ctx, registryAddress, common.WithCallTimeout(timeout))
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Reporting to registry",
		"registry_addr", registryAddress,
		"machine_id", request.MachineID,
		"interval", opts.CheckInInterval.String())

	// First report goes out immediately, the ticker covers the rest.
	if err = sendCheckIn(ctx, client, request, opts.AutoUpdate, opts.Debug); err != nil {
		if errors.Is(err, errUpdateSpawned) {
			logger.Info(ctx, "Updater launched, exiting")
			return nil
		}

		logger.ErrorKV(ctx, "Check-in failed", "error", err)
	}

	// Setup reporting ticker with fixed interval.
	ticker := time.NewTicker(opts.CheckInInterval)
	defer ticker.Stop()

	// Main reporting loop until context cancellation or update handoff.
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			// Report versions and hand off to the updater if needed.
			if err = sendCheckIn(ctx, client, request, opts.AutoUpdate, opts.Debug); err != nil {
				if errors.Is(err, errUpdateSpawned) {
					logger.Info(ctx, "Updater launched, exiting")
					return nil
				}

				logger.ErrorKV(ctx, "Check-in failed", "error", err)
			}
		}
	}
}

// buildCheckInRequest assembles the identity and version report sent on every
// check-in. The machine identifier is required; platform details are best-effort.
func buildCheckInRequest(ctx context.Context) (*httpapi.CheckInRequest, error) {
	actor, err := common.DetectActor()
	if err != nil {
		return nil, fmt.Errorf("detect actor: %w", err)
	}

	machineID, err := common.DetectMachineID()
	if err != nil {
		return nil, fmt.Errorf("detect machine id: %w", err)
	}

	platform := common.DetectPlatform(ctx)
	stamp := common.LocalStamp()

	return &httpapi.CheckInRequest{
		MachineID:      machineID,
		Actor:          httpapi.NewActorPayload(actor),
		ReleaseVersion: stamp.ReleaseVersion,
		GitCommit:      stamp.GitCommit,
		RuntimeVersion: stamp.RuntimeVersion,
		ShimVersion:    stamp.ShimVersion,
		Platform: httpapi.PlatformPayload{
			OS:      platform.OS,
			Arch:    platform.Arch,
			Name:    platform.Name,
			Version: platform.Version,
		},
	}, nil
}

// sendCheckIn reports the local versions and reacts to the registry verdict.
// Returns errUpdateSpawned when the updater has been launched, or error on failure.
func sendCheckIn(ctx context.Context, client *common.Client, request *httpapi.CheckInRequest, autoUpdate, debug bool) error {
	verdict, err := client.SendCheckIn(ctx, request)
	if err != nil {
		return err
	}

	if !verdict.UpdateAvailable {
		logger.Infof(ctx, "Running release %s is current", request.ReleaseVersion)
		return nil
	}

	logger.WarnKV(ctx, "Running release is stale",
		"local", request.ReleaseVersion,
		"latest", verdict.LatestReleaseVersion)

	if !autoUpdate {
		return nil
	}

	if debug {
		logger.Info(ctx, "Update available but debug mode prevents the updater launch")
		return nil
	}

	logger.Info(ctx, "Launching updater")

	// The updater kills this process and restarts it after applying files.
	if err = proc.Start(ctx, proc.WithExtension("forgestamp-updater"), updater.RoleAgent); err != nil {
		return err
	}

	return errUpdateSpawned
}
