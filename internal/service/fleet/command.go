package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/service/common"
)

const (
	// OutputTable renders human-readable tables, OutputJSON machine-readable JSON.
	OutputTable = "table"
	OutputJSON  = "json"

	// DefaultHistoryLimit bounds the release history shown by default.
	DefaultHistoryLimit = 10
)

// errUnknownOutput is returned for output formats other than table or json.
var errUnknownOutput = errors.New("unknown output format")

// Options contains inputs for the fleet status command.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// RegistryAddress provides an optional registry address override.
	RegistryAddress string
	// Output selects the report format (table or json).
	Output string
	// Limit bounds how many historical releases are fetched.
	Limit int
}

// statusReport aggregates everything the fleet command prints.
type statusReport struct {
	Latest   *httpapi.ReleasePayload  `json:"latest,omitempty"`
	Releases []httpapi.ReleasePayload `json:"releases"`
	Agents   []httpapi.CheckInPayload `json:"agents"`
}

// Run fetches the registry status once and prints it in the selected format.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "forgestamp-fleet")

	if opts.Output == "" {
		opts.Output = OutputTable
	}

	if opts.Output != OutputTable && opts.Output != OutputJSON {
		return fmt.Errorf("%w: %s", errUnknownOutput, opts.Output)
	}

	if opts.Limit <= 0 {
		opts.Limit = DefaultHistoryLimit
	}

	// Load settings from configuration file.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	config.ApplyLogLevel(cfg)

	// Determine registry address: command line argument overrides config.
	registryAddress := cfg.RegistryAddress
	if opts.RegistryAddress != "" {
		registryAddress = opts.RegistryAddress
	}

	client, err := common.Dial(ctx, registryAddress, common.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return fmt.Errorf("dial registry: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	// The spinner is only shown for table output so JSON stays machine-readable.
	report, err := fetchStatus(ctx, client, opts.Limit, opts.Output == OutputTable)
	if err != nil {
		return err
	}

	if opts.Output == OutputJSON {
		return printJSON(report)
	}

	render(report)

	return nil
}

// fetchStatus gathers the latest release, history, and agent check-ins.
func fetchStatus(ctx context.Context, client *common.Client, limit int, showSpinner bool) (*statusReport, error) {
	if showSpinner {
		loader := newSpinner()
		loader.Start()

		defer loader.Stop()
	}

	report := new(statusReport)

	latest, err := client.LatestRelease(ctx)
	switch {
	case err == nil:
		report.Latest = latest
	case errors.Is(err, common.ErrNoRelease):
		// An empty registry is still a valid report.
	default:
		return nil, err
	}

	releases, err := client.ListReleases(ctx, limit)
	if err != nil {
		return nil, err
	}

	report.Releases = releases.Releases

	agents, err := client.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	report.Agents = agents.Agents

	return report, nil
}

// printJSON writes the report to stdout as indented JSON.
func printJSON(report *statusReport) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(report)
}
