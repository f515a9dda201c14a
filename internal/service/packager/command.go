package packager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/service/common"
	"github.com/forgestamp/forgestamp/internal/service/updater"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is an optional path to persist connection settings.
	ConfigPath string
	// RegistryAddress is the HTTP address of the running registry used for publishing.
	RegistryAddress string
	// UpdateFolder is the URL where update artifacts will be uploaded.
	UpdateFolder string
	// AuthUsername and AuthPassword authorize the publish call.
	AuthUsername string
	AuthPassword string
}

// packager prepares release metadata (manifest) for distribution and
// announces the release to the registry.
// It is unexported; callers should use Run, which encapsulates setup and validation.
type packager struct {
	// cfg holds the configuration for registry connection and update folder.
	cfg *config.Config
	// cfgFilename is the path where configuration is saved.
	cfgFilename string
	// manifest contains the release manifest with files, roles, and executables.
	manifest *updater.Manifest
}

// errUpdaterRunning indicates that packaging was attempted while the updater is running.
var errUpdaterRunning = errors.New("the updater is running now")

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "forgestamp-packager")

	cfg := &config.Config{
		RegistryAddress: opts.RegistryAddress,
		UpdateFolder:    opts.UpdateFolder,
		AuthUsername:    opts.AuthUsername,
		AuthPassword:    opts.AuthPassword,
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	config.ApplyLogLevel(cfg)

	pkg, err := newPackager(ctx, opts.ConfigPath, cfg)
	if err != nil {
		return fmt.Errorf("initialize packager: %w", err)
	}

	if err = pkg.Run(ctx); err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return nil
}

// newPackager creates a new packager instance with the provided settings and configuration path.
func newPackager(ctx context.Context, configFilename string, settings *config.Config) (*packager, error) {
	if updater.IsUpdaterRunningNow(ctx) {
		return nil, errUpdaterRunning
	}

	if err := config.Save(configFilename, settings); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	pkg := &packager{
		cfg:         settings,
		cfgFilename: configFilename,
		manifest:    updater.NewManifest(),
	}

	return pkg, nil
}

// Run populates the manifest, writes it to disk, and publishes the release.
func (p *packager) Run(ctx context.Context) error {
	logger.Info(ctx, "Preparing release manifest")

	if err := p.fillManifest(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Saving release manifest", "path", updater.ManifestFilename)

	if err := p.saveManifest(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Publishing release to registry", "registry_addr", p.cfg.RegistryAddress)

	if err := p.publishRelease(ctx); err != nil {
		return err
	}

	p.printNextSteps(ctx)

	return nil
}

// fillManifest populates roles, executables and file checksums into the manifest.
// Checksums are computed concurrently, one goroutine per artifact.
func (p *packager) fillManifest() error {
	for role, files := range updater.RoleArtifacts() {
		p.manifest.Roles[role] = append([]string(nil), files...)
	}

	maps.Copy(p.manifest.Executables, updater.RoleExecutables())

	var (
		g  errgroup.Group
		mu sync.Mutex
	)

	for _, fileName := range updater.FilesWithChecksum() {
		fileName := fileName

		if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", fileName, os.ErrNotExist)
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", fileName, err)
		}

		g.Go(func() error {
			checksum, err := updater.GetFileChecksum(fileName)
			if err != nil {
				return err
			}

			mu.Lock()
			p.manifest.Files[fileName] = base64.StdEncoding.EncodeToString(checksum)
			mu.Unlock()

			return nil
		})
	}

	return g.Wait()
}

// saveManifest writes the manifest to the standard ManifestFilename.
func (p *packager) saveManifest() error {
	contents, err := yaml.Marshal(p.manifest)
	if err != nil {
		return err
	}

	return os.WriteFile(updater.ManifestFilename, contents, updater.DefaultFileMode)
}

// publishRelease announces the new release to the registry so agents learn
// about it on their next check-in.
func (p *packager) publishRelease(ctx context.Context) error {
	actor, err := common.DetectActor()
	if err != nil {
		return err
	}

	clientOpts := []common.Option{common.WithCallTimeout(p.cfg.Timeout)}
	if p.cfg.AuthUsername != "" {
		clientOpts = append(clientOpts, common.WithBasicAuth(p.cfg.AuthUsername, p.cfg.AuthPassword))
	}

	client, err := common.Dial(ctx, p.cfg.RegistryAddress, clientOpts...)
	if err != nil {
		return err
	}

	// Best-effort cleanup.
	defer func() {
		_ = client.Close()
	}()

	release, err := client.PublishRelease(ctx, &httpapi.PublishReleaseRequest{
		ReleaseVersion: p.manifest.ReleaseVersion,
		GitCommit:      p.manifest.GitCommit,
		RuntimeVersion: p.manifest.RuntimeVersion,
		ShimVersion:    p.manifest.ShimVersion,
		Checksums:      p.manifest.Files,
		Actor:          httpapi.NewActorPayload(actor),
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Release published",
		"release_version", release.ReleaseVersion,
		"git_commit", release.GitCommit,
		"published_at", release.PublishedAt)

	return nil
}

// printNextSteps logs human-readable guidance for next actions with the created files.
func (p *packager) printNextSteps(ctx context.Context) {
	files := make([]string, 0, len(p.manifest.Files)+1)
	for fileName := range p.manifest.Files {
		files = append(files, fileName)
	}

	files = append(files, updater.ManifestFilename)
	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("You should upload the following files to the folder ")
	builder.WriteString(p.cfg.UpdateFolder)
	builder.WriteString(":\n")

	for i, name := range files {
		if i == 0 {
			builder.WriteString(name)
		} else {
			builder.WriteString(",\n")
			builder.WriteString(name)
		}
	}

	for role, fileList := range p.manifest.Roles {
		builder.WriteString("\n\nFor an installation with the \"")
		builder.WriteString(role)
		builder.WriteString("\" role, copy the following files to the local computer:\n")

		for i, name := range fileList {
			if i == 0 {
				builder.WriteString(name)
			} else {
				builder.WriteString(",\n")
				builder.WriteString(name)
			}
		}

		builder.WriteString("\nAt system startup, set the command to run: forgestamp-updater ")
		builder.WriteString(role)
	}

	logger.Info(ctx, builder.String())
}
