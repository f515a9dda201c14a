//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"
	"runtime"

	"github.com/denisbrodbeck/machineid"
	"github.com/shirou/gopsutil/v4/host"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/version"
)

// machineIDApplication namespaces the hashed machine identifier so it cannot
// be correlated with other products using the same library.
const machineIDApplication = "forgestamp"

// DetectMachineID returns a stable, privacy-preserving identifier for this
// machine. The identifier is an HMAC of the platform machine id, so the raw
// value never leaves the host.
func DetectMachineID() (string, error) {
	id, err := machineid.ProtectedID(machineIDApplication)
	if err != nil {
		return "", fmt.Errorf("machine id: %w", err)
	}

	return id, nil
}

// DetectPlatform describes the host operating system for fleet listings.
// Host details beyond GOOS/GOARCH are best-effort.
func DetectPlatform(ctx context.Context) domain.Platform {
	platform := domain.Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		logger.Warnf(ctx, "Failed to read host details: %v", err)

		return platform
	}

	platform.Name = info.Platform
	platform.Version = info.PlatformVersion

	return platform
}

// LocalStamp reports the component versions compiled into this binary.
func LocalStamp() domain.Stamp {
	return domain.Stamp{
		ReleaseVersion: version.ReleaseVersion(),
		GitCommit:      version.GitCommit(),
		RuntimeVersion: version.RuntimeVersion(),
		ShimVersion:    version.ShimVersion(),
	}
}
