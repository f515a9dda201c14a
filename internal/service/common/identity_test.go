//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDetectMachineID checks the identifier is stable across calls.
// Skips when the platform provides no machine id (e.g. minimal containers).
func TestDetectMachineID(t *testing.T) {
	t.Parallel()

	first, err := DetectMachineID()
	if err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}

	require.NotEmpty(t, first)

	second, err := DetectMachineID()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// TestDetectPlatform verifies GOOS/GOARCH are always reported.
func TestDetectPlatform(t *testing.T) {
	t.Parallel()

	p := DetectPlatform(context.Background())

	require.Equal(t, runtime.GOOS, p.OS)
	require.Equal(t, runtime.GOARCH, p.Arch)
}

// TestLocalStamp verifies the stamp mirrors the compiled-in versions.
func TestLocalStamp(t *testing.T) {
	t.Parallel()

	stamp := LocalStamp()

	require.NotEmpty(t, stamp.ReleaseVersion)
	require.NotEmpty(t, stamp.GitCommit)
	require.NotEmpty(t, stamp.RuntimeVersion)
	require.NotEmpty(t, stamp.ShimVersion)
}
