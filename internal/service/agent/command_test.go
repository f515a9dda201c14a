package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/service/common"
)

// newStubRegistry starts a registry stub answering check-ins with the given verdict.
func newStubRegistry(t *testing.T, updateAvailable bool) *common.Client {
	t.Helper()

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/checkins" {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpapi.CheckInResponse{
			CheckIn:              httpapi.CheckInPayload{ID: "c-1", Stale: updateAvailable},
			LatestReleaseVersion: "2.0.0",
			UpdateAvailable:      updateAvailable,
		})
	}))
	t.Cleanup(stub.Close)

	client, err := common.Dial(context.Background(), stub.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// TestSendCheckIn_CurrentRelease verifies a current release needs no action.
func TestSendCheckIn_CurrentRelease(t *testing.T) {
	t.Parallel()

	client := newStubRegistry(t, false)

	err := sendCheckIn(context.Background(), client, &httpapi.CheckInRequest{
		MachineID:      "8d8e5f24",
		ReleaseVersion: "2.0.0",
	}, true, false)
	require.NoError(t, err)
}

// TestSendCheckIn_StaleWithoutAutoUpdate verifies staleness only warns by default.
func TestSendCheckIn_StaleWithoutAutoUpdate(t *testing.T) {
	t.Parallel()

	client := newStubRegistry(t, true)

	err := sendCheckIn(context.Background(), client, &httpapi.CheckInRequest{
		MachineID:      "8d8e5f24",
		ReleaseVersion: "1.0.0",
	}, false, false)
	require.NoError(t, err)
}

// TestSendCheckIn_DebugPreventsLaunch verifies debug mode suppresses the
// updater handoff even when auto-update is enabled.
func TestSendCheckIn_DebugPreventsLaunch(t *testing.T) {
	t.Parallel()

	client := newStubRegistry(t, true)

	err := sendCheckIn(context.Background(), client, &httpapi.CheckInRequest{
		MachineID:      "8d8e5f24",
		ReleaseVersion: "1.0.0",
	}, true, true)
	require.NoError(t, err)
}

// TestBuildCheckInRequest checks the assembled identity report.
// Skips when the platform provides no machine id (e.g. minimal containers).
func TestBuildCheckInRequest(t *testing.T) {
	t.Parallel()

	request, err := buildCheckInRequest(context.Background())
	if err != nil {
		t.Skipf("identity unavailable: %v", err)
	}

	require.NotEmpty(t, request.MachineID)
	require.NotNil(t, request.Actor)
	require.NotEmpty(t, request.ReleaseVersion)
	require.NotEmpty(t, request.Platform.OS)
	require.NotEmpty(t, request.Platform.Arch)
}
