package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
	"github.com/forgestamp/forgestamp/internal/repository/registry"
)

// fakeService implements the Service interface for unit testing the transport.
type fakeService struct {
	// latest is the release reported as most recent.
	latest *domain.Release
	// history holds published releases, newest first.
	history []*domain.Release
	// agents holds recorded check-ins in arrival order.
	agents []*domain.CheckIn

	// publishErr, when set, is returned by PublishRelease.
	publishErr error
}

// PublishRelease stores the release as latest unless publishErr is set.
func (f *fakeService) PublishRelease(_ context.Context, actor *domain.Actor, stamp domain.Stamp, checksums map[string]string) (*domain.Release, error) {
	if f.publishErr != nil {
		return nil, f.publishErr
	}

	rel := &domain.Release{
		Stamp:       stamp,
		PublishedAt: time.Now().UTC(),
		PublishedBy: actor,
		Checksums:   checksums,
	}
	f.latest = rel
	f.history = append([]*domain.Release{rel}, f.history...)

	return rel, nil
}

// LatestRelease returns the stored latest release or ErrNotFound.
func (f *fakeService) LatestRelease(context.Context) (*domain.Release, error) {
	if f.latest == nil {
		return nil, registry.ErrNotFound
	}

	return f.latest, nil
}

// ListReleases returns the stored history honoring the limit.
func (f *fakeService) ListReleases(_ context.Context, limit int) ([]*domain.Release, error) {
	if limit > 0 && limit < len(f.history) {
		return f.history[:limit], nil
	}

	return f.history, nil
}

// RecordCheckIn stores the check-in, marking it stale when the reported
// release differs from the latest one.
func (f *fakeService) RecordCheckIn(_ context.Context, checkIn *domain.CheckIn) (*domain.CheckIn, *domain.Release, error) {
	stored := checkIn.Clone()
	stored.ID = "test-checkin-id"
	stored.SeenAt = time.Now().UTC()

	if f.latest != nil && f.latest.ReleaseVersion != stored.ReleaseVersion {
		stored.Stale = true
	}

	f.agents = append(f.agents, stored)

	return stored, f.latest, nil
}

// ListAgents returns the recorded check-ins.
func (f *fakeService) ListAgents(context.Context) ([]*domain.CheckIn, error) {
	return f.agents, nil
}

// newTestServer starts an httptest server around the API router.
func newTestServer(t *testing.T, opts Options) (*httptest.Server, *fakeService) {
	t.Helper()

	fake := new(fakeService)
	ts := httptest.NewServer(NewServer(fake, opts).Router())
	t.Cleanup(ts.Close)

	return ts, fake
}

// postJSON sends a JSON body and decodes the JSON response into out when non-nil.
func postJSON(t *testing.T, url string, body, out any, authUser, authPass string) int {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	if authUser != "" {
		req.SetBasicAuth(authUser, authPass)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

// getJSON fetches a URL and decodes the JSON response into out when non-nil.
func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

// TestServer_Health verifies the health endpoint reports status and version.
func TestServer_Health(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{})

	var health HealthResponse
	status := getJSON(t, ts.URL+"/health", &health)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", health.Status)
	require.NotEmpty(t, health.Version)
}

// TestServer_LatestRelease_NotFound verifies the 404 error body before any publish.
func TestServer_LatestRelease_NotFound(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{})

	var errResp ErrorResponse
	status := getJSON(t, ts.URL+"/api/v1/release/latest", &errResp)

	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, http.StatusNotFound, errResp.Code)
	require.NotEmpty(t, errResp.Message)
}

// TestServer_PublishRelease_Validation ensures malformed publish requests are rejected.
func TestServer_PublishRelease_Validation(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{})
	url := ts.URL + "/api/v1/releases"

	// Missing release version.
	status := postJSON(t, url, PublishReleaseRequest{
		Actor: &ActorPayload{Hostname: "build-07", Username: "ci"},
	}, nil, "", "")
	require.Equal(t, http.StatusBadRequest, status)

	// Missing actor.
	status = postJSON(t, url, PublishReleaseRequest{ReleaseVersion: "1.2.3"}, nil, "", "")
	require.Equal(t, http.StatusBadRequest, status)

	// Broken JSON.
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte("{")))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServer_PublishAndFetch exercises publish, latest, and history end to end.
func TestServer_PublishAndFetch(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{})

	publish := PublishReleaseRequest{
		ReleaseVersion: "1.2.3",
		GitCommit:      "f3a9c1d",
		RuntimeVersion: "0.9.2",
		ShimVersion:    "0.3.1",
		Checksums:      map[string]string{"forgestamp-agent": "c2hhNTEy"},
		Actor:          &ActorPayload{Hostname: "build-07", Username: "ci"},
	}

	var created ReleasePayload
	status := postJSON(t, ts.URL+"/api/v1/releases", publish, &created, "", "")
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, publish.ReleaseVersion, created.ReleaseVersion)
	require.Equal(t, publish.GitCommit, created.GitCommit)
	require.False(t, created.PublishedAt.IsZero())

	var latest ReleasePayload
	status = getJSON(t, ts.URL+"/api/v1/release/latest", &latest)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, publish.ReleaseVersion, latest.ReleaseVersion)
	require.Equal(t, publish.Checksums, latest.Checksums)

	var history ReleasesResponse
	status = getJSON(t, ts.URL+"/api/v1/releases", &history)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, history.Total)
	require.Len(t, history.Releases, 1)

	// Limit must be a positive integer.
	status = getJSON(t, ts.URL+"/api/v1/releases?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, status)
}

// TestServer_CheckInFlow verifies an agent report and the fleet listing.
func TestServer_CheckInFlow(t *testing.T) {
	t.Parallel()

	ts, fake := newTestServer(t, Options{})

	fake.latest = &domain.Release{
		Stamp: domain.Stamp{ReleaseVersion: "2.0.0"},
	}

	checkIn := CheckInRequest{
		MachineID:      "8d8e5f24",
		Actor:          &ActorPayload{Hostname: "builder-3", Username: "svc-build"},
		ReleaseVersion: "1.0.0",
		GitCommit:      "f3a9c1d",
		RuntimeVersion: "0.9.2",
		ShimVersion:    "0.3.1",
		Platform:       PlatformPayload{OS: "linux", Arch: "amd64"},
	}

	var resp CheckInResponse
	status := postJSON(t, ts.URL+"/api/v1/checkins", checkIn, &resp, "", "")
	require.Equal(t, http.StatusOK, status)
	require.True(t, resp.UpdateAvailable)
	require.Equal(t, "2.0.0", resp.LatestReleaseVersion)
	require.True(t, resp.CheckIn.Stale)
	require.NotEmpty(t, resp.CheckIn.ID)

	// Missing machine id.
	status = postJSON(t, ts.URL+"/api/v1/checkins", CheckInRequest{}, nil, "", "")
	require.Equal(t, http.StatusBadRequest, status)

	var agents AgentsResponse
	status = getJSON(t, ts.URL+"/api/v1/agents", &agents)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, agents.Total)
	require.Equal(t, "8d8e5f24", agents.Agents[0].MachineID)
}

// TestServer_BasicAuth ensures mutating endpoints are guarded while reads stay open.
func TestServer_BasicAuth(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{
		AuthUsername: "publisher",
		AuthPassword: "sekret",
	})

	publish := PublishReleaseRequest{
		ReleaseVersion: "1.2.3",
		Actor:          &ActorPayload{Hostname: "build-07", Username: "ci"},
	}
	url := ts.URL + "/api/v1/releases"

	// No credentials.
	status := postJSON(t, url, publish, nil, "", "")
	require.Equal(t, http.StatusUnauthorized, status)

	// Wrong credentials.
	status = postJSON(t, url, publish, nil, "publisher", "wrong")
	require.Equal(t, http.StatusUnauthorized, status)

	// Correct credentials.
	status = postJSON(t, url, publish, nil, "publisher", "sekret")
	require.Equal(t, http.StatusCreated, status)

	// Reads stay open.
	status = getJSON(t, ts.URL+"/api/v1/release/latest", nil)
	require.Equal(t, http.StatusOK, status)

	status = getJSON(t, ts.URL+"/health", nil)
	require.Equal(t, http.StatusOK, status)
}

// TestServer_Metrics verifies the Prometheus endpoint is wired up.
func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	ts, _ := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
}
