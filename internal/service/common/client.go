//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/forgestamp/forgestamp/internal/api/httpapi"
	"github.com/forgestamp/forgestamp/internal/config"
	"github.com/forgestamp/forgestamp/internal/version"
)

// Client wraps the registry HTTP API with convenience helpers.
type Client struct {
	// baseURL is the normalized registry endpoint without a trailing slash.
	baseURL string
	// httpClient executes the requests; per-call timeouts come from callContext.
	httpClient *http.Client

	// callTimeout is the default timeout for individual API calls.
	callTimeout time.Duration

	// username and password are sent as HTTP basic auth when set.
	username string
	password string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithBasicAuth attaches credentials for the mutating registry endpoints.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
	// errReleaseVersionRequired is returned when a publish request carries no version.
	errReleaseVersionRequired = errors.New("release version must be provided")
	// errMachineIDRequired is returned when a check-in carries no machine identity.
	errMachineIDRequired = errors.New("machine id must be provided")

	// ErrNoRelease indicates the registry has no published release yet.
	ErrNoRelease = errors.New("no release has been published yet")
)

// Dial prepares a client for the registry at the given address. The address
// may be a bare "host:port" pair or a full http(s) URL.
// Note: bare addresses default to plain HTTP; deploy on a trusted network or
// terminate TLS in a proxy and pass an https URL.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	baseURL, err := normalizeBaseURL(address)
	if err != nil {
		return nil, fmt.Errorf("dial registry: %w", err)
	}

	client := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Close releases idle connections held by the underlying HTTP client.
func (c *Client) Close() error {
	if c == nil || c.httpClient == nil {
		return nil
	}

	c.httpClient.CloseIdleConnections()

	return nil
}

// Health checks the registry liveness endpoint.
func (c *Client) Health(ctx context.Context) (*httpapi.HealthResponse, error) {
	var resp httpapi.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}

	return &resp, nil
}

// LatestRelease retrieves the most recently published release.
// Returns ErrNoRelease when nothing has been published yet.
func (c *Client) LatestRelease(ctx context.Context) (*httpapi.ReleasePayload, error) {
	var resp httpapi.ReleasePayload

	err := c.doJSON(ctx, http.MethodGet, "/api/v1/release/latest", nil, &resp)
	if err != nil {
		var replyErr *apiError
		if errors.As(err, &replyErr) && replyErr.status == http.StatusNotFound {
			return nil, ErrNoRelease
		}

		return nil, fmt.Errorf("latest release: %w", err)
	}

	return &resp, nil
}

// ListReleases retrieves published releases, newest first, up to limit.
func (c *Client) ListReleases(ctx context.Context, limit int) (*httpapi.ReleasesResponse, error) {
	path := "/api/v1/releases"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var resp httpapi.ReleasesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}

	return &resp, nil
}

// PublishRelease announces a new release to the registry.
func (c *Client) PublishRelease(ctx context.Context, request *httpapi.PublishReleaseRequest) (*httpapi.ReleasePayload, error) {
	if request == nil || request.ReleaseVersion == "" {
		return nil, errReleaseVersionRequired
	}

	if request.Actor == nil {
		return nil, errActorRequired
	}

	var resp httpapi.ReleasePayload
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/releases", request, &resp); err != nil {
		return nil, fmt.Errorf("publish release: %w", err)
	}

	return &resp, nil
}

// SendCheckIn reports the local component versions and returns the registry's
// verdict on whether an update is pending.
func (c *Client) SendCheckIn(ctx context.Context, request *httpapi.CheckInRequest) (*httpapi.CheckInResponse, error) {
	if request == nil || request.MachineID == "" {
		return nil, errMachineIDRequired
	}

	var resp httpapi.CheckInResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/checkins", request, &resp); err != nil {
		return nil, fmt.Errorf("send check-in: %w", err)
	}

	return &resp, nil
}

// ListAgents retrieves the last known check-in of every agent.
func (c *Client) ListAgents(ctx context.Context) (*httpapi.AgentsResponse, error) {
	var resp httpapi.AgentsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/agents", nil, &resp); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	return &resp, nil
}

// apiError describes a non-2xx reply from the registry.
type apiError struct {
	status  int
	message string
}

// Error renders the status and the server-provided message.
func (e *apiError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("registry replied with status %d", e.status)
	}

	return fmt.Sprintf("registry replied with status %d: %s", e.status, e.message)
}

// doJSON executes a single API call with the client's timeout, encoding body
// as JSON when non-nil and decoding the response into out when non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call registry: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		replyErr := &apiError{status: resp.StatusCode}

		// The body is decoded best-effort, plain text errors still surface.
		var errResp httpapi.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil {
			replyErr.message = errResp.Message
		}

		return replyErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

// normalizeBaseURL turns "host:port" or "http://host:port/" into a clean base
// URL without a trailing slash.
func normalizeBaseURL(address string) (string, error) {
	candidate := address
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("invalid registry address %q: %w", address, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported registry scheme %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("invalid registry address %q: missing host", address)
	}

	return strings.TrimRight(parsed.String(), "/"), nil
}
