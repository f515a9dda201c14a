package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	domain "github.com/forgestamp/forgestamp/internal/domain/release"
	"github.com/forgestamp/forgestamp/internal/logger"
	"github.com/forgestamp/forgestamp/internal/repository/registry"
	"github.com/forgestamp/forgestamp/internal/version"
)

const (
	// defaultReleaseListLimit applies when the query omits a limit.
	defaultReleaseListLimit = 20
	// maxReleaseListLimit caps the history page size.
	maxReleaseListLimit = 50
)

// writeJSON serializes data with the proper content type.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Logger().Errorf("Failed to encode JSON response: %s", err)
	}
}

// writeError sends a uniform error body.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	})
}

// handleHealth returns the server health status and its release version.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Short(),
	})
}

// handleLatestRelease returns the most recently published release.
func (s *Server) handleLatestRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := s.service.LatestRelease(r.Context())
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "no release has been published yet")

			return
		}

		logger.Errorf(r.Context(), "Failed to load latest release: %s", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load latest release")

		return
	}

	s.writeJSON(w, http.StatusOK, NewReleasePayload(rel))
}

// handleListReleases returns the release history, newest first.
func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	limit := defaultReleaseListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = min(parsed, maxReleaseListLimit)
	}

	releases, err := s.service.ListReleases(r.Context(), limit)
	if err != nil {
		logger.Errorf(r.Context(), "Failed to list releases: %s", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list releases")

		return
	}

	payload := ReleasesResponse{
		Releases: make([]ReleasePayload, 0, len(releases)),
		Total:    len(releases),
	}
	for _, rel := range releases {
		payload.Releases = append(payload.Releases, NewReleasePayload(rel))
	}

	s.writeJSON(w, http.StatusOK, payload)
}

// handlePublishRelease records a new release as the latest one.
func (s *Server) handlePublishRelease(w http.ResponseWriter, r *http.Request) {
	var req PublishReleaseRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.ReleaseVersion == "" {
		s.writeError(w, http.StatusBadRequest, "release version is required")

		return
	}

	if req.Actor == nil {
		s.writeError(w, http.StatusBadRequest, "actor is required")

		return
	}

	stamp := domain.Stamp{
		ReleaseVersion: req.ReleaseVersion,
		GitCommit:      req.GitCommit,
		RuntimeVersion: req.RuntimeVersion,
		ShimVersion:    req.ShimVersion,
	}

	rel, err := s.service.PublishRelease(r.Context(), req.Actor.ToDomain(), stamp, req.Checksums)
	if err != nil {
		logger.Errorf(r.Context(), "Failed to publish release: %s", err)
		s.writeError(w, http.StatusInternalServerError, "failed to publish release")

		return
	}

	releasesPublished.Inc()
	s.writeJSON(w, http.StatusCreated, NewReleasePayload(rel))
}

// handleRecordCheckIn stores an agent report and tells the agent whether a
// newer release is available.
func (s *Server) handleRecordCheckIn(w http.ResponseWriter, r *http.Request) {
	var req CheckInRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.MachineID == "" {
		s.writeError(w, http.StatusBadRequest, "machine id is required")

		return
	}

	stored, latest, err := s.service.RecordCheckIn(r.Context(), req.ToDomain())
	if err != nil {
		logger.Errorf(r.Context(), "Failed to record check-in: %s", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record check-in")

		return
	}

	resp := CheckInResponse{
		CheckIn:         NewCheckInPayload(stored),
		UpdateAvailable: stored.Stale,
	}
	if latest != nil {
		resp.LatestReleaseVersion = latest.ReleaseVersion
	}

	checkInsRecorded.Inc()
	s.writeJSON(w, http.StatusOK, resp)
}

// handleListAgents returns the fleet inventory with computed staleness.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.service.ListAgents(r.Context())
	if err != nil {
		logger.Errorf(r.Context(), "Failed to list agents: %s", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list agents")

		return
	}

	payload := AgentsResponse{
		Agents: make([]CheckInPayload, 0, len(agents)),
		Total:  len(agents),
	}

	stale := 0

	for _, agent := range agents {
		if agent.Stale {
			stale++
		}

		payload.Agents = append(payload.Agents, NewCheckInPayload(agent))
	}

	updateFleetGauges(len(agents), stale)
	s.writeJSON(w, http.StatusOK, payload)
}

// decodeBody parses a JSON request body, bounding its size. It reports the
// error itself and returns false when decoding fails.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")

		return false
	}

	return true
}
