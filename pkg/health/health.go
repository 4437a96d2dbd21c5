// Package health reports liveness for a containerfs instance over
// HTTP, for probes sitting next to the metrics endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// State represents the overall health of the daemon.
type State int

const (
	// StateStarting indicates the daemon is up but the filesystem is
	// not yet mounted.
	StateStarting State = iota

	// StateHealthy indicates the filesystem is mounted and serving.
	StateHealthy

	// StateUnavailable indicates the filesystem mount is gone.
	StateUnavailable
)

// String returns the string representation of a health state.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Status is one health snapshot.
type Status struct {
	State             State     `json:"state"`
	MountedContainers int       `json:"mounted_containers"`
	OpenHandles       int       `json:"open_handles"`
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
}

// Reporter produces the current status on demand.
type Reporter func() Status

// Handler serves JSON health snapshots. Unavailable reports 503 so
// orchestrators restart the instance; starting reports 200 to survive
// slow startup mounts.
func Handler(report Reporter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := report()
		status.UptimeSeconds = int64(time.Since(status.StartedAt).Seconds())

		w.Header().Set("Content-Type", "application/json")
		if status.State == StateUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			// Headers are gone already; nothing useful left to do.
			return
		}
	})
}
