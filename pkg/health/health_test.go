package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStarting, "starting"},
		{StateHealthy, "healthy"},
		{StateUnavailable, "unavailable"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestHandlerHealthy(t *testing.T) {
	h := Handler(func() Status {
		return Status{
			State:             StateHealthy,
			MountedContainers: 2,
			OpenHandles:       1,
			StartedAt:         time.Now().Add(-time.Minute),
		}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}

	var status struct {
		State             string `json:"state"`
		MountedContainers int    `json:"mounted_containers"`
		UptimeSeconds     int64  `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.State != "healthy" {
		t.Errorf("state = %q", status.State)
	}
	if status.MountedContainers != 2 {
		t.Errorf("mounted = %d", status.MountedContainers)
	}
	if status.UptimeSeconds < 59 {
		t.Errorf("uptime = %d", status.UptimeSeconds)
	}
}

func TestHandlerUnavailable(t *testing.T) {
	h := Handler(func() Status {
		return Status{State: StateUnavailable, StartedAt: time.Now()}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != 503 {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
