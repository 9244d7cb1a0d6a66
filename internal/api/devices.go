package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tivoremote-bridge/internal/audit"
	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
)

// deviceList is the body of GET /api/v1/devices.
type deviceList struct {
	Devices []bridge.Presence `json:"devices"`
	Count   int               `json:"count"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	present := s.deps.Devices.Present()
	if present == nil {
		present = []bridge.Presence{}
	}
	writeJSON(w, http.StatusOK, deviceList{Devices: present, Count: len(present)})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, p := range s.deps.Devices.Present() {
		if p.DeviceID == id {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}
	writeNotFound(w, "device not present")
}

// handleListEvents serves the lifecycle audit log.
// Query: device_id, event, limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Kind:     q.Get("event"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	res, err := s.deps.Audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing lifecycle events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// healthReport is the body of GET /health.
type healthReport struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Devices       int               `json:"devices_present"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// handleHealth reports 200 when every dependency check passes, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status:        "ok",
		Version:       s.deps.Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Devices:       len(s.deps.Devices.Present()),
	}

	if len(s.deps.Checks) > 0 {
		report.Checks = make(map[string]string, len(s.deps.Checks))
		for name, hc := range s.deps.Checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := hc.HealthCheck(ctx)
			cancel()
			if err != nil {
				report.Checks[name] = err.Error()
				report.Status = "degraded"
				continue
			}
			report.Checks[name] = "ok"
		}
	}

	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}
