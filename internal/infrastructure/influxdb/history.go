package influxdb

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// Measurement names written by History.
const (
	MeasurementStatus   = "tivo_status"
	MeasurementPresence = "tivo_presence"
)

// History is a bridge.Observer that records every published status message
// and every generation boundary as InfluxDB points.
//
// Points are tagged with device_id and, for status, the topic suffix. Failed
// publishes are not recorded.
type History struct {
	bridge.NopObserver

	client *Client
	now    func() time.Time
}

// NewHistory wraps a connected client.
func NewHistory(client *Client) *History {
	return &History{client: client, now: time.Now}
}

// GenerationStarted records present=1.
func (h *History) GenerationStarted(p bridge.Presence) {
	h.client.WritePoint(MeasurementPresence,
		map[string]string{"device_id": p.DeviceID},
		map[string]any{"present": 1, "generation": p.Generation, "name": p.Name},
		p.Since,
	)
}

// GenerationEnded records present=0.
func (h *History) GenerationEnded(p bridge.Presence, reason string) {
	h.client.WritePoint(MeasurementPresence,
		map[string]string{"device_id": p.DeviceID},
		map[string]any{"present": 0, "generation": p.Generation, "reason": reason},
		h.now(),
	)
}

// Published records one status message.
func (h *History) Published(deviceID string, suffix mqtt.Suffix, payload []byte, err error) {
	if err != nil {
		return
	}
	fields := statusFields(suffix, payload)
	if fields == nil {
		return
	}
	h.client.WritePoint(MeasurementStatus,
		map[string]string{"device_id": deviceID, "topic": string(suffix)},
		fields,
		h.now(),
	)
}

// statusFields maps a status payload to typed fields.
func statusFields(suffix mqtt.Suffix, payload []byte) map[string]any {
	switch suffix {
	case mqtt.SuffixConnected:
		state, err := strconv.Atoi(string(payload))
		if err != nil {
			return nil
		}
		return map[string]any{"connected": state}
	case mqtt.SuffixStatusLiveTVReady:
		ready, err := strconv.ParseBool(string(payload))
		if err != nil {
			return nil
		}
		return map[string]any{"ready": ready}
	case mqtt.SuffixStatusError:
		return map[string]any{"reason": string(payload)}
	case mqtt.SuffixStatusChannel:
		var ch struct {
			Channel    int    `json:"channel"`
			Subchannel int    `json:"subchannel"`
			Reason     string `json:"reason"`
		}
		if json.Unmarshal(payload, &ch) != nil {
			return nil
		}
		return map[string]any{"channel": ch.Channel, "subchannel": ch.Subchannel, "reason": ch.Reason}
	}
	return nil
}
