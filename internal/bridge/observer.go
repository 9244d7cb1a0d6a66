package bridge

import (
	"time"

	"github.com/nerrad567/tivoremote-bridge/internal/infrastructure/mqtt"
)

// Presence describes one live device generation.
type Presence struct {
	DeviceID   string    `json:"id"`
	Name       string    `json:"name"`
	Generation string    `json:"generation"`
	Since      time.Time `json:"since"`
}

// Reasons passed to Observer.GenerationEnded.
const (
	EndReasonLost     = "lost"
	EndReasonShutdown = "shutdown"
)

// Observer receives lifecycle and traffic notifications.
//
// Calls are made synchronously from per-device goroutines and must not block.
// Implementations must be safe for concurrent use.
type Observer interface {
	GenerationStarted(p Presence)
	GenerationEnded(p Presence, reason string)
	Published(deviceID string, suffix mqtt.Suffix, payload []byte, err error)
	CommandDispatched(deviceID string, suffix mqtt.Suffix, err error)

	// BrokerConnection reports a device's bus connection going up or down.
	// It is called from the transport's callback goroutines.
	BrokerConnection(deviceID string, connected bool)
}

// NopObserver ignores everything. Embed it to implement only some hooks.
type NopObserver struct{}

func (NopObserver) GenerationStarted(Presence)                   {}
func (NopObserver) GenerationEnded(Presence, string)             {}
func (NopObserver) Published(string, mqtt.Suffix, []byte, error) {}
func (NopObserver) CommandDispatched(string, mqtt.Suffix, error) {}
func (NopObserver) BrokerConnection(string, bool)                {}

// Observers fans every call out to each element in order.
type Observers []Observer

func (o Observers) GenerationStarted(p Presence) {
	for _, obs := range o {
		obs.GenerationStarted(p)
	}
}

func (o Observers) GenerationEnded(p Presence, reason string) {
	for _, obs := range o {
		obs.GenerationEnded(p, reason)
	}
}

func (o Observers) Published(deviceID string, suffix mqtt.Suffix, payload []byte, err error) {
	for _, obs := range o {
		obs.Published(deviceID, suffix, payload, err)
	}
}

func (o Observers) CommandDispatched(deviceID string, suffix mqtt.Suffix, err error) {
	for _, obs := range o {
		obs.CommandDispatched(deviceID, suffix, err)
	}
}

func (o Observers) BrokerConnection(deviceID string, connected bool) {
	for _, obs := range o {
		obs.BrokerConnection(deviceID, connected)
	}
}
