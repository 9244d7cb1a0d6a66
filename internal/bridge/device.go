package bridge

import "context"

// TeleportLiveTV is the teleport target that drops the DVR into live TV.
// Matched case-insensitively.
const TeleportLiveTV = "LIVETV"

// Device is a discovered DVR as seen by the bridge.
//
// The discovery side owns the device. The bridge holds it only while the
// device is present and never closes it.
//
// Operations forward their argument to the device unchecked. Failures are
// reported on the Errors stream; the returned error exists for logging only.
//
// Event channels may be closed by the device when its connection ends.
type Device interface {
	ID() string
	Name() string

	SendIRCode(ctx context.Context, code string) error
	SendKeyboardCode(ctx context.Context, code string) error
	Teleport(ctx context.Context, target string) error
	SetChannel(ctx context.Context, req ChannelRequest, forced bool) error

	Errors() <-chan ErrorEvent
	LiveTVReady() <-chan LiveTVReadyEvent
	ChannelChanges() <-chan ChannelChangeEvent
}

// ErrorEvent is a failure reported by the device.
type ErrorEvent struct {
	Reason string
}

// LiveTVReadyEvent reports whether live TV is ready after a teleport.
type LiveTVReadyEvent struct {
	Ready bool
}

// ChannelChangeEvent reports the result of a channel change.
type ChannelChangeEvent struct {
	Channel    int
	Subchannel int
	Reason     string
	Success    bool
}

// ChannelRequest is the payload of set/channel and set/forcedChannel.
type ChannelRequest struct {
	Channel    int `json:"channel"`
	Subchannel int `json:"subchannel"`
}
