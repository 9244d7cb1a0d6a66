package mqtt

import "strings"

// Suffix is the last part of a device topic. The set is closed; the
// constants below are the only values the bridge publishes or subscribes.
type Suffix string

// Published status suffixes.
const (
	// SuffixConnected carries "0", "1" or "2" (see ConnectedState).
	SuffixConnected Suffix = "connected"

	// SuffixStatusError carries the device's error reason text.
	SuffixStatusError Suffix = "status/error"

	// SuffixStatusLiveTVReady carries "true" or "false".
	SuffixStatusLiveTVReady Suffix = "status/livetv_ready"

	// SuffixStatusChannel carries JSON {channel, subchannel, reason}.
	SuffixStatusChannel Suffix = "status/channel"
)

// Subscribed command suffixes.
const (
	SuffixSetIRCode        Suffix = "set/ircode"
	SuffixSetKeyboard      Suffix = "set/keyboard"
	SuffixSetTeleport      Suffix = "set/teleport"
	SuffixSetChannel       Suffix = "set/channel"
	SuffixSetForcedChannel Suffix = "set/forcedChannel"
)

// CommandSuffixes lists every command topic a device subscribes to.
var CommandSuffixes = [...]Suffix{
	SuffixSetIRCode,
	SuffixSetKeyboard,
	SuffixSetTeleport,
	SuffixSetChannel,
	SuffixSetForcedChannel,
}

// Values published on the connected topic.
const (
	// ConnectedNone means the bridge lost the broker connection (last will or shutdown).
	ConnectedNone = "0"

	// ConnectedBus means the bridge is on the bus but the device is gone.
	ConnectedBus = "1"

	// ConnectedDevice means the bridge is on the bus and talking to the device.
	ConnectedDevice = "2"
)

// Topic builds <bridgeName>:<deviceID>/<suffix>.
//
// Arguments are not validated. Callers pass one of the Suffix constants.
func Topic(bridgeName, deviceID string, suffix Suffix) string {
	return bridgeName + ":" + deviceID + "/" + string(suffix)
}

// Topics provides builders for one bridge's topics.
//
//	topics := mqtt.Topics{Bridge: "tivoremote"}
//	topics.Connected("746000190000001")
//	// Returns: "tivoremote:746000190000001/connected"
type Topics struct {
	Bridge string
}

// Device returns the topic for deviceID and suffix.
func (t Topics) Device(deviceID string, suffix Suffix) string {
	return Topic(t.Bridge, deviceID, suffix)
}

// Connected returns the connected status topic, which is also the last-will topic.
func (t Topics) Connected(deviceID string) string {
	return Topic(t.Bridge, deviceID, SuffixConnected)
}

// Commands returns the five command topics for deviceID, in CommandSuffixes order.
func (t Topics) Commands(deviceID string) []string {
	topics := make([]string, len(CommandSuffixes))
	for i, s := range CommandSuffixes {
		topics[i] = Topic(t.Bridge, deviceID, s)
	}
	return topics
}

// CommandSuffix maps a received topic back to its command suffix.
// It reports false for topics of another device or unknown suffixes.
func (t Topics) CommandSuffix(deviceID, topic string) (Suffix, bool) {
	prefix := t.Bridge + ":" + deviceID + "/"
	rest, ok := strings.CutPrefix(topic, prefix)
	if !ok {
		return "", false
	}
	for _, s := range CommandSuffixes {
		if rest == string(s) {
			return s, true
		}
	}
	return "", false
}
