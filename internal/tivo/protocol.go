package tivo

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/tivoremote-bridge/internal/bridge"
)

// Command verbs of the TCP remote protocol.
const (
	verbIRCode   = "IRCODE"
	verbKeyboard = "KEYBOARD"
	verbTeleport = "TELEPORT"
	verbSetCh    = "SETCH"
	verbForceCh  = "FORCECH"
)

// Response keywords sent by the DVR.
const (
	respChannelStatus   = "CH_STATUS"
	respChannelFailed   = "CH_FAILED"
	respLiveTVReady     = "LIVETV_READY"
	respInvalidCommand  = "INVALID_COMMAND"
	respMissingTeleport = "MISSING_TELEPORT_NAME"
)

// encodeCommand formats one CR-terminated command line.
func encodeCommand(verb, arg string) []byte {
	if arg == "" {
		return []byte(verb + "\r")
	}
	return []byte(verb + " " + arg + "\r")
}

// encodeChannel formats SETCH/FORCECH. Subchannel 0 is omitted.
func encodeChannel(req bridge.ChannelRequest, forced bool) []byte {
	verb := verbSetCh
	if forced {
		verb = verbForceCh
	}
	arg := strconv.Itoa(req.Channel)
	if req.Subchannel > 0 {
		arg += " " + strconv.Itoa(req.Subchannel)
	}
	return encodeCommand(verb, arg)
}

// response is one parsed line from the DVR.
type response struct {
	kind    string
	channel bridge.ChannelChangeEvent
	reason  string
}

// parseResponse parses a response line (terminator already stripped).
//
//	CH_STATUS 0005 LOCAL
//	CH_STATUS 0005 0002 REMOTE
//	CH_FAILED NO_LIVE
//	LIVETV_READY
//	INVALID_COMMAND
//	MISSING_TELEPORT_NAME
func parseResponse(line string) (response, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return response{}, fmt.Errorf("empty response")
	}

	switch fields[0] {
	case respChannelStatus:
		if len(fields) < 3 {
			return response{}, fmt.Errorf("short %s: %q", respChannelStatus, line)
		}
		ch, err := strconv.Atoi(fields[1])
		if err != nil {
			return response{}, fmt.Errorf("bad channel in %q: %w", line, err)
		}
		ev := bridge.ChannelChangeEvent{Channel: ch, Success: true}
		rest := fields[2:]
		if len(rest) > 1 {
			if sub, err := strconv.Atoi(rest[0]); err == nil {
				ev.Subchannel = sub
				rest = rest[1:]
			}
		}
		ev.Reason = strings.ToLower(strings.Join(rest, " "))
		return response{kind: respChannelStatus, channel: ev}, nil

	case respChannelFailed:
		reason := strings.Join(fields[1:], " ")
		return response{kind: respChannelFailed, reason: reason}, nil

	case respLiveTVReady, respInvalidCommand, respMissingTeleport:
		return response{kind: fields[0], reason: fields[0]}, nil
	}

	return response{kind: fields[0], reason: line}, nil
}

// scanLines splits on CR, LF or CRLF.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		j := i + 1
		if data[i] == '\r' && j < len(data) && data[j] == '\n' {
			j++
		}
		return j, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
