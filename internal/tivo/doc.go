// Package tivo is a client for the TiVo DVR TCP remote-control protocol.
//
// The DVR listens on port 31339 and accepts CR-terminated command lines:
//
//	IRCODE SELECT
//	KEYBOARD A
//	TELEPORT LIVETV
//	SETCH 5 2
//	FORCECH 5
//
// It answers asynchronously with status lines (CH_STATUS, CH_FAILED,
// LIVETV_READY, INVALID_COMMAND, MISSING_TELEPORT_NAME), which a Device
// turns into the error, live-TV-ready and channel-change event streams
// consumed by the bridge.
//
// Usage:
//
//	dev, err := tivo.Dial(ctx, tivo.Config{
//	    ID:      "746000190000001",
//	    Name:    "Lounge",
//	    Address: "192.168.1.40:31339",
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	err = dev.SendIRCode(ctx, "GUIDE")
package tivo
