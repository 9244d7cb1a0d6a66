// Package mqtt provides MQTT connectivity and topic naming for the TiVo remote bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and connect-retry
//   - Message publishing with QoS guarantees, queued while offline
//   - Topic subscriptions, re-applied on every reconnect
//   - Last Will and Testament (LWT) for unclean-exit detection
//   - The device topic scheme <bridge>:<device-id>/<suffix>
//
// # Architecture
//
// The bridge opens one connection per DVR so that each device gets its own
// last will on its own connected topic:
//
//	DVR ↔ bridge ↔ MQTT Broker ↔ home automation
//
// # Broker URLs
//
// mqtt:// and tcp:// map to plain TCP, mqtts:// and tls:// to TLS, ws:// and
// wss:// to websockets (path kept). Userinfo in the URL is used for
// authentication unless credentials are configured explicitly.
//
// # Usage
//
//	topics := mqtt.Topics{Bridge: "tivoremote"}
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Options{
//	    ClientID: "tivoremote-abc123",
//	    Will: &mqtt.Will{Topic: topics.Connected(id), Payload: mqtt.ConnectedNone, QoS: 2, Retained: true},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Publish(ctx, topics.Connected(id), []byte(mqtt.ConnectedDevice), 2, true)
package mqtt
