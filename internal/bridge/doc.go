// Package bridge connects discovered DVRs to the MQTT bus.
//
// For every device that is present the bridge runs one generation: a
// dedicated bus connection, an outgoing status pipeline and an incoming
// command pipeline, all bounded by one cancellation.
//
// # Components
//
//   - Pool: one cached connection per device id, each with a retained
//     last will of connected=0
//   - Composer: merges the device's error, live-TV-ready and channel-change
//     events (plus synthetic readiness events) into one record stream
//   - Dispatcher: maps the five set/... command topics onto device calls
//   - Registry: at most one active generation per device id
//   - Manager: found/lost handling, teardown and shutdown
//
// # Topics
//
//	<bridge>:<id>/connected            "0" | "1" | "2" (retained)
//	<bridge>:<id>/status/error         reason text (retained)
//	<bridge>:<id>/status/livetv_ready  "true" | "false" (retained)
//	<bridge>:<id>/status/channel       {"channel":5,"subchannel":0,"reason":"user"} (retained)
//	<bridge>:<id>/set/ircode           IR code name
//	<bridge>:<id>/set/keyboard         keyboard code
//	<bridge>:<id>/set/teleport         TIVO | LIVETV | GUIDE | NOWPLAYING
//	<bridge>:<id>/set/channel          {"channel":12,"subchannel":1}
//	<bridge>:<id>/set/forcedChannel    same, cancels a recording if needed
//
// # Lifecycle
//
// Found publishes connected=2 before any other status. Lost cancels the
// generation, waits for its loops, unsubscribes and publishes connected=1
// as the final message. An unclean exit leaves the broker to publish the
// last will. Stop skips connected=1 and publishes connected=0 on every
// pooled connection instead.
//
// # Usage
//
//	pool := bridge.NewPool(topics, 2, bridge.MQTTDialer(cfg.MQTT, cfg.Bridge.Name, log))
//	mgr := bridge.NewManager(bridge.ManagerOptions{Topics: topics, QoS: 2, Pool: pool, Logger: log})
//	defer mgr.Stop(ctx)
//
//	mgr.Found(dev)
//	mgr.Lost(dev.ID())
package bridge
