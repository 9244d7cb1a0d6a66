// Package influxdb records the bridge's status history in InfluxDB v2.
//
// History is plugged into the bridge as an Observer. Every successfully
// published status message becomes a tivo_status point, and every device
// generation start and end becomes a tivo_presence point:
//
//	tivo_status,device_id=746000190000001,topic=status/channel channel=5i,subchannel=0i,reason="local"
//	tivo_presence,device_id=746000190000001 present=0i,generation="…",reason="lost"
//
// Writes are batched and non-blocking. The sink is optional (influxdb.enabled).
package influxdb
