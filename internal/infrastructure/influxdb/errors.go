package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates status history is disabled in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
