// Package api serves the bridge's read-only HTTP status endpoints.
//
//	GET /health               dependency checks (mqtt, database, influxdb)
//	GET /metrics              Prometheus exposition
//	GET /api/v1/devices       devices currently present
//	GET /api/v1/devices/{id}  one present device
//	GET /api/v1/events        lifecycle audit log (device_id, event, limit, offset)
//
// The server is optional (metrics.enabled) and never changes bridge state.
//
//	srv, err := api.New(api.Deps{Addr: cfg.MetricsAddr(), Logger: logger, Devices: manager})
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Close()
package api
