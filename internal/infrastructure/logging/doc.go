// Package logging provides structured logging for the TiVo remote bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the bridge.
//
// # Features
//
//   - Text output by default, JSON for log shippers
//   - Default fields (service, version) on all log entries
//   - Per-device loggers carrying device_id and generation
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error (also -v on the command line)
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	devLog := logger.Device("746000190000001", gen)
//	devLog.Info("device present")
//
// Never log broker passwords or InfluxDB tokens.
package logging
