// Package config handles loading and validating TiVo remote bridge configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with TIVOREMOTE_* environment variables
//   - Overriding with command-line flags (-b, -n, -v)
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	flags, err := config.ParseFlags("tivoremote", os.Args[1:])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg, err := config.LoadWithFlags(flags)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Bridge.Name)
package config
