// Package config handles configuration loading for fleetgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FLEETGATE_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  idle_timeout: "60s"
//	  ping_interval: "20s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API and agent channels
//
// Database:
//
//	database:
//	  path: "/var/lib/fleetgate/fleet.db"
//
// Leaving database.path empty starts the gateway in setup mode: only
// the health and check-setup endpoints respond until a reload supplies
// a path.
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${FLEETGATE_JWT_SECRET}"
//
// Session timing:
//
//	session:
//	  idle_timeout: "60s"
//	  ping_interval: "20s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/fleetgate/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
