// Package config loads node configuration from YAML.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file, then command-line overrides applied by the caller. Durations are
// written as Go duration strings:
//
//	p2p:
//	  public_ip: 203.0.113.7
//	  listen_ip: 0.0.0.0
//	  listen_port: 30300
//	  static_nodes:
//	    - 10.0.0.2:30300
//	session:
//	  ping_interval: 15s
//	  liveness_window: 60s
//	log:
//	  level: info
//	  file: logs/node.log
//
// Malformed static node entries are skipped with a warning instead of
// failing the whole file.
package config
