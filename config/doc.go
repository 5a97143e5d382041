// Package config handles loading and parsing of configuration from YAML
// files and environment variables. It defines the server list, strategy
// selection, health-check and probe settings, optional etcd discovery
// endpoints and logging options for the standalone balancer binary.
package config
