// Package config loads the client configuration from YAML.
//
// Durations use Go syntax ("300ms", "30s"). Fields left out keep the value
// from Default, so a file only needs to name what it changes:
//
//	relay:
//	  host: relay.example.net
//	  framing: line
//	broadcast:
//	  rate: 2
package config
