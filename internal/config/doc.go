// Package config loads and validates the daemon's startup configuration.
package config
