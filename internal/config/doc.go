// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every section is optional; LoadWithDefaults fills in the reference behavior
// (loopback listener on 8080, stats every 100 probes, no database).
package config
