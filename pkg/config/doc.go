// Package config loads control plane settings from a YAML file and
// CORDON_-prefixed environment variables, env winning over file.
package config
