// Package config loads, normalizes, and validates quizsync configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CANVAS_TOKEN (including values from a local .env file). The Config type
// centralizes every knob the CLI needs, so ledger directories and LMS
// credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
