// Package config loads, normalizes, and validates archivist configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the ARCHIVIST_ARCHIVE_DIR
// environment fallback. JSONPath expressions used for source ID extraction are
// parsed during validation so a typo surfaces at startup rather than as a
// silent fallback to hashing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
