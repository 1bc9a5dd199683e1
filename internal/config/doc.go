// Package config loads, normalizes, and validates comfybatch configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file beside the config,
// and honours environment overrides such as COMFYUI_URL. Workflow definitions
// (v2v, t2i, and the composite t2i_then_v2v) are declared here and validated
// structurally; the planner turns them into runnable plans.
package config
