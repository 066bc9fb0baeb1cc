// Package config defines the settings shared by update-worker and update-ctl
// and provides helpers to load, validate and save them in YAML format.
//
// Validate fills defaults, so a loaded Config is always complete. The working
// root is resolved separately by WorkingRoot because it depends on the runtime
// environment rather than on the file.
package config
