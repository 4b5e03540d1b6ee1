package config

import "dario.cat/mergo"

// mergeOverrides merges a YAML-decoded partial Snapshot onto base,
// letting any non-zero field in override win. Mirrors the teacher's use of
// dario.cat/mergo for merging user YAML over built-in defaults
// (pkg/config/loader.go's queue-config merge), generalized from a single
// struct to the whole Snapshot.
func mergeOverrides(base *Snapshot, override *Snapshot) error {
	return mergo.Merge(base, override, mergo.WithOverride)
}
