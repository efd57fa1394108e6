// Package roles maps directory group memberships to data-access roles and
// role names to permission sets.
//
// Both tables are static configuration: they are loaded once at process
// start (from the built-in defaults or a YAML file), validated for
// totality, and never mutated. Resolution is pure and deterministic so the
// same identity always derives the same credential cache key.
package roles
