// Package embedcache caches short-lived embed credentials keyed by report,
// dataset, and role scope.
//
// Concurrent requests for the same key coalesce onto a single upstream
// acquisition; every waiter receives the shared result or the shared error.
// Failures are never cached. Credentials stop being served a configurable
// buffer before their expiry, so callers always hold a token with useful
// remaining lifetime.
//
// Eviction is lazy on lookup, with a cron-driven Janitor sweeping keys that
// are no longer requested.
package embedcache
