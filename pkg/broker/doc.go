// Package broker ties identity, role resolution, the credential cache, and
// the upstream platform client together into the embed access flow.
//
// A request's group memberships resolve to data-access roles, the roles form
// a cache key, and the cache either serves a fresh credential or drives a
// retried upstream acquisition. Transient upstream failures are retried with
// exponential backoff; permission and not-found failures are not.
package broker
