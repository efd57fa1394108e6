package fabric

import "errors"

var (
	// ErrUpstreamUnavailable indicates a transient network or 5xx failure
	// talking to the reporting platform. Safe to retry with backoff.
	ErrUpstreamUnavailable = errors.New("reporting platform unavailable")

	// ErrInsufficientPermissions indicates the service principal itself
	// lacks rights on the target resource. This is a deployment
	// configuration problem, not a per-user authorization failure, and is
	// surfaced distinctly so operators can tell the two apart.
	ErrInsufficientPermissions = errors.New("service principal lacks permission on the target resource")

	// ErrResourceNotFound indicates the report or dataset does not exist
	// or was deleted. Not retried.
	ErrResourceNotFound = errors.New("report or dataset not found")
)
