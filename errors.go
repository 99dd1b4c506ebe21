package alwaysoffline

import "errors"

var (
	// ErrNoResponse is the result of a fetch event that settled without a response,
	// e.g. a navigation whose offline document is not stored.
	ErrNoResponse = errors.New("no response available")

	// ErrNotActive is returned when a worker that is not the active one tries to claim clients.
	ErrNotActive = errors.New("worker is not active")

	// ErrBadStatus is returned when a manifest asset responds with a non-ok status.
	ErrBadStatus = errors.New("response status is not ok")

	// ErrCrossOrigin is returned when a manifest asset is cross-origin without CORS approval.
	ErrCrossOrigin = errors.New("cross-origin response without CORS approval")

	// ErrDuplicateAsset is returned when the manifest lists the same request twice.
	ErrDuplicateAsset = errors.New("duplicate manifest entry")

	// ErrInvalidManifest is returned for manifests that cannot be registered.
	ErrInvalidManifest = errors.New("invalid manifest")
)
