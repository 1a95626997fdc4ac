package addrcache

import "errors"

// Domain errors for the address cache.
//
// Refresh failures are soft by design: the caller logs them and continues
// with the previously known addresses. Use errors.Is() to distinguish them.
var (
	// ErrScanNotConfigured is returned by Refresh when no scan script is set.
	ErrScanNotConfigured = errors.New("addrcache: scan script not configured")

	// ErrScanFailed is returned when the scan script cannot be run or
	// exits non-zero.
	ErrScanFailed = errors.New("addrcache: scan script failed")

	// ErrScanOutput is returned when the scan script's stdout is not a
	// YAML mapping of ip: mac.
	ErrScanOutput = errors.New("addrcache: unparsable scan output")

	// ErrCacheFile is returned when the persisted cache file cannot be
	// read or parsed.
	ErrCacheFile = errors.New("addrcache: cache file unreadable")

	// ErrPersist is returned when writing the cache file back fails.
	ErrPersist = errors.New("addrcache: persisting cache failed")
)
