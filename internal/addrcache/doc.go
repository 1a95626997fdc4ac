// Package addrcache maintains the persistent MAC→IP address cache used to
// locate devices during provisioning.
//
// The cache is a YAML file mapping lowercase MAC addresses to IP addresses.
// Refresh shells out to an external scan script whose stdout is a YAML
// mapping of ip: mac, inverts it, and merges the result additively into
// the existing cache before persisting it atomically. Scan failures are
// soft: the previous cache always survives a failed refresh.
//
// Cached values may be purely numeric, in which case Lookup expands them
// with the configured network prefix ("47" → "192.168.0.47").
package addrcache
