// Package inventory reads the authoritative device list from the admin
// backend's SQLite store and exposes it as typed, read-only records.
//
// The admin backend (home/level/room/device CRUD) owns the store; this
// package only consumes the flat `devices` provisioning view, once per run,
// as a snapshot. The records carry everything the provisioning handlers
// need: identity (MAC), state vocabulary, location slugs, role, firmware
// family and the per-family extras (interlock, mode, target, HA device
// class).
//
// Records lacking a MAC cannot be provisioned; validation surfaces that as
// ErrMissingMAC instead of letting missing-field access become control flow.
package inventory
