package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/in-res/domoprov/internal/inventory"
	"github.com/in-res/domoprov/internal/probe"
)

// Handler provisions devices of one firmware family.
//
// The runner drives the lifecycle: Matches filters inventory records,
// IsLive locates the device, Process pushes its configuration, and
// PostProcess runs once per handler after the whole batch.
type Handler interface {
	// Family returns the firmware family identifier ("tasmota", ...).
	Family() string

	// Matches reports whether this handler should attempt the record:
	// the firmware family matches and the device state is enabled.
	Matches(rec *inventory.DeviceRecord) bool

	// IsLive locates the device and reports whether it can be
	// provisioned right now. (false, nil) means the device is simply
	// not present (unresolved MAC, unjoined address) and should be
	// skipped; a non-nil error means it was expected to answer and
	// didn't.
	//
	// For network families IsLive annotates the record with its
	// resolved IP on success.
	IsLive(ctx context.Context, rec *inventory.DeviceRecord) (bool, error)

	// Process pushes the full configuration sequence to one device.
	Process(ctx context.Context, rec *inventory.DeviceRecord) error

	// PostProcess runs family-level finalisation after the batch
	// (bridge config push, restart requests). Called exactly once per
	// run, strictly after the device loop.
	PostProcess(ctx context.Context) error
}

// AddressResolver resolves a MAC address to an IP. Implemented by
// addrcache.Cache; tests substitute a map-backed fake.
type AddressResolver interface {
	Lookup(mac string) (string, bool)
}

// familyBase carries the family identity and the shared Matches logic.
type familyBase struct {
	family string
	logger Logger
}

func (b *familyBase) Family() string {
	return b.family
}

// Matches requires a case-insensitive family match and an enabled state.
// Disabled devices are the normal way to park hardware in the inventory,
// so a non-match here is routine, not an error.
func (b *familyBase) Matches(rec *inventory.DeviceRecord) bool {
	if !strings.EqualFold(rec.Firmware, b.family) {
		return false
	}
	if !rec.State.Enabled() {
		b.logger.Debug("device disabled, skipping",
			"mac", rec.MAC, "state", string(rec.State))
		return false
	}
	return true
}

// netBase extends familyBase with cache resolution and a liveness probe
// for families reached over IP (Tasmota, WLED).
type netBase struct {
	familyBase
	resolver AddressResolver
	prober   probe.Prober
}

// IsLive resolves the record's MAC through the address cache and pings
// the result.
//
// An unresolved MAC is a soft miss: the device may simply be powered off
// or not yet scanned, so the record is skipped without error. A resolved
// device that doesn't answer the probe is a hard failure — it was on the
// network recently and should be there.
func (b *netBase) IsLive(ctx context.Context, rec *inventory.DeviceRecord) (bool, error) {
	if rec.MAC == "" {
		return false, nil
	}

	ip, ok := b.resolver.Lookup(rec.MAC)
	if !ok {
		b.logger.Info("device not in address cache, skipping",
			"mac", rec.MAC, "family", b.family)
		return false, nil
	}
	rec.IP = ip

	if err := b.prober.Probe(ctx, ip); err != nil {
		return false, fmt.Errorf("%w: %s (%s): %w", ErrDeviceUnreachable, ip, rec.MAC, err)
	}

	b.logger.Info("device located",
		"mac", rec.MAC, "ip", ip, "topic", rec.Descriptor().Topic())
	return true, nil
}

// validateRecord runs the inventory-level checks and maps failures onto
// the provisioning validation sentinel.
func validateRecord(rec *inventory.DeviceRecord) error {
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}
