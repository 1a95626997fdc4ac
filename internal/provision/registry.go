package provision

import (
	"fmt"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/inventory"
	"github.com/in-res/domoprov/internal/probe"
)

// Dependencies carries the shared infrastructure handed to every handler
// constructor. Bus may be nil when the Zigbee family is not enabled.
type Dependencies struct {
	Resolver AddressResolver
	Prober   probe.Prober
	Bus      Bus
	Logger   Logger
}

// NewHandlers builds one handler per enabled firmware family, in the
// configured order. An unknown family name fails the whole run up front
// rather than silently skipping devices.
func NewHandlers(cfg *config.Config, deps Dependencies) ([]Handler, error) {
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	handlers := make([]Handler, 0, len(cfg.Provision.Firmwares))
	for _, firmware := range cfg.Provision.Firmwares {
		var (
			h   Handler
			err error
		)
		switch firmware {
		case inventory.FirmwareTasmota:
			h, err = NewTasmotaHandler(cfg, deps)
		case inventory.FirmwareWLED:
			h, err = NewWLEDHandler(cfg, deps)
		case inventory.FirmwareZigbee:
			h, err = NewZigbeeHandler(cfg, deps)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFirmware, firmware)
		}
		if err != nil {
			return nil, fmt.Errorf("handler for %q: %w", firmware, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
