package provision

import (
	"errors"
	"testing"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/inventory"
)

func registryConfig(t *testing.T, firmwares ...string) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Provision.Firmwares = firmwares
	cfg.Provision.BackupDir = t.TempDir()
	cfg.Provision.RetryAttempts = 1
	return cfg
}

func TestNewHandlers(t *testing.T) {
	deps := Dependencies{
		Resolver: fakeResolver{},
		Prober:   &fakeProber{},
		Bus:      newFakeBus(),
	}

	handlers, err := NewHandlers(
		registryConfig(t, "tasmota", "wled", "zigbee"), deps)
	if err != nil {
		t.Fatalf("NewHandlers() error = %v", err)
	}
	if len(handlers) != 3 {
		t.Fatalf("handlers = %d, want 3", len(handlers))
	}

	want := []string{
		inventory.FirmwareTasmota,
		inventory.FirmwareWLED,
		inventory.FirmwareZigbee,
	}
	for i, h := range handlers {
		if h.Family() != want[i] {
			t.Errorf("handlers[%d].Family() = %q, want %q", i, h.Family(), want[i])
		}
	}
}

func TestNewHandlers_UnknownFirmware(t *testing.T) {
	_, err := NewHandlers(registryConfig(t, "tasmota", "espsomething"), Dependencies{})
	if !errors.Is(err, ErrUnknownFirmware) {
		t.Errorf("NewHandlers() error = %v, want ErrUnknownFirmware", err)
	}
}

func TestNewHandlers_ZigbeeNeedsBus(t *testing.T) {
	_, err := NewHandlers(registryConfig(t, "zigbee"), Dependencies{})
	if !errors.Is(err, ErrBridgeUnavailable) {
		t.Errorf("NewHandlers() error = %v, want ErrBridgeUnavailable", err)
	}
}
