package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/infrastructure/mqtt"
	"github.com/in-res/domoprov/internal/inventory"
	"github.com/in-res/domoprov/internal/naming"
)

// bridgeWaitTimeout bounds the wait for a retained bridge message.
const bridgeWaitTimeout = 5 * time.Second

// Bus is the MQTT surface the Zigbee handler needs. *mqtt.Client
// satisfies it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// zigbeeEntry is one device block in the bridge's devices document.
type zigbeeEntry struct {
	FriendlyName  string   `yaml:"friendly_name"`
	HomeAssistant zigbeeHA `yaml:"homeassistant"`
}

type zigbeeHA struct {
	Name        string         `yaml:"name"`
	Device      zigbeeHADevice `yaml:"device"`
	DeviceClass string         `yaml:"device_class,omitempty"`
}

type zigbeeHADevice struct {
	SuggestedArea string `yaml:"suggested_area"`
}

// bridgeDevice is the subset of the bridge's device announcement used to
// detect stale friendly names.
type bridgeDevice struct {
	IEEEAddress  string `json:"ieee_address"`
	FriendlyName string `json:"friendly_name"`
	Type         string `json:"type"`
}

// ZigbeeHandler provisions Zigbee end devices through the zigbee2mqtt
// bridge: it accumulates device blocks during the run and pushes the
// whole document to the bridge once in PostProcess.
type ZigbeeHandler struct {
	familyBase
	bus    Bus
	topics mqtt.Topics
	zigbee config.ZigbeeConfig

	// bridgeWait bounds each wait for a retained bridge message.
	// Zero means bridgeWaitTimeout.
	bridgeWait time.Duration

	mu            sync.Mutex
	devices       map[string]zigbeeEntry
	cleanupTopics []string

	bridgeOnce    sync.Once
	bridgeDevices map[string]string // ieee -> current friendly name
}

// NewZigbeeHandler creates the Zigbee handler. deps.Bus must be connected;
// Zigbee provisioning is pure MQTT and filesystem work.
func NewZigbeeHandler(cfg *config.Config, deps Dependencies) (*ZigbeeHandler, error) {
	if deps.Bus == nil {
		return nil, fmt.Errorf("%w: no MQTT connection", ErrBridgeUnavailable)
	}
	return &ZigbeeHandler{
		familyBase: familyBase{family: inventory.FirmwareZigbee, logger: deps.Logger},
		bus:        deps.Bus,
		zigbee:     cfg.Zigbee,
		devices:    make(map[string]zigbeeEntry),
	}, nil
}

// IsLive checks the record carries a well-formed IEEE address. Zigbee end
// devices sleep most of the time, so there is nothing to probe; a record
// with a valid address is always eligible.
func (h *ZigbeeHandler) IsLive(_ context.Context, rec *inventory.DeviceRecord) (bool, error) {
	if !inventory.IsEUI64(rec.MAC) {
		h.logger.Warn("not an IEEE address, skipping",
			"mac", rec.MAC, "topic", rec.Descriptor().Topic())
		return false, nil
	}
	return true, nil
}

// Process accumulates the record's device block for the bridge document
// and queues a retained-state cleanup when the bridge currently knows the
// device under a different friendly name.
func (h *ZigbeeHandler) Process(ctx context.Context, rec *inventory.DeviceRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	desc := rec.Descriptor()
	friendly := strings.TrimPrefix(desc.Topic(), strings.ToLower(naming.TopicBase)+"/")

	entry := zigbeeEntry{
		FriendlyName: friendly,
		HomeAssistant: zigbeeHA{
			Name:        desc.DeviceName(),
			Device:      zigbeeHADevice{SuggestedArea: rec.Room},
			DeviceClass: strings.TrimSpace(rec.HADeviceClass),
		},
	}

	current := h.knownBridgeDevices(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices[rec.MAC] = entry
	if old, ok := current[rec.MAC]; ok && old != friendly {
		// The bridge retains state under the old friendly name; clear it
		// after the rename.
		h.cleanupTopics = append(h.cleanupTopics,
			strings.ToLower(naming.TopicBase)+"/"+old)
	}

	h.logger.Info("zigbee device staged", "ieee", rec.MAC, "friendly_name", friendly)
	return nil
}

// PostProcess writes the accumulated devices document, pushes it to the
// bridge host and restarts the bridge. It is a no-op when no device was
// staged during the run.
func (h *ZigbeeHandler) PostProcess(ctx context.Context) error {
	h.mu.Lock()
	devices := h.devices
	cleanup := h.cleanupTopics
	h.mu.Unlock()

	if len(devices) == 0 {
		return nil
	}

	if err := h.writeDevicesFile(devices); err != nil {
		return err
	}
	if err := h.pushToBridgeHost(ctx); err != nil {
		return err
	}

	for _, topic := range cleanup {
		if err := h.bus.PublishRetained(topic, nil); err != nil {
			h.logger.Warn("retained cleanup failed", "topic", topic, "error", err)
		}
	}

	if err := h.requireBridgeOnline(ctx); err != nil {
		return err
	}

	h.logger.Info("restarting bridge", "devices", len(devices))
	if err := h.bus.Publish(h.topics.BridgeRestart(), nil, 1, false); err != nil {
		return fmt.Errorf("%w: restart request: %w", ErrBridgeUnavailable, err)
	}
	return nil
}

// writeDevicesFile marshals the document and writes it atomically so the
// bridge never syncs a half-written file.
func (h *ZigbeeHandler) writeDevicesFile(devices map[string]zigbeeEntry) error {
	data, err := yaml.Marshal(devices)
	if err != nil {
		return fmt.Errorf("%w: marshal devices: %w", ErrBridgeUnavailable, err)
	}

	dir := filepath.Dir(h.zigbee.DevicesFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	if err := tmp.Chmod(0o640); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), h.zigbee.DevicesFile); err != nil {
		return fmt.Errorf("%w: %w", ErrBridgeUnavailable, err)
	}

	h.logger.Info("devices document written",
		"path", h.zigbee.DevicesFile, "devices", len(devices))
	return nil
}

// pushToBridgeHost copies the devices document to the bridge host over
// scp. An empty bridge host keeps the document local.
func (h *ZigbeeHandler) pushToBridgeHost(ctx context.Context) error {
	if h.zigbee.BridgeHost == "" {
		h.logger.Debug("no bridge host configured, keeping document local")
		return nil
	}

	dest := h.zigbee.BridgeHost + ":" + h.zigbee.BridgeConfigPath
	h.logger.Info("pushing devices document", "dest", dest)

	cmd := exec.CommandContext(ctx, "scp", "-q", h.zigbee.DevicesFile, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: scp to %s: %w: %s",
			ErrBridgeUnavailable, dest, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// requireBridgeOnline checks the bridge's retained availability topic.
func (h *ZigbeeHandler) requireBridgeOnline(ctx context.Context) error {
	payload, err := h.waitRetained(ctx, h.topics.BridgeState())
	if err != nil {
		return fmt.Errorf("%w: no state from bridge: %w", ErrBridgeUnavailable, err)
	}
	state := strings.TrimSpace(string(payload))
	if state != "online" {
		return fmt.Errorf("%w: bridge state %q", ErrBridgeUnavailable, state)
	}
	return nil
}

// knownBridgeDevices returns the bridge's current ieee -> friendly name
// map, fetched once per run from the retained device announcement. A
// missing or malformed announcement degrades to an empty map: cleanup is
// best effort, staging is not.
func (h *ZigbeeHandler) knownBridgeDevices(ctx context.Context) map[string]string {
	h.bridgeOnce.Do(func() {
		h.bridgeDevices = map[string]string{}

		payload, err := h.waitRetained(ctx, h.topics.BridgeDevices())
		if err != nil {
			h.logger.Debug("no device announcement from bridge", "error", err)
			return
		}

		var announced []bridgeDevice
		if err := json.Unmarshal(payload, &announced); err != nil {
			h.logger.Warn("malformed device announcement", "error", err)
			return
		}
		for _, d := range announced {
			if d.Type != "EndDevice" {
				continue
			}
			h.bridgeDevices[strings.ToLower(d.IEEEAddress)] = d.FriendlyName
		}
		h.logger.Debug("bridge device announcement loaded",
			"end_devices", len(h.bridgeDevices))
	})
	return h.bridgeDevices
}

// waitRetained subscribes to a topic and returns the first message,
// bounded by bridgeWaitTimeout. Retained messages arrive immediately
// after subscribing.
func (h *ZigbeeHandler) waitRetained(ctx context.Context, topic string) ([]byte, error) {
	msgs := make(chan []byte, 1)
	handler := func(_ string, payload []byte) error {
		select {
		case msgs <- payload:
		default:
		}
		return nil
	}

	if err := h.bus.Subscribe(topic, 1, handler); err != nil {
		return nil, err
	}
	defer func() {
		if err := h.bus.Unsubscribe(topic); err != nil {
			h.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}()

	wait := h.bridgeWait
	if wait == 0 {
		wait = bridgeWaitTimeout
	}
	select {
	case payload := <-msgs:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, fmt.Errorf("timeout waiting for %s", topic)
	}
}
