package provision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/infrastructure/mqtt"
	"github.com/in-res/domoprov/internal/inventory"
)

// fakeBus is an in-memory Bus. Subscribing to a topic with a retained
// payload delivers it immediately, like a real broker.
type fakeBus struct {
	mu        sync.Mutex
	retained  map[string][]byte
	published []fakeBusMessage
}

type fakeBusMessage struct {
	topic    string
	payload  []byte
	retained bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{retained: map[string][]byte{}}
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, fakeBusMessage{topic, payload, retained})
	if retained {
		b.retained[topic] = payload
	}
	return nil
}

func (b *fakeBus) PublishRetained(topic string, payload []byte) error {
	return b.Publish(topic, payload, 1, true)
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	payload, ok := b.retained[topic]
	b.mu.Unlock()
	if ok {
		return handler(topic, payload)
	}
	return nil
}

func (b *fakeBus) Unsubscribe(string) error { return nil }

func (b *fakeBus) publishedTo(topic string) []fakeBusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []fakeBusMessage
	for _, m := range b.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func newTestZigbeeHandler(t *testing.T, bus *fakeBus) *ZigbeeHandler {
	t.Helper()
	return &ZigbeeHandler{
		familyBase: familyBase{family: inventory.FirmwareZigbee, logger: noopLogger{}},
		bus:        bus,
		zigbee: config.ZigbeeConfig{
			DevicesFile: filepath.Join(t.TempDir(), "devices.yaml"),
		},
		bridgeWait: 10 * time.Millisecond,
		devices:    map[string]zigbeeEntry{},
	}
}

func zigbeeTestRecord() *inventory.DeviceRecord {
	rec := testRecord(inventory.FirmwareZigbee)
	rec.MAC = "0x00124b0025e19f5c"
	rec.Function = "sensor"
	rec.PositionSlug = "window"
	rec.Hostname = "sen-office-window"
	rec.HADeviceClass = "opening"
	return rec
}

func TestZigbeeHandler_IsLive(t *testing.T) {
	h := newTestZigbeeHandler(t, newFakeBus())

	tests := []struct {
		name string
		mac  string
		want bool
	}{
		{"well-formed IEEE address", "0x00124b0025e19f5c", true},
		{"uppercase hex digits", "0x00124B0025E19F5C", true},
		{"plain wifi MAC", "a4cf12b3c4d5", false},
		{"missing prefix", "00124b0025e19f5c", false},
		{"too short", "0x00124b0025e19f", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := zigbeeTestRecord()
			rec.MAC = tt.mac

			live, err := h.IsLive(context.Background(), rec)
			if err != nil {
				t.Fatalf("IsLive() error = %v", err)
			}
			if live != tt.want {
				t.Errorf("IsLive(%q) = %v, want %v", tt.mac, live, tt.want)
			}
		})
	}
}

func TestZigbeeHandler_Process(t *testing.T) {
	h := newTestZigbeeHandler(t, newFakeBus())
	rec := zigbeeTestRecord()

	if err := h.Process(context.Background(), rec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	entry, ok := h.devices["0x00124b0025e19f5c"]
	if !ok {
		t.Fatalf("device not staged, have %v", h.devices)
	}
	if entry.FriendlyName != "l0/office/sensor/window" {
		t.Errorf("friendly_name = %q", entry.FriendlyName)
	}
	if entry.HomeAssistant.Name != "Home > Lvl0 > Office > Sensor > Window" {
		t.Errorf("homeassistant.name = %q", entry.HomeAssistant.Name)
	}
	if entry.HomeAssistant.Device.SuggestedArea != "Office" {
		t.Errorf("suggested_area = %q", entry.HomeAssistant.Device.SuggestedArea)
	}
	if entry.HomeAssistant.DeviceClass != "opening" {
		t.Errorf("device_class = %q", entry.HomeAssistant.DeviceClass)
	}
}

func TestZigbeeHandler_ProcessQueuesRenameCleanup(t *testing.T) {
	bus := newFakeBus()
	bus.retained["home/bridge/devices"] = []byte(`[
		{"ieee_address":"0x00124b0025e19f5c","friendly_name":"l0/office/sensor/door","type":"EndDevice"},
		{"ieee_address":"0x00124b00deadbeef","friendly_name":"coordinator","type":"Coordinator"}
	]`)

	h := newTestZigbeeHandler(t, bus)
	if err := h.Process(context.Background(), zigbeeTestRecord()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(h.cleanupTopics) != 1 || h.cleanupTopics[0] != "home/l0/office/sensor/door" {
		t.Errorf("cleanupTopics = %v", h.cleanupTopics)
	}
}

func TestZigbeeHandler_PostProcess(t *testing.T) {
	t.Run("no staged devices is a no-op", func(t *testing.T) {
		bus := newFakeBus()
		h := newTestZigbeeHandler(t, bus)

		if err := h.PostProcess(context.Background()); err != nil {
			t.Fatalf("PostProcess() error = %v", err)
		}
		if len(bus.published) != 0 {
			t.Errorf("published = %v, want none", bus.published)
		}
		if _, err := os.Stat(h.zigbee.DevicesFile); !os.IsNotExist(err) {
			t.Error("devices file written with nothing staged")
		}
	})

	t.Run("writes document and restarts bridge", func(t *testing.T) {
		bus := newFakeBus()
		bus.retained["home/bridge/state"] = []byte("online")

		h := newTestZigbeeHandler(t, bus)
		if err := h.Process(context.Background(), zigbeeTestRecord()); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if err := h.PostProcess(context.Background()); err != nil {
			t.Fatalf("PostProcess() error = %v", err)
		}

		data, err := os.ReadFile(h.zigbee.DevicesFile)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		var doc map[string]zigbeeEntry
		if err := yaml.Unmarshal(data, &doc); err != nil {
			t.Fatalf("document not YAML: %v", err)
		}
		if doc["0x00124b0025e19f5c"].FriendlyName != "l0/office/sensor/window" {
			t.Errorf("document = %+v", doc)
		}

		if got := bus.publishedTo("home/bridge/request/restart"); len(got) != 1 {
			t.Errorf("restart publishes = %d, want 1", len(got))
		}
	})

	t.Run("bridge offline fails before restart", func(t *testing.T) {
		bus := newFakeBus()
		bus.retained["home/bridge/state"] = []byte("offline")

		h := newTestZigbeeHandler(t, bus)
		if err := h.Process(context.Background(), zigbeeTestRecord()); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		err := h.PostProcess(context.Background())
		if !errors.Is(err, ErrBridgeUnavailable) {
			t.Errorf("PostProcess() error = %v, want ErrBridgeUnavailable", err)
		}
		if got := bus.publishedTo("home/bridge/request/restart"); len(got) != 0 {
			t.Errorf("restart published with bridge offline")
		}
	})

	t.Run("clears retained state for renamed devices", func(t *testing.T) {
		bus := newFakeBus()
		bus.retained["home/bridge/state"] = []byte("online")
		bus.retained["home/bridge/devices"] = []byte(
			`[{"ieee_address":"0x00124b0025e19f5c","friendly_name":"l0/office/sensor/door","type":"EndDevice"}]`)

		h := newTestZigbeeHandler(t, bus)
		if err := h.Process(context.Background(), zigbeeTestRecord()); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if err := h.PostProcess(context.Background()); err != nil {
			t.Fatalf("PostProcess() error = %v", err)
		}

		got := bus.publishedTo("home/l0/office/sensor/door")
		if len(got) != 1 || !got[0].retained || len(got[0].payload) != 0 {
			t.Errorf("cleanup publishes = %+v, want one empty retained message", got)
		}
	})
}
