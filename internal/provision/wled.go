package provision

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/inventory"
)

// WLED JSON API paths.
const (
	wledPathConfig  = "/json/cfg"
	wledPathUpload  = "/upload"
	wledPathReset   = "/reset"
	wledPresetsName = "/presets.json"
)

// wledConfig is the configuration subset pushed to a device. Fields not
// present here are left at whatever the device already has; the JSON API
// merges rather than replaces.
type wledConfig struct {
	ID        wledIdentity  `json:"id"`
	Network   wledNetwork   `json:"nw"`
	Interface wledInterface `json:"if"`
}

type wledIdentity struct {
	Name string `json:"name"`
	MDNS string `json:"mdns"`
}

type wledNetwork struct {
	Instances []wledWifi `json:"ins"`
}

type wledWifi struct {
	SSID string `json:"ssid"`
	PSK  string `json:"psk"`
}

type wledInterface struct {
	NTP  wledNTP  `json:"ntp"`
	MQTT wledMQTT `json:"mqtt"`
}

type wledNTP struct {
	Host string `json:"host"`
	// UTCOffset is in seconds, matching the firmware field.
	UTCOffset int `json:"utcOffst"`
}

type wledMQTT struct {
	Enabled  bool       `json:"en"`
	Broker   string     `json:"broker"`
	Port     int        `json:"port"`
	User     string     `json:"user"`
	PSK      string     `json:"psk"`
	ClientID string     `json:"cid"`
	Topics   wledTopics `json:"topics"`
}

type wledTopics struct {
	Device string `json:"device"`
}

// WLEDHandler provisions WLED LED controllers over their JSON API.
type WLEDHandler struct {
	netBase
	client  *DeviceClient
	backups *BackupSession

	wifi config.WifiConfig
	mqtt config.MQTTConfig
	ntp  config.NTPConfig
	wled config.WLEDConfig
}

// NewWLEDHandler creates the WLED handler and its backup session. WLED
// authenticates with an empty username and the shared device password.
func NewWLEDHandler(cfg *config.Config, deps Dependencies) (*WLEDHandler, error) {
	backups, err := NewBackupSession(cfg.Provision.BackupDir, inventory.FirmwareWLED)
	if err != nil {
		return nil, err
	}

	client := NewDeviceClient(
		"", cfg.Device.Password,
		cfg.HTTPTimeout(),
		RetryPolicy{Attempts: cfg.Provision.RetryAttempts, Delay: cfg.RetryDelay()},
	)
	client.SetLogger(deps.Logger)

	return &WLEDHandler{
		netBase: netBase{
			familyBase: familyBase{family: inventory.FirmwareWLED, logger: deps.Logger},
			resolver:   deps.Resolver,
			prober:     deps.Prober,
		},
		client:  client,
		backups: backups,
		wifi:    cfg.Wifi,
		mqtt:    cfg.MQTT,
		ntp:     cfg.NTP,
		wled:    cfg.WLED,
	}, nil
}

// Process dumps the current configuration, uploads the shared presets
// document, pushes the managed configuration subset and resets the device.
func (h *WLEDHandler) Process(ctx context.Context, rec *inventory.DeviceRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	if err := h.dump(ctx, rec); err != nil {
		return err
	}
	if err := h.uploadPresets(ctx, rec); err != nil {
		return err
	}
	if err := h.pushConfig(ctx, rec); err != nil {
		return err
	}
	return h.reset(ctx, rec)
}

// PostProcess is a no-op: WLED devices are independent of each other.
func (h *WLEDHandler) PostProcess(context.Context) error {
	return nil
}

func (h *WLEDHandler) dump(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("creating config dump", "ip", rec.IP, "mac", rec.MAC)

	body, err := h.client.Get(ctx, "http://"+rec.IP+wledPathConfig)
	if err != nil {
		return err
	}

	path, err := h.backups.Write(rec.MAC, rec.Hostname, "json", body)
	if err != nil {
		return err
	}
	h.logger.Debug("config dump written", "path", path)
	return nil
}

// uploadPresets pushes the shared presets document to the device's
// filesystem. A missing local file is a warning, not an error: a fleet
// without presets is still fully functional.
func (h *WLEDHandler) uploadPresets(ctx context.Context, rec *inventory.DeviceRecord) error {
	if h.wled.PresetsFile == "" {
		return nil
	}

	content, err := os.ReadFile(h.wled.PresetsFile)
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Warn("presets file missing, skipping upload",
				"path", h.wled.PresetsFile)
			return nil
		}
		return fmt.Errorf("%w: read presets: %w", ErrTransport, err)
	}

	h.logger.Info("uploading presets", "ip", rec.IP)
	return h.client.Upload(ctx, "http://"+rec.IP+wledPathUpload,
		"data", wledPresetsName, content)
}

func (h *WLEDHandler) pushConfig(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("wled set config", "ip", rec.IP, "hostname", rec.Hostname)

	desc := rec.Descriptor()
	name := strings.ToLower(strings.ReplaceAll(desc.DeviceName(), " > ", "_"))

	cfg := wledConfig{
		ID: wledIdentity{
			Name: name,
			MDNS: rec.Hostname,
		},
		Network: wledNetwork{
			// WLED keeps a single Wi-Fi slot; only the primary network
			// is pushed.
			Instances: []wledWifi{{
				SSID: h.wifi.Primary.SSID,
				PSK:  h.wifi.Primary.Password,
			}},
		},
		Interface: wledInterface{
			NTP: wledNTP{
				Host:      h.ntp.Primary,
				UTCOffset: h.wled.UTCOffset * 3600,
			},
			MQTT: wledMQTT{
				Enabled:  true,
				Broker:   h.mqtt.Broker.Host,
				Port:     h.mqtt.Broker.Port,
				User:     h.mqtt.Auth.Username,
				PSK:      h.mqtt.Auth.Password,
				ClientID: "wled-" + rec.MAC,
				Topics: wledTopics{
					Device: strings.TrimPrefix(desc.Topic(), "/"),
				},
			},
		},
	}

	return h.client.PostJSON(ctx, "http://"+rec.IP+wledPathConfig, cfg)
}

// reset reboots the device onto the new configuration. The connection is
// expected to drop mid-response, so transport errors are tolerated.
func (h *WLEDHandler) reset(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("wled restart", "ip", rec.IP)
	return h.client.GetTolerant(ctx, "http://"+rec.IP+wledPathReset)
}
