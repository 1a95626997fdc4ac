package provision

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/in-res/domoprov/internal/infrastructure/config"
	"github.com/in-res/domoprov/internal/inventory"
	"github.com/in-res/domoprov/internal/naming"
)

// Tasmota HTTP endpoints. Commands go through the cm endpoint as GET
// query strings; dl streams the full settings block.
const (
	tasmotaEndpointDump    = "dl"
	tasmotaEndpointCommand = "cm"

	// maxBacklogCommands is the firmware's Backlog ceiling.
	maxBacklogCommands = 30
)

// Rule slots. Rule1 holds the manual definition, Rule2 the automation
// definition, Rule3 the system fallback; the final enable pass arms Rule2
// and keeps the others loaded but dormant.
const (
	tasmotaRuleManual = "Rule1"
	tasmotaRuleAuto   = "Rule2"
	tasmotaRuleSystem = "Rule3"
)

// Rule bodies. The placeholder topic "light/ceiling" in the automation
// rule is substituted with the record's target when one is set.
const (
	tasmotaRuleDefManual = "ON Power1#State=0 DO Power2 1 ENDON " +
		"ON Power1#State=1 DO Power2 0 ENDON"

	tasmotaRuleDefAuto = "ON Mqtt#Connected DO backlog " +
		tasmotaRuleManual + " 0; " +
		"SetOption114 1; " +
		"SwitchTopic light/ceiling; " +
		"Power 1 ENDON " +
		"ON Mqtt#Disconnected DO backlog " +
		"SetOption114 0; " +
		"SwitchTopic 0; " +
		tasmotaRuleManual + " 1 ENDON"

	tasmotaRuleTargetPlaceholder = "light/ceiling"
)

// command is one Tasmota console command. Order matters — the firmware
// applies a backlog strictly in sequence — so batches are slices, never
// maps.
type command struct {
	name  string
	value string
}

// encodeCommands renders a batch in the console syntax: "name value" pairs
// joined by semicolons.
func encodeCommands(cmds []command) string {
	parts := make([]string, len(cmds))
	for i, c := range cmds {
		parts[i] = c.name + " " + c.value
	}
	return strings.Join(parts, ";")
}

// TasmotaHandler provisions Tasmota relay/button/light devices over their
// HTTP command API.
type TasmotaHandler struct {
	netBase
	client  *DeviceClient
	backups *BackupSession

	device  config.DeviceConfig
	wifi    config.WifiConfig
	mqtt    config.MQTTConfig
	ntp     config.NTPConfig
	tasmota config.TasmotaConfig
}

// NewTasmotaHandler creates the Tasmota handler and its backup session.
func NewTasmotaHandler(cfg *config.Config, deps Dependencies) (*TasmotaHandler, error) {
	backups, err := NewBackupSession(cfg.Provision.BackupDir, inventory.FirmwareTasmota)
	if err != nil {
		return nil, err
	}

	client := NewDeviceClient(
		cfg.Device.Username, cfg.Device.Password,
		cfg.HTTPTimeout(),
		RetryPolicy{Attempts: cfg.Provision.RetryAttempts, Delay: cfg.RetryDelay()},
	)
	client.SetLogger(deps.Logger)

	return &TasmotaHandler{
		netBase: netBase{
			familyBase: familyBase{family: inventory.FirmwareTasmota, logger: deps.Logger},
			resolver:   deps.Resolver,
			prober:     deps.Prober,
		},
		client:  client,
		backups: backups,
		device:  cfg.Device,
		wifi:    cfg.Wifi,
		mqtt:    cfg.MQTT,
		ntp:     cfg.NTP,
		tasmota: cfg.Tasmota,
	}, nil
}

// Process pushes the full configuration sequence:
//
//  1. Dump the settings block to the backup session
//  2. Base identity/telemetry/time backlog
//  3. Interlock group on or off
//  4. Function-specific customisation (rules for buttons)
//  5. Network/MQTT/hostname backlog ending in Restart 1
//
// Everything before step 5 survives a mid-sequence failure without
// rebooting the device into a half-configured network identity.
func (h *TasmotaHandler) Process(ctx context.Context, rec *inventory.DeviceRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	if err := h.dump(ctx, rec); err != nil {
		return err
	}
	if err := h.setBase(ctx, rec); err != nil {
		return err
	}
	if err := h.setInterlock(ctx, rec); err != nil {
		return err
	}
	if err := h.setByFunction(ctx, rec); err != nil {
		return err
	}
	return h.setNetwork(ctx, rec)
}

// PostProcess is a no-op: Tasmota devices are independent of each other.
func (h *TasmotaHandler) PostProcess(context.Context) error {
	return nil
}

// dump fetches the device's raw settings block into the backup session.
func (h *TasmotaHandler) dump(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("creating settings dump", "ip", rec.IP, "mac", rec.MAC)

	url := fmt.Sprintf("http://%s/%s?", rec.IP, tasmotaEndpointDump)
	body, err := h.client.Get(ctx, url)
	if err != nil {
		return err
	}

	path, err := h.backups.Write(rec.MAC, rec.Hostname, "bmp", body)
	if err != nil {
		return err
	}
	h.logger.Debug("settings dump written", "path", path)
	return nil
}

// setBase pushes the identity, telemetry and time configuration.
func (h *TasmotaHandler) setBase(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("tasmota set base", "ip", rec.IP)

	cmds := []command{
		// Device name drives the web UI title and HA autodiscovery.
		{"DeviceName", rec.Descriptor().DeviceName()},
		{"FriendlyName0", "1"},
		{"FriendlyName1", "1"},
		{"FriendlyName2", "1"},
		{"SetOption3", "1"}, // MQTT on
		{"GroupTopic", h.tasmota.GroupTopic},
		{"TelePeriod", strconv.Itoa(h.tasmota.TelePeriod)},
		{"NtpServer1", h.ntp.Primary},
		{"NtpServer2", h.ntp.Secondary},
		{"NtpServer3", "0"},
		{"WebPassword", h.device.Password},
		{"Timezone", h.tasmota.Timezone},
		{"TimeStd", h.tasmota.TimeStd},
		{"TimeDst", h.tasmota.TimeDst},
		{"Latitude", h.tasmota.Latitude},
		{"Longitude", h.tasmota.Longitude},
		{"WebLog", "2"},
		// Keep fast-power-cycle recovery while the fleet is in flux.
		{"SetOption65", "0"},
		// Display hostname and IP on the device screen.
		{"SetOption53", "1"},
		{"SetOption114", "0"},
		{"SwitchTopic", "0"},
	}
	return h.sendBacklog(ctx, rec.IP, cmds)
}

// setInterlock enables the relay interlock group when the record carries
// one, and explicitly disables interlocking otherwise. Interlock commands
// must go one per request; the firmware rejects them inside a backlog.
func (h *TasmotaHandler) setInterlock(ctx context.Context, rec *inventory.DeviceRecord) error {
	if rec.HasInterlock() {
		h.logger.Debug("tasmota enable interlock", "ip", rec.IP, "group", rec.Interlock)
		if err := h.sendSingle(ctx, rec.IP, "Interlock", rec.Interlock); err != nil {
			return err
		}
		return h.sendSingle(ctx, rec.IP, "Interlock", "On")
	}

	h.logger.Debug("tasmota disable interlock", "ip", rec.IP)
	return h.sendSingle(ctx, rec.IP, "Interlock", "Off")
}

// setByFunction applies the function-specific customisation. Only buttons
// carry rules today; lights and shutters are plain relays after setBase.
func (h *TasmotaHandler) setByFunction(ctx context.Context, rec *inventory.DeviceRecord) error {
	switch strings.ToLower(rec.Function) {
	case "button":
		h.logger.Info("tasmota set button rules", "ip", rec.IP)
		return h.setButtonRules(ctx, rec)
	case "light", "shutters":
		// No extra configuration yet.
		return nil
	default:
		return nil
	}
}

// setButtonRules loads the three rule slots and arms the automation rule.
//
// Rule1 is the standalone manual behaviour, Rule2 the MQTT-connected
// automation (publishing to the record's target topic), Rule3 the system
// fallback. The final backlog flips exactly Rule2 on: the connect/
// disconnect events inside it hand control back to Rule1 when the broker
// goes away.
func (h *TasmotaHandler) setButtonRules(ctx context.Context, rec *inventory.DeviceRecord) error {
	ruleManual := tasmotaRuleDefManual
	ruleInterlock := " "
	ruleAuto := " "
	rule3Way := " "

	if rec.HasTarget() {
		h.logger.Debug("tasmota set target publish", "ip", rec.IP, "target", rec.Target)
		ruleAuto = tasmotaRuleDefAuto
		if rec.Target != tasmotaRuleTargetPlaceholder {
			ruleAuto = strings.ReplaceAll(ruleAuto, tasmotaRuleTargetPlaceholder, rec.Target)
		}
	}

	slots := []command{
		{tasmotaRuleManual, strings.Join([]string{ruleManual, ruleInterlock}, " ")},
		{tasmotaRuleAuto, strings.Join([]string{ruleInterlock, ruleAuto, rule3Way}, " ")},
		{tasmotaRuleSystem, strings.Join([]string{ruleInterlock, ruleManual}, " ")},
	}
	for _, slot := range slots {
		if err := h.sendSingle(ctx, rec.IP, slot.name, slot.value); err != nil {
			return err
		}
	}

	return h.sendBacklog(ctx, rec.IP, []command{
		{tasmotaRuleManual, "0"},
		{tasmotaRuleAuto, "1"},
		{tasmotaRuleSystem, "0"},
	})
}

// setNetwork pushes the hostname, MQTT and Wi-Fi identity and restarts
// the device. This batch goes last: once it lands the device reboots onto
// its final network identity.
func (h *TasmotaHandler) setNetwork(ctx context.Context, rec *inventory.DeviceRecord) error {
	h.logger.Info("tasmota set network identity", "ip", rec.IP, "hostname", rec.Hostname)

	desc := rec.Descriptor()
	cmds := []command{
		{"Hostname", rec.Hostname},
		{"MqttClient", "tasmota-" + rec.MAC},
		{"MqttHost", h.mqtt.Broker.Host},
		{"FullTopic", desc.LocationTopic() + "/%topic%/%prefix%/"},
		{"Topic", strings.TrimPrefix(desc.DeviceTopic(), "/")},
		{"MqttPort", strconv.Itoa(h.mqtt.Broker.Port)},
		{"MqttUser", h.mqtt.Auth.Username},
		{"MqttPassword", h.mqtt.Auth.Password},
		{"SSID1", h.wifi.Primary.SSID},
		{"Password1", h.wifi.Primary.Password},
		{"SSID2", h.wifi.Secondary.SSID},
		{"Password2", h.wifi.Secondary.Password},
		{"Restart", "1"},
	}
	return h.sendBacklog(ctx, rec.IP, cmds)
}

// sendBacklog sends a command batch wrapped in Backlog0 (immediate
// execution, no inter-command delay).
func (h *TasmotaHandler) sendBacklog(ctx context.Context, ip string, cmds []command) error {
	if len(cmds) > maxBacklogCommands {
		return fmt.Errorf("%w: %d commands (limit %d)",
			ErrTooManyCommands, len(cmds), maxBacklogCommands)
	}

	payload := "&cmnd=Backlog0 " + encodeCommands(cmds)
	return h.sendPayload(ctx, ip, payload)
}

// sendSingle sends one command in its own request.
func (h *TasmotaHandler) sendSingle(ctx context.Context, ip, name, value string) error {
	payload := "&cmnd=" + name + " " + value
	return h.sendPayload(ctx, ip, payload)
}

func (h *TasmotaHandler) sendPayload(ctx context.Context, ip, payload string) error {
	base := fmt.Sprintf("http://%s/%s?", ip, tasmotaEndpointCommand)
	url := naming.CommandURL(base, payload)

	_, err := h.client.Get(ctx, url)
	return err
}
