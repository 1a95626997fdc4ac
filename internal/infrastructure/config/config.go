package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for domoprov.
// All configuration is loaded from YAML; credentials and legacy keys can be
// supplied through a dotenv-style file, with process environment variables
// used as a fallback when a key is absent from the file.
type Config struct {
	Inventory InventoryConfig `yaml:"inventory"`
	Cache     CacheConfig     `yaml:"cache"`
	Network   NetworkConfig   `yaml:"network"`
	Device    DeviceConfig    `yaml:"device"`
	Wifi      WifiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	NTP       NTPConfig       `yaml:"ntp"`
	Provision ProvisionConfig `yaml:"provision"`
	Tasmota   TasmotaConfig   `yaml:"tasmota"`
	Zigbee    ZigbeeConfig    `yaml:"zigbee"`
	WLED      WLEDConfig      `yaml:"wled"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InventoryConfig locates the admin backend's SQLite store. The store is
// owned by the admin backend; domoprov opens it read-only.
type InventoryConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// CacheConfig contains MAC→IP address cache settings.
type CacheConfig struct {
	// Path is the YAML file the cache is persisted to.
	Path string `yaml:"path"`

	// ScanScript is an external executable whose stdout is a YAML mapping
	// of ip: mac. Empty disables network refresh (stale cache is used).
	ScanScript string `yaml:"scan_script"`

	// ScanTimeout bounds a single scan invocation (seconds).
	ScanTimeout int `yaml:"scan_timeout"`
}

// NetworkConfig contains site network conventions.
type NetworkConfig struct {
	// IPPrefix expands purely numeric cache entries: a cached value of
	// "47" resolves to "<ip_prefix>.47".
	IPPrefix string `yaml:"ip_prefix"`
}

// DeviceConfig contains the admin credentials configured on the devices.
type DeviceConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WifiConfig contains the two Wi-Fi networks pushed to devices.
type WifiConfig struct {
	Primary   WifiNetwork `yaml:"primary"`
	Secondary WifiNetwork `yaml:"secondary"`
}

// WifiNetwork is a single SSID/passphrase pair.
type WifiNetwork struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// NTPConfig contains the NTP servers pushed to devices.
type NTPConfig struct {
	Primary   string `yaml:"primary"`
	Secondary string `yaml:"secondary"`
}

// ProvisionConfig contains batch orchestration settings.
type ProvisionConfig struct {
	// Firmwares is the enabled firmware-family list. Valid entries:
	// "tasmota", "zigbee", "wled".
	Firmwares []string `yaml:"firmwares"`

	// BackupDir is the root of per-family, per-run dump directories.
	BackupDir string `yaml:"backup_dir"`

	// RetryAttempts is the number of attempts per network call.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryDelay is the fixed delay between attempts (milliseconds).
	RetryDelay int `yaml:"retry_delay"`

	// HTTPTimeout is the per-call HTTP timeout (seconds).
	HTTPTimeout int `yaml:"http_timeout"`
}

// TasmotaConfig contains Tasmota-specific settings pushed to every device.
// Timezone, TimeStd and TimeDst use the Tasmota command value syntax.
type TasmotaConfig struct {
	Timezone   string `yaml:"timezone"`
	TimeStd    string `yaml:"time_std"`
	TimeDst    string `yaml:"time_dst"`
	Latitude   string `yaml:"latitude"`
	Longitude  string `yaml:"longitude"`
	GroupTopic string `yaml:"group_topic"`
	TelePeriod int    `yaml:"tele_period"`
}

// ZigbeeConfig contains Zigbee2MQTT bridge settings.
type ZigbeeConfig struct {
	// BridgeHost is the scp destination host for the devices document.
	// Empty disables the remote push (the local file is still written).
	BridgeHost string `yaml:"bridge_host"`

	// BridgeConfigPath is the devices.yaml path on the bridge host.
	BridgeConfigPath string `yaml:"bridge_config_path"`

	// DevicesFile is the local staging path for the accumulated document.
	DevicesFile string `yaml:"devices_file"`
}

// WLEDConfig contains WLED-specific settings.
type WLEDConfig struct {
	// PresetsFile is the shared presets document uploaded to every WLED
	// device. Missing file skips the upload with a warning.
	PresetsFile string `yaml:"presets_file"`

	// UTCOffset is the NTP offset pushed to devices (hours).
	UTCOffset int `yaml:"utc_offset"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// provisioning-history recorder.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies secret overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Dotenv/environment secrets (override file values for credential keys)
//
// The dotenv file uses the legacy provisioning key names (DEVICE_PASS,
// BUS_HOST, WF1_SSID, ...). A key absent from the file falls back to the
// process environment.
//
// Parameters:
//   - path: Path to the YAML configuration file
//   - envPath: Path to the dotenv file; missing file is not an error
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed, or validation fails
func Load(path, envPath string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	secrets, err := LoadDotenv(envPath)
	if err != nil {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	applySecrets(cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults matching the
// conventions already deployed on the fleet.
func defaultConfig() *Config {
	return &Config{
		Inventory: InventoryConfig{
			Path:        "./data/device_manager.db",
			BusyTimeout: 5,
		},
		Cache: CacheConfig{
			Path:        "cache_ip.yaml",
			ScanTimeout: 120,
		},
		Network: NetworkConfig{
			IPPrefix: "192.168.0",
		},
		Device: DeviceConfig{
			Username: "admin",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "bus",
				Port:     1883,
				ClientID: "domoprov",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		NTP: NTPConfig{
			Primary:   "pool.ntp.org",
			Secondary: "pool.ntp.org",
		},
		Provision: ProvisionConfig{
			Firmwares:     []string{"tasmota", "zigbee", "wled"},
			BackupDir:     "backup",
			RetryAttempts: 3,
			RetryDelay:    1500,
			HTTPTimeout:   10,
		},
		Tasmota: TasmotaConfig{
			Timezone:   "99",
			TimeStd:    "0,0,10,1,3,60",
			TimeDst:    "0,0,3,1,2,120",
			Latitude:   "48.16403653881043",
			Longitude:  "-1.4358991384506228",
			GroupTopic: "all",
			TelePeriod: 120,
		},
		Zigbee: ZigbeeConfig{
			BridgeConfigPath: "/home/pi/zigbee2mqtt/data/devices.yaml",
			DevicesFile:      "/tmp/devices.yml",
		},
		WLED: WLEDConfig{
			PresetsFile: "data/wled/presets.json",
			UTCOffset:   1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadDotenv reads a dotenv-style file into a key/value map.
//
// Lines are KEY=VALUE; blank lines and lines starting with '#' are skipped.
// Only the first '=' splits the line, so values may contain '='.
// A missing file returns an empty map, not an error.
func LoadDotenv(path string) (map[string]string, error) {
	secrets := make(map[string]string)
	if path == "" {
		return secrets, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secrets, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		secrets[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return secrets, scanner.Err()
}

// lookup returns the value for a legacy key: dotenv file first, process
// environment as fallback.
func lookup(secrets map[string]string, key string) (string, bool) {
	if v, ok := secrets[key]; ok && v != "" {
		return v, true
	}
	if v := os.Getenv(key); v != "" {
		return v, true
	}
	return "", false
}

// applySecrets applies legacy dotenv/environment keys to the configuration.
// The key names match the fleet's existing .env files.
func applySecrets(cfg *Config, secrets map[string]string) {
	if v, ok := lookup(secrets, "FILE_DEVICE"); ok {
		cfg.Inventory.Path = v
	}
	if v, ok := lookup(secrets, "FILE_CACHE"); ok {
		cfg.Cache.Path = v
	}
	if v, ok := lookup(secrets, "SCAN_SCRIPT"); ok {
		cfg.Cache.ScanScript = v
	}

	if v, ok := lookup(secrets, "DEVICE_USER"); ok {
		cfg.Device.Username = v
	}
	if v, ok := lookup(secrets, "DEVICE_PASS"); ok {
		cfg.Device.Password = v
	}

	if v, ok := lookup(secrets, "WF1_SSID"); ok {
		cfg.Wifi.Primary.SSID = v
	}
	if v, ok := lookup(secrets, "WF1_PASSWORD"); ok {
		cfg.Wifi.Primary.Password = v
	}
	if v, ok := lookup(secrets, "WF2_SSID"); ok {
		cfg.Wifi.Secondary.SSID = v
	}
	if v, ok := lookup(secrets, "WF2_PASSWORD"); ok {
		cfg.Wifi.Secondary.Password = v
	}

	if v, ok := lookup(secrets, "BUS_HOST"); ok {
		cfg.MQTT.Broker.Host = v
	}
	if v, ok := lookup(secrets, "BUS_PORT"); ok {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v, ok := lookup(secrets, "BUS_USERNAME"); ok {
		cfg.MQTT.Auth.Username = v
	}
	if v, ok := lookup(secrets, "BUS_PASSWORD"); ok {
		cfg.MQTT.Auth.Password = v
	}

	if v, ok := lookup(secrets, "NTP_SRV1"); ok {
		cfg.NTP.Primary = v
	}
	if v, ok := lookup(secrets, "NTP_SRV2"); ok {
		cfg.NTP.Secondary = v
	}

	if v, ok := lookup(secrets, "BRIDGE_HOST"); ok {
		cfg.Zigbee.BridgeHost = v
	}
	if v, ok := lookup(secrets, "BRIDGE_DEVICES_CONFIG_PATH"); ok {
		cfg.Zigbee.BridgeConfigPath = v
	}

	if v, ok := lookup(secrets, "ENABLE_FIRMWARES"); ok {
		var firmwares []string
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				firmwares = append(firmwares, f)
			}
		}
		if len(firmwares) > 0 {
			cfg.Provision.Firmwares = firmwares
		}
	}

	if v, ok := lookup(secrets, "INFLUX_TOKEN"); ok {
		cfg.InfluxDB.Token = v
	}
}

// validFirmwares is the set of firmware families with a registered handler.
var validFirmwares = map[string]bool{
	"tasmota": true,
	"zigbee":  true,
	"wled":    true,
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Inventory.Path == "" {
		errs = append(errs, "inventory.path is required")
	}
	if c.Cache.Path == "" {
		errs = append(errs, "cache.path is required")
	}
	if c.Network.IPPrefix == "" {
		errs = append(errs, "network.ip_prefix is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if c.Provision.RetryAttempts < 1 {
		errs = append(errs, "provision.retry_attempts must be at least 1")
	}
	if len(c.Provision.Firmwares) == 0 {
		errs = append(errs, "provision.firmwares must name at least one firmware family")
	}
	for _, fw := range c.Provision.Firmwares {
		if !validFirmwares[strings.ToLower(fw)] {
			errs = append(errs, fmt.Sprintf("provision.firmwares: unknown firmware family %q", fw))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ScanTimeout returns the scan script timeout as a Duration.
func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Cache.ScanTimeout) * time.Second
}

// RetryDelay returns the inter-attempt delay as a Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Provision.RetryDelay) * time.Millisecond
}

// HTTPTimeout returns the per-call HTTP timeout as a Duration.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Provision.HTTPTimeout) * time.Second
}
