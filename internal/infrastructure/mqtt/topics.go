package mqtt

import "fmt"

// Topic prefixes for the provisioning service and the Zigbee bridge.
//
// The bridge topics follow the zigbee2mqtt convention with the site's
// base topic: home/bridge/{category}.
const (
	// TopicPrefixBridge is the base for all Zigbee bridge topics.
	TopicPrefixBridge = "home/bridge"

	// TopicPrefixSystem is the base for provisioner system topics.
	TopicPrefixSystem = "domoprov/system"
)

// Topics provides builders for the MQTT topics this service touches.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.BridgeRestart() // "home/bridge/request/restart"
type Topics struct{}

// BridgeState returns the topic the bridge publishes its availability on.
// Payload is "online" or "offline" (retained).
//
// Example: home/bridge/state
func (Topics) BridgeState() string {
	return fmt.Sprintf("%s/state", TopicPrefixBridge)
}

// BridgeDevices returns the topic the bridge publishes its device list on.
// Payload is a retained JSON array of joined devices.
//
// Example: home/bridge/devices
func (Topics) BridgeDevices() string {
	return fmt.Sprintf("%s/devices", TopicPrefixBridge)
}

// BridgeRestart returns the topic that requests a bridge restart.
// Publishing an empty payload makes the bridge reload its devices file.
//
// Example: home/bridge/request/restart
func (Topics) BridgeRestart() string {
	return fmt.Sprintf("%s/request/restart", TopicPrefixBridge)
}

// SystemStatus returns the provisioner status topic (LWT and graceful
// shutdown payloads are published here).
//
// Example: domoprov/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemRuns returns the topic run summaries are published on after each
// provisioning pass. Payload is a JSON summary, not retained.
//
// Example: domoprov/system/runs
func (Topics) SystemRuns() string {
	return fmt.Sprintf("%s/runs", TopicPrefixSystem)
}
