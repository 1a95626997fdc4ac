// Package mqtt provides MQTT client connectivity for the provisioning
// service.
//
// This package manages:
//   - Connection to the site broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The Zigbee firmware path talks to the zigbee2mqtt bridge over the
// broker: the provisioner watches home/bridge/state and
// home/bridge/devices, and requests a bridge restart after updating the
// devices file so newly declared devices are picked up.
//
//	domoprov ↔ MQTT Broker ↔ zigbee2mqtt bridge
//
// # Security Considerations
//
//   - TLS is available for brokers outside the provisioning VLAN
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Watch bridge availability
//	err = client.Subscribe(mqtt.Topics{}.BridgeState(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("bridge is %s", payload)
//	        return nil
//	    })
//
//	// Request a bridge restart
//	client.Publish(mqtt.Topics{}.BridgeRestart(), nil, 1, false)
package mqtt
