// Package naming derives canonical display names, MQTT topics and
// identifiers from a device's location and role. All functions are pure;
// the same Descriptor always produces the same strings, which is what makes
// re-provisioning idempotent on the device side.
package naming

import (
	"fmt"
	"strings"
)

// Topic vocabulary shared by every firmware family.
const (
	// TopicBase is the root segment of every fleet topic.
	TopicBase = "Home"

	// topicLevel prefixes the floor number in display names and IDs.
	topicLevel = "Lvl"
)

// Descriptor carries the location/role fields a name is derived from.
// RoomSlug, Function and PositionSlug are expected to already be slugs
// (lowercase, topic-safe); Level is the floor number.
type Descriptor struct {
	Level        int
	RoomSlug     string
	Function     string
	PositionSlug string
}

// DeviceName returns the human-readable device name used in device web UIs
// and Home Assistant discovery, e.g. "Home > Lvl0 > Office > Button > Desk".
func (d Descriptor) DeviceName() string {
	return fmt.Sprintf("%s > %s%d > %s > %s > %s",
		capitalize(TopicBase),
		capitalize(topicLevel), d.Level,
		capitalize(d.RoomSlug),
		capitalize(d.Function),
		capitalize(d.PositionSlug),
	)
}

// LocationTopic returns the location half of the device topic,
// e.g. "home/l0/office".
func (d Descriptor) LocationTopic() string {
	return strings.ToLower(fmt.Sprintf("%s/l%d/%s", TopicBase, d.Level, d.RoomSlug))
}

// DeviceTopic returns the role half of the device topic including its
// leading slash, e.g. "/button/desk".
func (d Descriptor) DeviceTopic() string {
	return strings.ToLower(fmt.Sprintf("/%s/%s", d.Function, d.PositionSlug))
}

// Topic returns the full device topic, e.g. "home/l0/office/button/desk".
func (d Descriptor) Topic() string {
	return d.LocationTopic() + d.DeviceTopic()
}

// DeviceID returns the underscore-joined identifier,
// e.g. "home_lvl0_office_button_desk".
func (d Descriptor) DeviceID() string {
	return strings.ToLower(fmt.Sprintf("%s_%s%d_%s_%s_%s",
		TopicBase, topicLevel, d.Level, d.RoomSlug, d.Function, d.PositionSlug))
}

// capitalize upper-cases the first byte and lower-cases the rest, matching
// the naming already burned into the fleet ("oFFice" -> "Office").
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
