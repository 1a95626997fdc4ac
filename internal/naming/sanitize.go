package naming

import "strings"

// sanitizeReplacements are applied in order. Percent must come first or the
// escapes produced by the later replacements would be escaped again.
var sanitizeReplacements = [...][2]string{
	{"%", "%25"},
	{"/", "%2F"},
	{"#", "%23"},
	{" ", "%20"},
	{";", "%3B"},
}

// SanitizeQuery percent-escapes the characters that would otherwise break a
// Tasmota command query string. The device's parser treats ';' as a command
// separator and '#' as a fragment, so both must travel escaped.
func SanitizeQuery(data string) string {
	for _, r := range sanitizeReplacements {
		data = strings.ReplaceAll(data, r[0], r[1])
	}
	return data
}

// CommandURL joins a device command base URL ("http://<ip>/<cmnd>?") with an
// optional query payload, sanitizing the payload first. An empty payload
// returns the base URL unchanged.
func CommandURL(base, payload string) string {
	if payload == "" {
		return base
	}
	return base + SanitizeQuery(payload)
}
