package wire

import "strings"

// NormalizeRelayBase reduces a relay URL to its bare base. Accepts a plain
// host, a host with a trailing /ws, or /ws/announce, with or without a
// trailing slash.
func NormalizeRelayBase(raw string) string {
	base := strings.TrimRight(raw, "/")
	base = strings.TrimSuffix(base, "/ws/announce")
	base = strings.TrimSuffix(base, "/ws")
	return base
}

// RelayInputURL returns the websocket endpoint for submitting turns through
// a relay.
func RelayInputURL(relayBase string) string {
	return NormalizeRelayBase(relayBase) + "/ws/input"
}

// SessionStatusURL returns the pull-based recovery endpoint for a session.
func SessionStatusURL(base, sessionID string) string {
	return NormalizeRelayBase(base) + "/sessions/" + sessionID
}
