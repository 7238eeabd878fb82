package bridge

import "strings"

// Topics builds the MQTT topic names for one serial link.
//
// Topic structure:
//
//	<prefix>/rx      bytes received from the device
//	<prefix>/tx      bytes to send to the device
//	<prefix>/baud    decimal baud rate requests
//	<prefix>/status  "online" or "offline" (retained)
//	<prefix>/error   hex of payloads the device did not accept
type Topics struct {
	Prefix string
}

func (t Topics) join(leaf string) string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + leaf
}

// RX returns the topic received bytes are published on.
func (t Topics) RX() string { return t.join("rx") }

// TX returns the topic whose messages are written to the device.
func (t Topics) TX() string { return t.join("tx") }

// Baud returns the topic for baud rate requests.
func (t Topics) Baud() string { return t.join("baud") }

// Status returns the retained link status topic.
func (t Topics) Status() string { return t.join("status") }

// Error returns the topic write failures are reported on.
func (t Topics) Error() string { return t.join("error") }

// Status payloads.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
