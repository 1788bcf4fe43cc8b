package discovery

import (
	"context"
	"regexp"
	"strings"
)

// UnknownDeviceName is shown when a device advertises no usable name.
const UnknownDeviceName = "Unknown device"

// Media describes what a receiver is asked to show.
type Media struct {
	Title       string
	ContentType string
}

// Device is a receiver found on the network.
type Device interface {
	// Address is the device's network host; sessions de-duplicate on it.
	Address() string
	DisplayName() string
	// Load asks the device to open url.
	Load(ctx context.Context, url string, media Media) error
	// Stop ends whatever the device is currently showing.
	Stop(ctx context.Context) error
}

// Entry is a raw discovery record, before it is turned into a Device.
type Entry struct {
	Instance string            // advertised instance (raw) name
	Host     string            // IPv4 address, or host name if none was advertised
	Port     int
	Text     map[string]string // TXT key/value pairs
}

// FriendlyName returns the TXT "fn" value, if any.
func (e Entry) FriendlyName() string {
	return e.Text["fn"]
}

// Factory builds the Device for an entry.
type Factory func(Entry) Device

// 32 hex digits, optionally grouped 8-4-4-4-12 with '-' or ':'.
var uuidPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}[-:]?[0-9a-f]{4}[-:]?[0-9a-f]{4}[-:]?[0-9a-f]{4}[-:]?[0-9a-f]{12}`)

// DisplayName derives the label shown for a device. The friendly name wins
// over the raw one; embedded UUIDs and the separators they leave behind are
// removed. When nothing is left the raw name is used as-is, then
// UnknownDeviceName.
func DisplayName(friendly, raw string) string {
	name := strings.TrimSpace(friendly)
	if name == "" {
		name = strings.TrimSpace(raw)
	}
	if cleaned := stripUUIDs(name); cleaned != "" {
		return cleaned
	}
	if raw = strings.TrimSpace(raw); raw != "" {
		return raw
	}
	return UnknownDeviceName
}

func stripUUIDs(name string) string {
	name = uuidPattern.ReplaceAllString(name, "")
	return strings.TrimRight(strings.TrimSpace(name), " -_:.,;|")
}
