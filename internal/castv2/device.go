package castv2

import (
	"context"

	"castnote/internal/discovery"
)

// Device is a receiver reachable through Client. It implements
// discovery.Device.
type Device struct {
	client   *Client
	host     string
	port     int
	raw      string
	friendly string
}

// NewDevice builds a Device from a discovery entry.
func NewDevice(client *Client, e discovery.Entry) *Device {
	return &Device{
		client:   client,
		host:     e.Host,
		port:     e.Port,
		raw:      e.Instance,
		friendly: e.FriendlyName(),
	}
}

// Factory returns a discovery.Factory producing Devices bound to client.
func Factory(client *Client) discovery.Factory {
	return func(e discovery.Entry) discovery.Device {
		return NewDevice(client, e)
	}
}

func (d *Device) Address() string { return d.host }

func (d *Device) DisplayName() string {
	return discovery.DisplayName(d.friendly, d.raw)
}

func (d *Device) Load(ctx context.Context, url string, m discovery.Media) error {
	return d.client.Load(ctx, HostPort(d.host, d.port), LoadRequest{
		URL:         url,
		Title:       m.Title,
		ContentType: m.ContentType,
	})
}

func (d *Device) Stop(ctx context.Context) error {
	return d.client.Stop(ctx, HostPort(d.host, d.port))
}
