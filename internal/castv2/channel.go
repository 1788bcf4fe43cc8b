// Package castv2 speaks the cast v2 receiver protocol: TLS on port 8009,
// length-prefixed CastMessage frames, JSON control payloads on named
// namespaces, and a binary device-auth handshake.
package castv2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"castnote/internal/castchannel"
)

const (
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"
	NamespaceHeartbeat  = "urn:x-cast:com.google.cast.tp.heartbeat"
	NamespaceDeviceAuth = "urn:x-cast:com.google.cast.tp.deviceauth"
	NamespaceReceiver   = "urn:x-cast:com.google.cast.receiver"
	NamespaceMedia      = "urn:x-cast:com.google.cast.media"

	senderID   = "sender-0"
	receiverID = "receiver-0"
)

var (
	// ErrAuthRejected is returned when the receiver answers the device-auth
	// challenge with an error envelope.
	ErrAuthRejected = errors.New("device authentication rejected")

	// ErrTransport is returned when the connection fails or closes before the
	// expected reply arrives.
	ErrTransport = errors.New("cast transport error")

	// ErrLoadFailed is returned when the receiver refuses to launch the media
	// app or to load the URL.
	ErrLoadFailed = errors.New("receiver failed to load media")
)

// Channel sends and receives CastMessage frames over one connection.
// Send may be called concurrently with Receive; Receive must not be called
// concurrently with itself.
type Channel struct {
	conn net.Conn
	log  *slog.Logger
	wmu  sync.Mutex
}

// NewChannel wraps conn. The caller keeps ownership until Close.
func NewChannel(conn net.Conn, log *slog.Logger) *Channel {
	return &Channel{conn: conn, log: log}
}

// Send marshals payload as JSON and sends it as a UTF-8 message.
func (c *Channel) Send(destination, namespace string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", namespace, err)
	}
	return c.write(castchannel.NewTextMessage(senderID, destination, namespace, string(b)))
}

// SendBinary sends a binary message.
func (c *Channel) SendBinary(destination, namespace string, payload []byte) error {
	return c.write(castchannel.NewBinaryMessage(senderID, destination, namespace, payload))
}

func (c *Channel) write(m *castchannel.CastMessage) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := castchannel.WriteFrame(c.conn, m); err != nil {
		if errors.Is(err, castchannel.ErrSchemaViolation) {
			return err
		}
		return fmt.Errorf("%w: write %s: %w", ErrTransport, *m.Namespace, err)
	}
	c.log.Debug("cast message sent",
		slog.String("namespace", *m.Namespace),
		slog.String("destination", *m.DestinationID))
	return nil
}

// Receive blocks for the next frame or until ctx is done.
func (c *Channel) Receive(ctx context.Context) (*castchannel.CastMessage, error) {
	_ = c.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	m, err := castchannel.ReadFrame(c.conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, castchannel.ErrMalformedMessage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read: %w", ErrTransport, err)
	}
	c.log.Debug("cast message received",
		slog.String("namespace", *m.Namespace),
		slog.String("source", *m.SourceID))
	return m, nil
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.conn.Close()
}
