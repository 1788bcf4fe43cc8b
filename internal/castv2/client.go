package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	// DefaultPort is the receiver's control port.
	DefaultPort = 8009

	// DefaultMediaReceiverAppID is the stock receiver app that plays a URL.
	DefaultMediaReceiverAppID = "CC1AD845"

	defaultDialTimeout = 10 * time.Second
)

// DialFunc opens a connection to a receiver.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// TLSDialer returns a DialFunc that opens TLS connections. Receivers present
// self-signed certificates, so the chain is not verified here; the device
// auth handshake runs on top of the connection instead.
func TLSDialer(timeout time.Duration) DialFunc {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	d := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config:    &tls.Config{InsecureSkipVerify: true},
	}
	return func(ctx context.Context, addr string) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Client issues load and stop commands to receivers.
type Client struct {
	dial DialFunc
	log  *slog.Logger
}

// NewClient returns a Client using dial, or a TLS dialer when dial is nil.
func NewClient(dial DialFunc, log *slog.Logger) *Client {
	if dial == nil {
		dial = TLSDialer(defaultDialTimeout)
	}
	return &Client{dial: dial, log: log}
}

// LoadRequest describes the page a receiver should open.
type LoadRequest struct {
	URL         string
	Title       string
	ContentType string
}

type header struct {
	Type      string `json:"type"`
	RequestID int    `json:"requestId,omitempty"`
}

type inbound struct {
	Type      string          `json:"type"`
	RequestID int             `json:"requestId"`
	Reason    string          `json:"reason"`
	Status    json.RawMessage `json:"status"`
}

type receiverStatus struct {
	Applications []application `json:"applications"`
}

type application struct {
	AppID       string `json:"appId"`
	DisplayName string `json:"displayName"`
	SessionID   string `json:"sessionId"`
	TransportID string `json:"transportId"`
}

type launchRequest struct {
	header
	AppID string `json:"appId"`
}

type stopRequest struct {
	header
	SessionID string `json:"sessionId"`
}

type loadRequest struct {
	header
	Media    mediaInfo `json:"media"`
	Autoplay bool      `json:"autoplay"`
}

type mediaInfo struct {
	ContentID   string        `json:"contentId"`
	ContentType string        `json:"contentType"`
	StreamType  string        `json:"streamType"`
	Metadata    mediaMetadata `json:"metadata"`
}

type mediaMetadata struct {
	MetadataType int    `json:"metadataType"`
	Title        string `json:"title"`
}

// conn is one authenticated, connected control channel.
type conn struct {
	ch     *Channel
	nextID int
}

func (c *conn) requestID() int {
	c.nextID++
	return c.nextID
}

// await reads frames until match reports done. Heartbeat pings are answered
// and a CLOSE on the connection namespace ends the wait with ErrTransport.
func (c *conn) await(ctx context.Context, match func(ns string, msg inbound) (bool, error)) error {
	for {
		m, err := c.ch.Receive(ctx)
		if err != nil {
			return err
		}
		if m.PayloadUTF8 == nil {
			continue
		}
		var msg inbound
		if err := json.Unmarshal([]byte(*m.PayloadUTF8), &msg); err != nil {
			continue
		}

		switch ns := *m.Namespace; {
		case ns == NamespaceHeartbeat && msg.Type == "PING":
			if err := c.ch.Send(*m.SourceID, NamespaceHeartbeat, header{Type: "PONG"}); err != nil {
				return err
			}
		case ns == NamespaceConnection && msg.Type == "CLOSE":
			return fmt.Errorf("%w: receiver closed the connection", ErrTransport)
		default:
			done, err := match(ns, msg)
			if err != nil || done {
				return err
			}
		}
	}
}

func (c *Client) open(ctx context.Context, addr string) (*conn, error) {
	nc, err := c.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}
	ch := NewChannel(nc, c.log)
	if err := Authenticate(ctx, ch); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Send(receiverID, NamespaceConnection, header{Type: "CONNECT"}); err != nil {
		ch.Close()
		return nil, err
	}
	return &conn{ch: ch}, nil
}

func (c *conn) close() {
	_ = c.ch.Send(receiverID, NamespaceConnection, header{Type: "CLOSE"})
	_ = c.ch.Close()
}

// Load launches the default media receiver on the device at addr and asks
// it to open req.URL. It returns once the receiver reports media status.
func (c *Client) Load(ctx context.Context, addr string, req LoadRequest) error {
	cn, err := c.open(ctx, addr)
	if err != nil {
		return err
	}
	defer cn.close()

	launchID := cn.requestID()
	if err := cn.ch.Send(receiverID, NamespaceReceiver, launchRequest{
		header: header{Type: "LAUNCH", RequestID: launchID},
		AppID:  DefaultMediaReceiverAppID,
	}); err != nil {
		return err
	}

	var app application
	err = cn.await(ctx, func(ns string, msg inbound) (bool, error) {
		if ns != NamespaceReceiver {
			return false, nil
		}
		switch msg.Type {
		case "RECEIVER_STATUS":
			var st receiverStatus
			if err := json.Unmarshal(msg.Status, &st); err != nil {
				return false, nil
			}
			for _, a := range st.Applications {
				if a.AppID == DefaultMediaReceiverAppID && a.TransportID != "" {
					app = a
					return true, nil
				}
			}
		case "LAUNCH_ERROR":
			return true, fmt.Errorf("%w: launch: %s", ErrLoadFailed, msg.Reason)
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	if err := cn.ch.Send(app.TransportID, NamespaceConnection, header{Type: "CONNECT"}); err != nil {
		return err
	}
	loadID := cn.requestID()
	if err := cn.ch.Send(app.TransportID, NamespaceMedia, loadRequest{
		header: header{Type: "LOAD", RequestID: loadID},
		Media: mediaInfo{
			ContentID:   req.URL,
			ContentType: req.ContentType,
			StreamType:  "BUFFERED",
			Metadata:    mediaMetadata{Title: req.Title},
		},
		Autoplay: true,
	}); err != nil {
		return err
	}

	err = cn.await(ctx, func(ns string, msg inbound) (bool, error) {
		if ns != NamespaceMedia {
			return false, nil
		}
		switch msg.Type {
		case "MEDIA_STATUS":
			return true, nil
		case "LOAD_FAILED", "LOAD_CANCELLED", "INVALID_REQUEST":
			reason := msg.Type
			if msg.Reason != "" {
				reason += " (" + msg.Reason + ")"
			}
			return true, fmt.Errorf("%w: %s", ErrLoadFailed, reason)
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	c.log.Debug("receiver loaded page",
		slog.String("addr", addr),
		slog.String("session_id", app.SessionID))
	return nil
}

// Stop ends every running receiver app on the device at addr.
func (c *Client) Stop(ctx context.Context, addr string) error {
	cn, err := c.open(ctx, addr)
	if err != nil {
		return err
	}
	defer cn.close()

	statusID := cn.requestID()
	if err := cn.ch.Send(receiverID, NamespaceReceiver, header{Type: "GET_STATUS", RequestID: statusID}); err != nil {
		return err
	}

	var apps []application
	err = cn.await(ctx, func(ns string, msg inbound) (bool, error) {
		if ns != NamespaceReceiver || msg.Type != "RECEIVER_STATUS" {
			return false, nil
		}
		var st receiverStatus
		if err := json.Unmarshal(msg.Status, &st); err != nil {
			return true, fmt.Errorf("%w: bad receiver status: %w", ErrTransport, err)
		}
		apps = st.Applications
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, a := range apps {
		if a.SessionID == "" {
			continue
		}
		stopID := cn.requestID()
		if err := cn.ch.Send(receiverID, NamespaceReceiver, stopRequest{
			header:    header{Type: "STOP", RequestID: stopID},
			SessionID: a.SessionID,
		}); err != nil {
			return err
		}
		err := cn.await(ctx, func(ns string, msg inbound) (bool, error) {
			return ns == NamespaceReceiver && msg.RequestID == stopID, nil
		})
		if err != nil {
			return err
		}
		c.log.Debug("receiver app stopped",
			slog.String("addr", addr),
			slog.String("app_id", a.AppID),
			slog.String("session_id", a.SessionID))
	}
	return nil
}

// HostPort joins a receiver host and port, defaulting the port.
func HostPort(host string, port int) string {
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
