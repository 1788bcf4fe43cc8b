package castv2

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"castnote/internal/castchannel"
	"castnote/internal/discovery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeReceiver plays the device side of a connection over net.Pipe.
type fakeReceiver struct {
	t    *testing.T
	conn net.Conn
	in   chan *castchannel.CastMessage
}

func newFakeReceiver(t *testing.T) (*fakeReceiver, DialFunc) {
	t.Helper()
	client, server := net.Pipe()
	r := &fakeReceiver{t: t, conn: server, in: make(chan *castchannel.CastMessage, 32)}
	go func() {
		defer close(r.in)
		for {
			m, err := castchannel.ReadFrame(server)
			if err != nil {
				return
			}
			r.in <- m
		}
	}()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	dial := func(context.Context, string) (net.Conn, error) { return client, nil }
	return r, dial
}

// expect returns the next message, which must be on namespace ns, with its
// JSON payload decoded (nil for binary messages).
func (r *fakeReceiver) expect(ns string) (*castchannel.CastMessage, map[string]any, bool) {
	select {
	case m, ok := <-r.in:
		if !ok {
			r.t.Errorf("connection closed while waiting for %s", ns)
			return nil, nil, false
		}
		if *m.Namespace != ns {
			r.t.Errorf("got message on %s, want %s", *m.Namespace, ns)
			return nil, nil, false
		}
		var payload map[string]any
		if m.PayloadUTF8 != nil {
			if err := json.Unmarshal([]byte(*m.PayloadUTF8), &payload); err != nil {
				r.t.Errorf("bad JSON payload: %v", err)
				return nil, nil, false
			}
		}
		return m, payload, true
	case <-time.After(2 * time.Second):
		r.t.Errorf("timed out waiting for %s", ns)
		return nil, nil, false
	}
}

func (r *fakeReceiver) sendJSON(source, ns string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		r.t.Errorf("marshal: %v", err)
		return
	}
	if err := castchannel.WriteFrame(r.conn, castchannel.NewTextMessage(source, senderID, ns, string(b))); err != nil {
		r.t.Errorf("write: %v", err)
	}
}

func (r *fakeReceiver) sendAuth(reply *castchannel.DeviceAuthMessage) {
	b, err := reply.Marshal()
	if err != nil {
		r.t.Errorf("marshal auth reply: %v", err)
		return
	}
	if err := castchannel.WriteFrame(r.conn, castchannel.NewBinaryMessage(receiverID, senderID, NamespaceDeviceAuth, b)); err != nil {
		r.t.Errorf("write: %v", err)
	}
}

// acceptAuth answers the device-auth challenge with a response.
func (r *fakeReceiver) acceptAuth() bool {
	m, _, ok := r.expect(NamespaceDeviceAuth)
	if !ok {
		return false
	}
	var challenge castchannel.DeviceAuthMessage
	if err := challenge.Unmarshal(m.PayloadBinary); err != nil || challenge.Challenge == nil {
		r.t.Errorf("expected challenge, got %+v (%v)", challenge, err)
		return false
	}
	r.sendAuth(&castchannel.DeviceAuthMessage{Response: &castchannel.AuthResponse{
		Signature:             []byte("sig"),
		ClientAuthCertificate: []byte("cert"),
	}})
	return true
}

func (r *fakeReceiver) expectType(ns, typ string) (map[string]any, *castchannel.CastMessage, bool) {
	m, p, ok := r.expect(ns)
	if !ok {
		return nil, nil, false
	}
	if p["type"] != typ {
		r.t.Errorf("got %v on %s, want %s", p["type"], ns, typ)
		return nil, nil, false
	}
	return p, m, true
}

func requestID(p map[string]any) int {
	f, _ := p["requestId"].(float64)
	return int(f)
}

func TestAuthenticate(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		r, dial := newFakeReceiver(t)
		conn, _ := dial(context.Background(), "")
		ch := NewChannel(conn, testLogger())

		go func() {
			if _, _, ok := r.expect(NamespaceDeviceAuth); !ok {
				return
			}
			// Unrelated traffic ahead of the reply is skipped.
			r.sendJSON(receiverID, NamespaceHeartbeat, map[string]string{"type": "PING"})
			r.sendAuth(&castchannel.DeviceAuthMessage{Response: &castchannel.AuthResponse{
				Signature:             []byte{1},
				ClientAuthCertificate: []byte{2},
				ClientCA:              [][]byte{{3}},
			}})
		}()

		if err := Authenticate(context.Background(), ch); err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
	})

	t.Run("rejected", func(t *testing.T) {
		r, dial := newFakeReceiver(t)
		conn, _ := dial(context.Background(), "")
		ch := NewChannel(conn, testLogger())

		go func() {
			if _, _, ok := r.expect(NamespaceDeviceAuth); !ok {
				return
			}
			noTLS := castchannel.AuthNoTLS
			r.sendAuth(&castchannel.DeviceAuthMessage{Error: &castchannel.AuthError{ErrorType: &noTLS}})
		}()

		err := Authenticate(context.Background(), ch)
		if !errors.Is(err, ErrAuthRejected) {
			t.Fatalf("err = %v, want ErrAuthRejected", err)
		}
	})

	t.Run("connection_closed", func(t *testing.T) {
		r, dial := newFakeReceiver(t)
		conn, _ := dial(context.Background(), "")
		ch := NewChannel(conn, testLogger())

		go func() {
			if _, _, ok := r.expect(NamespaceDeviceAuth); !ok {
				return
			}
			r.conn.Close()
		}()

		err := Authenticate(context.Background(), ch)
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("err = %v, want ErrTransport", err)
		}
	})

	t.Run("context_deadline", func(t *testing.T) {
		_, dial := newFakeReceiver(t)
		conn, _ := dial(context.Background(), "")
		ch := NewChannel(conn, testLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := Authenticate(ctx, ch)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

func TestClient_Load(t *testing.T) {
	r, dial := newFakeReceiver(t)
	client := NewClient(dial, testLogger())

	script := make(chan struct{})
	go func() {
		defer close(script)
		if !r.acceptAuth() {
			return
		}
		if _, _, ok := r.expectType(NamespaceConnection, "CONNECT"); !ok {
			return
		}
		launch, _, ok := r.expectType(NamespaceReceiver, "LAUNCH")
		if !ok {
			return
		}
		if launch["appId"] != DefaultMediaReceiverAppID {
			t.Errorf("appId = %v", launch["appId"])
		}

		r.sendJSON(receiverID, NamespaceHeartbeat, map[string]string{"type": "PING"})
		r.sendJSON(receiverID, NamespaceReceiver, map[string]any{
			"type":      "RECEIVER_STATUS",
			"requestId": requestID(launch),
			"status": map[string]any{
				"applications": []map[string]string{{
					"appId":       DefaultMediaReceiverAppID,
					"sessionId":   "sess-1",
					"transportId": "web-5",
				}},
			},
		})

		if _, _, ok := r.expectType(NamespaceHeartbeat, "PONG"); !ok {
			return
		}
		_, m, ok := r.expectType(NamespaceConnection, "CONNECT")
		if !ok {
			return
		}
		if *m.DestinationID != "web-5" {
			t.Errorf("CONNECT to %s, want web-5", *m.DestinationID)
		}
		load, m, ok := r.expectType(NamespaceMedia, "LOAD")
		if !ok {
			return
		}
		if *m.DestinationID != "web-5" {
			t.Errorf("LOAD to %s", *m.DestinationID)
		}
		media, _ := load["media"].(map[string]any)
		meta, _ := media["metadata"].(map[string]any)
		if media["contentId"] != "http://10.0.0.2:8080/?token=t" || media["contentType"] != "text/html" || meta["title"] != "Note" {
			t.Errorf("LOAD media = %v", media)
		}
		r.sendJSON("web-5", NamespaceMedia, map[string]any{
			"type":      "MEDIA_STATUS",
			"requestId": requestID(load),
			"status":    []map[string]any{{"playerState": "BUFFERING"}},
		})
	}()

	err := client.Load(context.Background(), "10.0.0.5:8009", LoadRequest{
		URL:         "http://10.0.0.2:8080/?token=t",
		Title:       "Note",
		ContentType: "text/html",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	<-script
}

func TestClient_Load_failures(t *testing.T) {
	tests := []struct {
		name   string
		script func(r *fakeReceiver)
		want   error
	}{
		{
			name: "auth_rejected",
			script: func(r *fakeReceiver) {
				if _, _, ok := r.expect(NamespaceDeviceAuth); !ok {
					return
				}
				internal := castchannel.AuthInternalError
				r.sendAuth(&castchannel.DeviceAuthMessage{Error: &castchannel.AuthError{ErrorType: &internal}})
			},
			want: ErrAuthRejected,
		},
		{
			name: "launch_error",
			script: func(r *fakeReceiver) {
				if !r.acceptAuth() {
					return
				}
				r.expectType(NamespaceConnection, "CONNECT")
				r.expectType(NamespaceReceiver, "LAUNCH")
				r.sendJSON(receiverID, NamespaceReceiver, map[string]any{"type": "LAUNCH_ERROR", "reason": "NOT_FOUND"})
			},
			want: ErrLoadFailed,
		},
		{
			name: "load_failed",
			script: func(r *fakeReceiver) {
				if !r.acceptAuth() {
					return
				}
				r.expectType(NamespaceConnection, "CONNECT")
				r.expectType(NamespaceReceiver, "LAUNCH")
				r.sendJSON(receiverID, NamespaceReceiver, map[string]any{
					"type": "RECEIVER_STATUS",
					"status": map[string]any{"applications": []map[string]string{{
						"appId": DefaultMediaReceiverAppID, "sessionId": "s", "transportId": "t",
					}}},
				})
				r.expectType(NamespaceConnection, "CONNECT")
				r.expectType(NamespaceMedia, "LOAD")
				r.sendJSON("t", NamespaceMedia, map[string]any{"type": "LOAD_FAILED"})
			},
			want: ErrLoadFailed,
		},
		{
			name: "receiver_closes",
			script: func(r *fakeReceiver) {
				if !r.acceptAuth() {
					return
				}
				r.expectType(NamespaceConnection, "CONNECT")
				r.expectType(NamespaceReceiver, "LAUNCH")
				r.sendJSON(receiverID, NamespaceConnection, map[string]any{"type": "CLOSE"})
			},
			want: ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dial := newFakeReceiver(t)
			client := NewClient(dial, testLogger())
			go tt.script(r)

			err := client.Load(context.Background(), "10.0.0.5:8009", LoadRequest{URL: "http://x/", ContentType: "text/html"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClient_Load_dialError(t *testing.T) {
	dialErr := errors.New("connection refused")
	client := NewClient(func(context.Context, string) (net.Conn, error) { return nil, dialErr }, testLogger())
	err := client.Load(context.Background(), "10.0.0.5:8009", LoadRequest{})
	if !errors.Is(err, ErrTransport) || !errors.Is(err, dialErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestTLSDialer(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := TLSDialer(0)(ctx, srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("dial self-signed receiver: %v", err)
	}
	if _, ok := conn.(*tls.Conn); !ok {
		t.Errorf("conn is %T, want *tls.Conn", conn)
	}
	conn.Close()
}

func TestClient_Load_defaultDialerClosedPort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = NewClient(nil, testLogger()).Load(ctx, addr, LoadRequest{URL: "http://10.0.0.2:8080/"})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

func TestClient_Stop(t *testing.T) {
	r, dial := newFakeReceiver(t)
	client := NewClient(dial, testLogger())

	script := make(chan struct{})
	go func() {
		defer close(script)
		if !r.acceptAuth() {
			return
		}
		if _, _, ok := r.expectType(NamespaceConnection, "CONNECT"); !ok {
			return
		}
		get, _, ok := r.expectType(NamespaceReceiver, "GET_STATUS")
		if !ok {
			return
		}
		r.sendJSON(receiverID, NamespaceReceiver, map[string]any{
			"type":      "RECEIVER_STATUS",
			"requestId": requestID(get),
			"status": map[string]any{"applications": []map[string]string{{
				"appId": DefaultMediaReceiverAppID, "sessionId": "sess-1", "transportId": "web-5",
			}}},
		})
		stop, _, ok := r.expectType(NamespaceReceiver, "STOP")
		if !ok {
			return
		}
		if stop["sessionId"] != "sess-1" {
			t.Errorf("STOP sessionId = %v", stop["sessionId"])
		}
		r.sendJSON(receiverID, NamespaceReceiver, map[string]any{
			"type":      "RECEIVER_STATUS",
			"requestId": requestID(stop),
			"status":    map[string]any{"applications": []any{}},
		})
	}()

	if err := client.Stop(context.Background(), "10.0.0.5:8009"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-script
}

func TestDevice(t *testing.T) {
	d := NewDevice(NewClient(nil, testLogger()), discovery.Entry{
		Instance: "Chromecast-a1b2c3d4e5f67890abcdef1234567890",
		Host:     "192.168.1.40",
		Port:     8009,
		Text:     map[string]string{"fn": "Living Room"},
	})
	var _ discovery.Device = d
	if d.Address() != "192.168.1.40" || d.DisplayName() != "Living Room" {
		t.Errorf("device = %s %q", d.Address(), d.DisplayName())
	}

	d = NewDevice(nil, discovery.Entry{Instance: "Chromecast-a1b2c3d4e5f67890abcdef1234567890", Host: "h"})
	if d.DisplayName() != "Chromecast" {
		t.Errorf("DisplayName = %q", d.DisplayName())
	}

	if got := HostPort("192.168.1.40", 0); got != "192.168.1.40:8009" {
		t.Errorf("HostPort = %s", got)
	}
	if got := HostPort("fe80::1", 8010); got != "[fe80::1]:8010" {
		t.Errorf("HostPort = %s", got)
	}
}
