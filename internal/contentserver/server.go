// Package contentserver serves the rendered document, and the images it
// references, to the selected receiver over plain HTTP. Every request must
// carry the current session token and, once a device is pinned, come from
// that device or from loopback.
package contentserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"castnote/internal/platform/metrics"

	"github.com/google/uuid"
)

var (
	// ErrBind is returned by Start when the port cannot be claimed.
	ErrBind = errors.New("content server cannot bind port")

	// ErrAlreadyStarted is returned by Start on a running server.
	ErrAlreadyStarted = errors.New("content server already started")

	// ErrNotStarted is returned by Port on a server that is not listening.
	ErrNotStarted = errors.New("content server not started")
)

const readHeaderTimeout = 10 * time.Second

// FileResolver reads a file referenced by the document. path is the
// decoded value of the image request's path parameter.
type FileResolver interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// state is everything a request is checked and answered against. It is
// replaced as a whole, never mutated in place.
type state struct {
	document string
	token    string
	allowed  string // normalized IP, or "" for any caller
}

// Server is the authenticated content endpoint.
type Server struct {
	files   FileResolver
	log     *slog.Logger
	metrics *metrics.Metrics

	mu sync.RWMutex
	st state

	lmu sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// New returns a stopped Server with a fresh session token. files may be nil,
// in which case every image request is answered with 404. m may be nil to
// disable metric recording (e.g. in tests).
func New(files FileResolver, log *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		files:   files,
		log:     log,
		metrics: m,
		st:      state{token: newToken()},
	}
}

// Start listens on port (0 picks a free one) and serves in the background.
// A new session token is generated for every start.
func (s *Server) Start(port int) error {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	if s.srv != nil {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("%w %d: %w", ErrBind, port, err)
	}
	s.RotateToken()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	s.srv, s.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("content server error", slog.String("error", err.Error()))
		}
	}()

	s.log.Info("content server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
// It is a no-op on a server that is not started.
func (s *Server) Stop(ctx context.Context) error {
	s.lmu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.lmu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("content server shutdown: %w", err)
	}
	s.log.Info("content server stopped")
	return nil
}

// Port returns the port the server is listening on.
func (s *Server) Port() (int, error) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.ln == nil {
		return 0, ErrNotStarted
	}
	return s.ln.Addr().(*net.TCPAddr).Port, nil
}

// InstallDocument replaces the served HTML. Responses already being written
// keep the document they started with.
func (s *Server) InstallDocument(html string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.document = html
}

// SetAllowedClient pins requests to ip (plus loopback). An empty ip clears
// the pin.
func (s *Server) SetAllowedClient(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.allowed = normalizeIP(ip)
	if ip != "" {
		s.log.Debug("allowed client set", slog.String("ip", s.st.allowed))
	}
}

// AllowedClient returns the pinned IP, or "".
func (s *Server) AllowedClient() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.allowed
}

// RotateToken replaces the session token and returns the new one. The old
// token stops authorizing requests immediately.
func (s *Server) RotateToken() string {
	t := newToken()
	s.mu.Lock()
	s.st.token = t
	s.mu.Unlock()
	return t
}

// Token returns the current session token.
func (s *Server) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.token
}

func (s *Server) snapshot() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
