package contentserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"path"
	"strings"

	"castnote/internal/platform/logger"
	"castnote/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Forbidden response bodies.
const (
	ForbiddenDevice = "Forbidden: Unauthorized device"
	ForbiddenToken  = "Forbidden: Invalid or missing session token"
)

const (
	documentContentType = "text/html; charset=utf-8"
	notFoundBody        = "Not found"
)

type ctxKey struct{}

// Handler returns the route table: GET / and GET /image. Authorization runs
// before routing, so an unauthorized caller gets 403 on every path.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(s.log))
	if s.metrics != nil {
		r.Use(metrics.RequestMiddleware(s.metrics))
	}
	r.Use(s.authorize)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	r.Get("/", s.serveDocument)
	r.Get("/image", s.serveImage)
	return r
}

// authorize checks caller IP then token against one snapshot of the server
// state and hands that snapshot to the route.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := s.snapshot()
		ip := callerIP(r)

		if st.allowed != "" && ip != st.allowed && !isLoopback(ip) {
			s.log.Warn("blocked request from unauthorized device", slog.String("ip", ip))
			s.forbid(w, metrics.ReasonDevice, ForbiddenDevice)
			return
		}
		if r.URL.Query().Get("token") != st.token {
			s.forbid(w, metrics.ReasonToken, ForbiddenToken)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, st)))
	})
}

func (s *Server) forbid(w http.ResponseWriter, reason, body string) {
	if s.metrics != nil {
		s.metrics.IncForbidden(reason)
	}
	writeText(w, http.StatusForbidden, body)
}

// serveDocument handles GET /.
func (s *Server) serveDocument(w http.ResponseWriter, r *http.Request) {
	st, _ := r.Context().Value(ctxKey{}).(state)
	w.Header().Set("Content-Type", documentContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(st.document))
}

// serveImage handles GET /image?path=<file>.
func (s *Server) serveImage(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" || s.files == nil {
		notFound(w, r)
		return
	}

	data, err := s.files.ReadFile(r.Context(), p)
	if err != nil {
		s.log.Debug("image not served", slog.String("path", p), slog.String("error", err.Error()))
		notFound(w, r)
		return
	}

	w.Header().Set("Content-Type", ContentType(p))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusNotFound, notFoundBody)
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}

// ContentType maps an image file extension to its MIME type.
func ContentType(name string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "svg":
		return "image/svg+xml"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

// normalizeIP unmaps IPv4-mapped IPv6 addresses (::ffff:A.B.C.D becomes
// A.B.C.D). Strings that are not IPs are returned trimmed.
func normalizeIP(s string) string {
	s = strings.TrimSpace(s)
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().String()
}

func isLoopback(ip string) bool {
	if ip == "localhost" {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	return err == nil && addr.IsLoopback()
}
