// Package httpapi exposes the chat service to the survey page: session
// creation, the chat endpoint, and a static dev page.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crtlab/crtchat/internal/conversation"
	"github.com/crtlab/crtchat/internal/session"
	"github.com/crtlab/crtchat/pkg/observability"
	"github.com/crtlab/crtchat/pkg/security"
)

// Error kinds surfaced to clients. The message is always generic; the
// kind tells the embedding page what to do next.
const (
	KindInvalidSessionFormat = "invalid_session_format"
	KindUpstreamUnavailable  = "upstream_unavailable"
	KindRateLimited          = "rate_limited"
	KindBadRequest           = "bad_request"
	KindInternal             = "internal_error"
)

// Server handles the public HTTP surface.
type Server struct {
	svc       *conversation.Service
	limiter   *security.RateLimiter
	cors      *corsPolicy
	staticDir string
}

// Options configures a Server.
type Options struct {
	Service *conversation.Service
	Limiter *security.RateLimiter
	// ExtraOrigin is an additional exact origin allowed by CORS, on top
	// of localhost and the survey platform subdomains.
	ExtraOrigin string
	// StaticDir serves a local dev chat page when non-empty.
	StaticDir string
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	return &Server{
		svc:       opts.Service,
		limiter:   opts.Limiter,
		cors:      newCORSPolicy(opts.ExtraOrigin),
		staticDir: opts.StaticDir,
	}
}

// Handler returns the routed handler with CORS, rate limiting, and
// request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.handleSession)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	var h http.Handler = mux
	h = s.rateLimit(h)
	h = s.cors.middleware(h)
	h = withMetrics(h)
	h = withRequestID(h)
	return h
}

// withRequestID tags every response with a request id, minted here unless
// the proxy already supplied one. Error logs can then be correlated with
// participant reports without exposing session ids.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
	TestPID   string `json:"test_pid,omitempty"`
}

// handleSession creates a session for the embedding survey page. The pid
// query parameter is the survey's own participant id; it is logged with
// the session so the two records can be joined.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	pid := r.URL.Query().Get("pid")

	sess, err := s.svc.StartSession(r.Context(), pid)
	if err != nil {
		log.Printf("httpapi: session creation failed: %v", err)
		writeError(w, http.StatusInternalServerError, KindInternal)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sess.ID, TestPID: pid})
}

// chatRequest accepts the loose field names the survey page has used
// over time.
type chatRequest struct {
	SessionID string `json:"session_id"`
	TestPID   string `json:"test_pid"`
	PID       string `json:"pid"`
	Message   string `json:"message"`
	Msg       string `json:"msg"`
}

func (c chatRequest) message() string {
	if c.Message != "" {
		return c.Message
	}
	return c.Msg
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Arm       string `json:"arm"`
	Reply     string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, KindBadRequest)
		return
	}
	msg := strings.TrimSpace(req.message())
	if msg == "" {
		writeError(w, http.StatusBadRequest, KindBadRequest)
		return
	}

	reply, err := s.svc.Converse(r.Context(), req.SessionID, msg)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSessionFormat):
			writeError(w, http.StatusBadRequest, KindInvalidSessionFormat)
		case errors.Is(err, conversation.ErrUpstreamUnavailable):
			log.Printf("httpapi: upstream unavailable: %v", err)
			writeError(w, http.StatusBadGateway, KindUpstreamUnavailable)
		default:
			log.Printf("httpapi: chat failed: %v", err)
			writeError(w, http.StatusInternalServerError, KindInternal)
		}
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: reply.SessionID,
		Arm:       string(reply.Arm),
		Reply:     reply.Text,
	})
}

// rateLimit rejects clients over their request budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, KindRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(ip)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		observability.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(rec.status), time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, errorResponse{
		Error: "The assistant is unavailable right now. Please try again.",
		Kind:  kind,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
