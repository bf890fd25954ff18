// Package server exposes the current bundle and its metadata over HTTP so a
// userscript manager can poll them during development.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/disco0/usbundle/internal/bundle"
	"github.com/disco0/usbundle/internal/version"
)

const (
	cacheControl  = "no-store, max-age=0"
	contentTypeJS = "text/javascript; charset=utf-8"
	notBuiltYet   = "bundle not built yet"
	writeTimeout  = 10 * time.Second
)

// Server answers bundle, metadata and listing requests from a bundle.State.
// It never triggers a rebuild.
type Server struct {
	endpoints  Endpoints
	state      *bundle.State
	requireURL string
	events     *Hub
	logger     *slog.Logger
	header     string

	httpServer *http.Server
	listener   net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithRequireURL sets the URL injected as @require into served metadata.
// The default is the bundle URL of the bound address.
func WithRequireURL(url string) Option {
	return func(s *Server) { s.requireURL = url }
}

// WithLogger sets a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHub sets the hub rebuild events are streamed from.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.events = h }
}

// New creates a Server reading from state.
func New(state *bundle.State, endpoints Endpoints, opts ...Option) *Server {
	s := &Server{
		endpoints: endpoints,
		state:     state,
		logger:    slog.Default(),
		header:    version.GetInfo().ServerHeader(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.events == nil {
		s.events = NewHub()
	}

	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Endpoints returns the URLs the server answers on. After Listen the port
// is the one actually bound.
func (s *Server) Endpoints() Endpoints { return s.endpoints }

// RequireURL returns the URL injected as @require into served metadata.
func (s *Server) RequireURL() string {
	if s.requireURL != "" {
		return s.requireURL
	}

	return s.endpoints.BundleURL()
}

// Hub returns the hub rebuild events are streamed from.
func (s *Server) Hub() *Hub { return s.events }

// Listen binds the server address. Serve must be called afterwards. Port 0
// binds an ephemeral port, which Endpoints reports from then on.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.endpoints.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.endpoints.Addr(), err)
	}

	s.listener = ln

	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		s.endpoints.Port = tcp.Port
	}

	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}

	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}

	return nil
}

// Shutdown closes event streams and waits for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.events.Close()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Cache-Control", cacheControl)
	h.Set("Server", s.header)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	switch r.URL.Path {
	case BundlePath:
		s.serveBundle(w)
	case MetaPath:
		s.serveMeta(w)
	case InfoPath, RootPath:
		s.serveListing(w, http.StatusOK)
	case EventsPath:
		s.serveEvents(w, r)
	default:
		s.serveListing(w, http.StatusBadRequest)
	}

	s.logger.Debug("request", slog.String("method", r.Method), slog.String("path", r.URL.Path))
}

func (s *Server) serveBundle(w http.ResponseWriter) {
	a := s.state.Load()
	if a == nil {
		http.Error(w, notBuiltYet, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", contentTypeJS)
	_, _ = io.WriteString(w, a.Bundle)
}

func (s *Server) serveMeta(w http.ResponseWriter) {
	a := s.state.Load()
	if a == nil {
		http.Error(w, notBuiltYet, http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", contentTypeJS)
	_, _ = io.WriteString(w, a.Metadata.WithRequire(s.RequireURL()).String())
}

var listingTemplate = template.Must(template.New("listing").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>usbundle</title></head>
<body style="font-family: monospace">
<p>{{if .BadRequest}}Bad Request. {{end}}Available urls:</p>
<ul>
{{- range .URLs}}
<li><a href="{{.}}">{{.}}</a></li>
{{- end}}
</ul>
<p id="status">{{.Status}}</p>
<script>
(() => {
  const status = document.getElementById("status");
  const ws = new WebSocket({{.EventsURL}});
  ws.onmessage = (msg) => {
    const ev = JSON.parse(msg.data);
    status.textContent = ev.ok
      ? "rebuilt at " + ev.timestamp + " in " + ev.duration_ms + "ms"
      : "rebuild failed at " + ev.timestamp + ": " + ev.error;
  };
})();
</script>
</body>
</html>
`))

type listingData struct {
	BadRequest bool
	URLs       []string
	EventsURL  string
	Status     string
}

func (s *Server) serveListing(w http.ResponseWriter, status int) {
	data := listingData{
		BadRequest: status != http.StatusOK,
		URLs:       s.endpoints.Listed(),
		EventsURL:  s.endpoints.EventsURL(),
		Status:     "waiting for first build",
	}

	if a := s.state.Load(); a != nil {
		data.Status = "serving " + a.OutputPath
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := listingTemplate.Execute(w, data); err != nil {
		s.logger.Warn("rendering listing", slog.String("error", err.Error()))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream carries no secrets and is read by pages on any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	output, cancel := s.events.Subscribe()
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-output:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))

				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}

			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
