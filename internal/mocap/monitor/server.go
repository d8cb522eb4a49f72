package monitor

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/facecap/internal/httputil"
	"github.com/banshee-data/facecap/internal/mocap/animator"
	"github.com/banshee-data/facecap/internal/mocap/network"
	"github.com/banshee-data/facecap/internal/monitoring"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// Controller is the part of the animator the HTTP surface needs.
type Controller interface {
	RequestCalibration()
	Snapshot() animator.Snapshot
}

// ConnectionSource returns the current receiver connection, or nil.
type ConnectionSource interface {
	Connection() *network.Connection
}

// ServerConfig contains configuration options for the web server.
type ServerConfig struct {
	Address  string
	Animator Controller
	Receiver ConnectionSource
	Stats    *PacketStats
	History  *PoseHistory
	// Gatherer is served at /metrics when set.
	Gatherer prometheus.Gatherer
	// Stream is mounted at /ws/pose when set.
	Stream http.Handler
	// Attach adds extra routes, such as the database admin pages.
	Attach func(mux *http.ServeMux)
}

// Server is the operator HTTP interface.
type Server struct {
	cfg    ServerConfig
	server *http.Server
}

// NewServer builds the mux for cfg. The listener is not opened until Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Stats == nil {
		cfg.Stats = NewPacketStats()
	}
	if cfg.History == nil {
		cfg.History = NewPoseHistory(0, 0)
	}
	s := &Server{cfg: cfg}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until ctx is cancelled, then shuts down. A listen failure is
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := s.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleStatusPage)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/calibrate", s.handleCalibrate)
	mux.HandleFunc("/api/pose/history", s.handlePoseHistory)
	mux.HandleFunc("/debug/pose-chart", s.handlePoseChart)
	mux.HandleFunc("/debug/pose.png", s.handlePosePNG)
	if s.cfg.Gatherer != nil {
		mux.Handle("/metrics", monitoring.HTTPHandler(s.cfg.Gatherer))
	}
	if s.cfg.Stream != nil {
		mux.Handle("/ws/pose", s.cfg.Stream)
	}
	if s.cfg.Attach != nil {
		s.cfg.Attach(mux)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "facecap", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// ReceiverStatus describes the current receiver connection.
type ReceiverStatus struct {
	Running   bool   `json:"running"`
	Connected bool   `json:"connected"`
	Port      int    `json:"port,omitempty"`
	Filter    string `json:"filter,omitempty"`
	LocalAddr string `json:"local_addr,omitempty"`
}

// Status is the body of GET /api/status.
type Status struct {
	Receiver ReceiverStatus     `json:"receiver"`
	Stats    *StatsSnapshot     `json:"stats,omitempty"`
	Uptime   string             `json:"uptime"`
	Animator *animator.Snapshot `json:"animator,omitempty"`
}

func (s *Server) status() Status {
	st := Status{
		Stats:  s.cfg.Stats.LatestSnapshot(),
		Uptime: s.cfg.Stats.Uptime().Round(time.Second).String(),
	}
	if s.cfg.Receiver != nil {
		if c := s.cfg.Receiver.Connection(); c != nil {
			st.Receiver = ReceiverStatus{
				Running:   c.Running(),
				Connected: c.Connected(),
				Port:      c.Port,
				Filter:    c.Filter,
				LocalAddr: c.LocalAddr().String(),
			}
		}
	}
	if s.cfg.Animator != nil {
		snap := s.cfg.Animator.Snapshot()
		st.Animator = &snap
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	st := s.status()
	receiverState := "stopped"
	switch {
	case st.Receiver.Connected:
		receiverState = "receiving"
	case st.Receiver.Running:
		receiverState = "listening"
	}
	data := struct {
		Port          int
		Filter        string
		ReceiverState string
		Uptime        string
		Stats         *StatsSnapshot
		Animator      animator.Snapshot
	}{
		Port:          st.Receiver.Port,
		Filter:        st.Receiver.Filter,
		ReceiverState: receiverState,
		Uptime:        st.Uptime,
		Stats:         st.Stats,
	}
	if st.Animator != nil {
		data.Animator = *st.Animator
	}

	var buf bytes.Buffer
	if err := statusTemplate.Execute(&buf, data); err != nil {
		http.Error(w, "Error rendering template: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.Animator == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "animator not running")
		return
	}
	s.cfg.Animator.RequestCalibration()
	monitoring.Logf("[monitor] calibration requested by %s", r.RemoteAddr)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "calibration requested"})
}

func (s *Server) handlePoseHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.cfg.History.Samples())
}

func (s *Server) handlePoseChart(w http.ResponseWriter, r *http.Request) {
	final := r.URL.Query().Get("final") != ""
	var buf bytes.Buffer
	if err := RenderPoseChart(&buf, s.cfg.History.Samples(), final); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handlePosePNG(w http.ResponseWriter, r *http.Request) {
	samples := s.cfg.History.Samples()
	if len(samples) < 2 {
		httputil.WriteJSONError(w, http.StatusNotFound, "not enough pose samples")
		return
	}
	var buf bytes.Buffer
	if err := RenderPosePNG(&buf, samples, r.URL.Query().Get("final") != ""); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}
