package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/guileen/pgcluster/cluster"
	"github.com/guileen/pgcluster/config"
	"github.com/guileen/pgcluster/logger"
	"github.com/guileen/pgcluster/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRegistry registers the cluster, its pools and the runtime collectors
func NewRegistry(c *cluster.Cluster) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return reg, nil
}

type handler struct {
	cluster *cluster.Cluster
	logger  *slog.Logger
}

// commandControlBody is the wire form of network.CommandControl
type commandControlBody struct {
	NetworkTimeoutMs   int64 `json:"network_timeout_ms"`
	StatementTimeoutMs int64 `json:"statement_timeout_ms"`
}

// NewRouter builds the HTTP surface of the process
func NewRouter(c *cluster.Cluster, reg *prometheus.Registry, log *slog.Logger) http.Handler {
	h := &handler{cluster: c, logger: log.With(logger.Component("http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/stats", h.stats)
	r.Get("/topology", h.topology)
	r.Post("/topology/check", h.checkTopology)
	r.Get("/command-control", h.commandControl)
	r.Put("/command-control", h.setCommandControl)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.HandleFunc("/debug/pprof/", pprof.Index)
	r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	r.HandleFunc("/debug/pprof/profile", pprof.Profile)
	r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	r.HandleFunc("/debug/pprof/trace", pprof.Trace)
	r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	r.Handle("/debug/pprof/block", pprof.Handler("block"))
	r.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))

	return r
}

func (h *handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithContextValue(r.Context(), logger.RequestIDKey, middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.WithContext(h.logger, ctx).Debug("request served",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
		)
	})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	topology := h.cluster.Topology()
	body := map[string]any{
		"cluster_id": h.cluster.ID(),
		"primary":    len(topology[cluster.Primary]) > 0,
	}
	if topology.Empty() {
		body["status"] = "unavailable"
		h.writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "ok"
	h.writeJSON(w, http.StatusOK, body)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cluster.Statistics())
}

// topology lists hosts by role name with passwords removed
func (h *handler) topology(w http.ResponseWriter, r *http.Request) {
	out := map[string][]string{}
	for ht, dsns := range h.cluster.Topology() {
		for _, dsn := range dsns {
			out[ht.String()] = append(out[ht.String()], network.CutPassword(dsn))
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) checkTopology(w http.ResponseWriter, r *http.Request) {
	result := h.cluster.CheckTopology(r.Context())
	status := http.StatusOK
	switch result {
	case cluster.TopologyBusy:
		status = http.StatusConflict
	case cluster.TopologyFailed:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, map[string]string{"result": result.String()})
}

func (h *handler) commandControl(w http.ResponseWriter, r *http.Request) {
	cmdCtl := h.cluster.DefaultCommandControl()
	h.writeJSON(w, http.StatusOK, commandControlBody{
		NetworkTimeoutMs:   cmdCtl.Network.Milliseconds(),
		StatementTimeoutMs: cmdCtl.Statement.Milliseconds(),
	})
}

func (h *handler) setCommandControl(w http.ResponseWriter, r *http.Request) {
	var body commandControlBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cmdCtl := network.CommandControl{
		Network:   time.Duration(body.NetworkTimeoutMs) * time.Millisecond,
		Statement: time.Duration(body.StatementTimeoutMs) * time.Millisecond,
	}
	if err := cmdCtl.Validate(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.cluster.SetDefaultCommandControl(cmdCtl)
	h.logger.Info("default command control updated",
		logger.Duration("network_timeout", cmdCtl.Network),
		logger.Duration("statement_timeout", cmdCtl.Statement),
	)
	h.commandControl(w, r)
}

// Server serves the HTTP surface for the lifetime of the application
type Server struct {
	server *http.Server
	logger *slog.Logger

	addr net.Addr
}

// NewServer creates the HTTP server and binds it to the application lifecycle
func NewServer(lc fx.Lifecycle, cfg *config.Config, h http.Handler, log *slog.Logger) *Server {
	s := &Server{
		server: &http.Server{
			Addr:              cfg.HTTP.Address,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log.With(logger.Component("http")),
	}
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
	return s
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.logger.Info("HTTP server listening", logger.String("addr", s.addr.String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", logger.ErrorField(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	return s.addr
}
