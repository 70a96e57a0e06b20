package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nutribin/feedrelay/internal/api"
	"github.com/nutribin/feedrelay/internal/config"
	"github.com/nutribin/feedrelay/internal/ctrlsrv"
	"github.com/nutribin/feedrelay/internal/hub"
	"github.com/nutribin/feedrelay/internal/metrics"
	"github.com/nutribin/feedrelay/internal/relay"
)

// Server bundles the relay with the HTTP surface exposing it.
type Server struct {
	Relay    *relay.Relay
	Hub      *hub.Hub
	Registry *prometheus.Registry
	Handler  http.Handler
}

// New wires a hub, a relay and the router serving them.
func New(cfg config.ServerConfig) *Server {
	cfg.SetDefaults()
	h := hub.New(cfg.SendBuffer)
	rl := relay.New(h)

	preg := prometheus.NewRegistry()
	preg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(preg)

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	state := &api.StateHandler{Relay: rl, Hub: h, Interval: cfg.StateInterval}

	r.Get("/", ViewerHandler(cfg.WSPath))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle(cfg.WSPath, ctrlsrv.WSHandler(rl, h, ctrlsrv.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		WriteTimeout:    cfg.WriteTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}))
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/state", state.GetState)
		ar.Get("/state/stream", state.GetStateStream)
	})
	if !cfg.SeparateMetrics() {
		r.Handle("/metrics", promhttp.HandlerFor(preg, promhttp.HandlerOpts{}))
	}

	return &Server{Relay: rl, Hub: h, Registry: preg, Handler: r}
}

// MetricsHandler serves the server's Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}
