package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nutribin/feedrelay/internal/config"
	"github.com/nutribin/feedrelay/internal/hub"
	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/metrics"
	"github.com/nutribin/feedrelay/internal/secret"
	"github.com/nutribin/feedrelay/internal/server"
	"github.com/nutribin/feedrelay/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	var cfg config.ServerConfig
	cfg.SetDefaults()
	cfg.ApplyEnv()
	// The config file sits between env and flags: read it first using the
	// --config value if one was given, then let flags override.
	if path := configPathFromArgs(os.Args[1:], cfg.ConfigFile); path != "" {
		if err := cfg.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", path).Msg("load config")
		}
		cfg.ApplyEnv()
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	cfg.BindFlags(flag.CommandLine)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "feedrelay version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("feedrelay version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := serverstate.NewRedisStore(ctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logx.Log.Fatal().Err(err).Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		serverstate.UseStore(rs)
		logx.Log.Info().Str("addr", secret.MaskURL(cfg.RedisAddr)).Msg("mirroring relay state to redis")
	}

	metrics.SetBuildInfo(version, buildSHA, buildDate)
	s := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Request contexts outlive ctx so open WebSocket connections can finish
	// their close handshake during shutdown.
	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()
	base := func(net.Listener) context.Context { return connCtx }
	srv := &http.Server{Addr: cfg.ListenAddr(), Handler: s.Handler, BaseContext: base, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if cfg.SeparateMetrics() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.MetricsHandler())
		metricsSrv = &http.Server{Addr: cfg.MetricsListenAddr(), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if serverstate.IsDraining() || cfg.DrainTimeout <= 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			serverstate.StartDrain()
			logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int("connections", s.Hub.Count()).Msg("draining; send SIGTERM again to terminate immediately")
			go func(d time.Duration) {
				time.Sleep(d)
				logx.Log.Warn().Msg("drain timeout exceeded; terminating")
				cancel()
			}(cfg.DrainTimeout)
		}
	}()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		s.Hub.CloseAll()
		waitForConnections(shutdownCtx, s.Hub)
		cancelConns()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}
	}()

	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsListenAddr()).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	serverstate.SetState("ready")
	logx.Log.Info().Int("port", cfg.Port).Str("ws_path", cfg.WSPath).Str("version", version).Msg("relay starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-stopped
}

// waitForConnections blocks until every WebSocket handler has unregistered
// from h or ctx is done.
func waitForConnections(ctx context.Context, h *hub.Hub) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for h.Count() > 0 {
		select {
		case <-ctx.Done():
			logx.Log.Warn().Int("connections", h.Count()).Msg("closing remaining connections")
			return
		case <-t.C:
		}
	}
}

// configPathFromArgs returns the value of --config/-config in args, or def.
func configPathFromArgs(args []string, def string) string {
	for i, a := range args {
		switch {
		case a == "--config" || a == "-config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		}
	}
	return def
}
