package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nutribin/feedrelay/internal/config"
	"github.com/nutribin/feedrelay/internal/logx"
	"github.com/nutribin/feedrelay/internal/producer"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ProducerConfig
	cfg.BindFlags(flag.CommandLine)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "feedrelay-producer version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	flag.Parse()
	if *showVersion {
		fmt.Printf("feedrelay-producer version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	p, err := producer.New(cfg)
	if err != nil {
		logx.Log.Fatal().Err(err).Str("frames_dir", cfg.FramesDir).Msg("load frames")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.Log.Error().Err(err).Msg("producer stopped")
		os.Exit(1)
	}
	logx.Log.Info().Msg("producer stopped")
}
