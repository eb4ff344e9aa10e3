package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edward-ap/liveradio/internal/config"
	"github.com/edward-ap/liveradio/internal/player"
	"github.com/edward-ap/liveradio/internal/radioapp"
)

func main() {
	trace := flag.Bool("traceLog", false, "enable trace logging and verbose libVLC logging to vlc.log")
	backend := flag.String("backend", "", "playback backend: native or vlc (overrides config)")
	headless := flag.Bool("headless", false, "play without a window until interrupted")
	url := flag.String("url", "", "stream or playlist URL to play")
	flag.Parse()

	level := zerolog.InfoLevel
	if *trace {
		level = zerolog.TraceLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
	log.Logger = logger
	player.SetTraceLoggingEnabled(*trace)

	if err := config.LoadEnv(); err != nil {
		logger.Warn().Err(err).Msg("env file ignored")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("config load failed, using defaults")
		cfg = config.NewDefault()
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	be, err := radioapp.NewBackend(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("backend unavailable")
	}

	if *headless {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := radioapp.RunHeadless(ctx, cfg, be, *url, logger)
		stop()
		be.Close()
		if err != nil {
			logger.Fatal().Err(err).Msg("headless playback failed")
		}
		return
	}

	app, err := radioapp.NewApp(cfg, be, logger)
	if err != nil {
		be.Close()
		logger.Fatal().Err(err).Msg("start failed")
	}
	if *url != "" {
		app.PlayURL(*url)
	}
	app.Run()
}
