package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/luaspeech/internal/config"
	"github.com/obiente/translate/luaspeech/internal/engine"
	serverhttp "github.com/obiente/translate/luaspeech/internal/http"
	"github.com/obiente/translate/luaspeech/internal/session"
	"github.com/obiente/translate/luaspeech/internal/telemetry"
	"github.com/obiente/translate/luaspeech/internal/translation"
	"github.com/obiente/translate/luaspeech/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Logger = log.Level(cfg.Level())

	eng, err := engine.Open(cfg.Backend, engine.Options{
		Threads:  cfg.Threads,
		Language: cfg.Language,
		Logger:   log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("engine unavailable")
	}

	rec := telemetry.NewRecorder(log.Logger)
	sess := session.New(eng, session.WithLogger(log.Logger), session.WithRecorder(rec))
	defer sess.Close()

	sc, err := cfg.Session()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid model configuration")
	}
	if _, err := sess.Init(sc); err != nil {
		log.Fatal().Err(err).Msg("model load failed")
	}

	streaming := ws.NewServer(sess,
		translation.New(cfg.TranslationBaseURL, cfg.TranslationTimeoutSec, log.Logger),
		ws.Options{TranslationEnabled: cfg.TranslationEnabled, MaxCandidates: cfg.MaxCandidates},
		log.Logger)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: serverhttp.NewRouter(serverhttp.Deps{
			Session:   sess,
			Recorder:  rec,
			Streaming: streaming,
			Logger:    log.Logger,
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown incomplete")
		}
	}()

	log.Info().Str("addr", cfg.Addr).Str("backend", eng.Name()).Msg("luaspeech server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}
