// cmd/kiosk/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"joinrecs/internal/config"
	"joinrecs/internal/server"
	"joinrecs/internal/session"
	"joinrecs/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("KIOSK_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootstrap.Fatal().Err(err).Msg("failed to load config")
	}
	logger := cfg.Logger()
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("kiosk stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.ValidateAdmin(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to flush traces")
		}
	}()

	stack, closeStorage, err := server.OpenStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	authority, err := session.NewAuthority(session.AuthorityConfig{
		PassphraseHash: cfg.Admin.PassphraseHash,
		TokenSecret:    []byte(cfg.Admin.TokenSecret),
		TokenTTL:       cfg.Admin.TokenTTL,
		LoginEvery:     cfg.Admin.LoginRate,
		LoginBurst:     cfg.Admin.LoginBurst,
	})
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: cfg.HTTP.Address,
		Handler: server.NewRouter(server.Deps{
			Roster:     stack.Roster,
			Attendance: stack.Attendance,
			Authority:  authority,
			Location:   loc,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("address", cfg.HTTP.Address).
			Str("timezone", loc.String()).
			Str("guest_mode", cfg.Kiosk.GuestMode).
			Msg("starting kiosk")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
