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

	"github.com/nixxel-company-limited/escpos-print-pipeline/adapter"
	"github.com/nixxel-company-limited/escpos-print-pipeline/api"
	"github.com/nixxel-company-limited/escpos-print-pipeline/config"
	"github.com/nixxel-company-limited/escpos-print-pipeline/dispatch"
	"github.com/nixxel-company-limited/escpos-print-pipeline/driver"
	"github.com/nixxel-company-limited/escpos-print-pipeline/job"
	"github.com/nixxel-company-limited/escpos-print-pipeline/link"
	"github.com/nixxel-company-limited/escpos-print-pipeline/logging"
	"github.com/nixxel-company-limited/escpos-print-pipeline/server"
	"github.com/nixxel-company-limited/escpos-print-pipeline/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LogLevel, os.Stdout)
	logger.Info().
		Str("backend", cfg.Backend).
		Str("server_address", cfg.ServerAddress).
		Str("api_address", cfg.APIAddress).
		Msg("starting print pipeline")

	svc, cleanup, err := newService(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up printer backend")
	}
	defer cleanup()

	sess := session.New(logging.Component(logger, "session"))
	l := link.New(svc, sess, cfg.ConnectGrace, logging.Component(logger, "link"))
	d := dispatch.New(l, sess, job.NewEncoder(nil), dispatch.Options{
		JobTimeout:   cfg.JobTimeout,
		ChunkTimeout: cfg.ChunkTimeout,
		BusyPolicy:   dispatch.ParseBusyPolicy(cfg.BusyPolicy),
		QueueDepth:   cfg.QueueDepth,
	}, logging.Component(logger, "dispatch"))
	defer d.Close()

	svr := server.NewWithLogger(d, cfg.ServerAddress, logging.Component(logger, "server"))
	svr.SetChunking(cfg.ChunkSize, cfg.ChunkDelay)
	if err := svr.StartAsync(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start raw intake server")
	}
	defer svr.Stop()

	httpServer := &http.Server{
		Addr:              cfg.APIAddress,
		Handler:           api.NewRouter(d, cfg.APISecret, logging.Component(logger, "api")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api server shutdown")
	}
}

// newService builds the driver service for the configured backend
func newService(cfg *config.Config, logger zerolog.Logger) (driver.Service, func(), error) {
	drvLogger := logging.Component(logger, "driver")
	adpLogger := logging.Component(logger, "adapter")

	switch cfg.Backend {
	case config.BackendSim:
		sim := driver.NewSim()
		sim.Caps = driver.Capabilities{RawBytes: true, DirectWrite: true, Density: true}
		return sim, func() {}, nil

	case config.BackendSerial:
		a := adapter.NewSerialAdapter(cfg.SerialDevice, cfg.SerialBaud, adpLogger)
		return driver.NewEscpos(a, drvLogger), func() {}, nil

	default:
		var (
			a   *adapter.USBAdapter
			err error
		)
		if cfg.USBVendor != 0 && cfg.USBProduct != 0 {
			a, err = adapter.NewUSBAdapter(cfg.USBVendor, cfg.USBProduct, adpLogger)
		} else {
			a, err = adapter.NewUSBAdapterAuto(adpLogger)
		}
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := a.Shutdown(); err != nil {
				adpLogger.Warn().Err(err).Msg("error releasing usb device")
			}
		}
		return driver.NewEscpos(a, drvLogger), cleanup, nil
	}
}
