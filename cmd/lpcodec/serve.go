package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/basekick-labs/lineprotocol/internal/api"
	"github.com/basekick-labs/lineprotocol/internal/circuitbreaker"
	"github.com/basekick-labs/lineprotocol/internal/config"
	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/internal/logger"
	"github.com/basekick-labs/lineprotocol/internal/metrics"
	"github.com/basekick-labs/lineprotocol/internal/shutdown"
	"github.com/rs/zerolog/log"
)

// runServe runs the write API until SIGINT/SIGTERM or a listen failure.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	port := fs.Int("port", 0, "Listen port (default from config: 8086)")
	dir := fs.String("dir", "", "Output directory for flushed batches")
	format := fs.String("format", "", "Output file format: parquet or msgpack")
	fs.Parse(args)

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dir != "" {
		cfg.Output.Dir = *dir
	}
	if *format != "" {
		cfg.Output.Format = *format
	}

	log.Info().Str("version", Version).Msg("Starting lpcodec...")
	return serve(cfg)
}

func serve(cfg *config.Config) error {
	in, err := resolveInput(cfg)
	if err != nil {
		return err
	}
	precision, err := ingest.ParsePrecision(cfg.Output.Precision)
	if err != nil {
		return err
	}

	m := metrics.Init(logger.Get("metrics"))
	shutdownCoordinator := shutdown.New(cfg.Server.ShutdownTimeout, logger.Get("shutdown"))

	var parquetWriter *ingest.ParquetWriter
	if cfg.Output.Format == ingest.FormatParquet {
		parquetWriter, err = ingest.NewParquetWriter(cfg.Output.ParquetCodec, precision, logger.Get("parquet"))
		if err != nil {
			return err
		}
	}
	sink, err := ingest.NewDirSink(cfg.Output.Dir, cfg.Output.Format, parquetWriter, logger.Get("sink"))
	if err != nil {
		return fmt.Errorf("failed to create output sink: %w", err)
	}
	shutdownCoordinator.Register("sink", sink, shutdown.PrioritySink)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "output",
		MaxFailures: cfg.Output.BreakerMaxFailures,
		Timeout:     cfg.Output.BreakerTimeout,
	}, logger.Get("breaker"))

	buffer := ingest.NewBuffer(ingest.BufferConfig{
		MaxPoints:     cfg.Buffer.MaxPoints,
		FlushInterval: cfg.Buffer.FlushInterval,
		Workers:       cfg.Buffer.Workers,
	}, ingest.NewBreakerSink(sink, breaker), m, logger.Get("buffer"))
	shutdownCoordinator.Register("buffer", buffer, shutdown.PriorityBuffer)

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    api.DefaultServerConfig().IdleTimeout,
		MaxPayloadSize: cfg.Server.MaxPayloadSize,
	}, m, logger.Get("api"))

	parser := ingest.NewParser(in.parser, logger.Get("parser"))
	writeHandler := api.NewWriteHandler(api.WriteConfig{
		MaxDecompressedSize: in.maxSize,
		Precision:           precision,
		RetryAfter:          cfg.Output.BreakerTimeout,
	}, parser, buffer, m, logger.Get("write"))
	writeHandler.RegisterRoutes(server.App())

	// Register HTTP server shutdown hook (first to stop accepting new requests)
	shutdownCoordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	}, shutdown.PriorityHTTPServer)

	listenErr := server.Start()
	failed := make(chan error, 1)
	go func() {
		if err, ok := <-listenErr; ok && err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
			failed <- err
			shutdownCoordinator.Trigger()
		}
	}()

	log.Info().
		Int("port", cfg.Server.Port).
		Str("dir", cfg.Output.Dir).
		Str("format", cfg.Output.Format).
		Str("version", Version).
		Msg("lpcodec is ready!")

	sig := shutdownCoordinator.Wait()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	if err := shutdownCoordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown completed with errors")
		return err
	}
	log.Info().Msg("lpcodec shutdown complete")

	select {
	case err := <-failed:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}
