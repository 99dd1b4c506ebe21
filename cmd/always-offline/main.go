package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	alwaysoffline "github.com/always-cache/always-offline"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	adminPortFlag      int
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", "always-offline.yml", "Config file")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.IntVar(&adminPortFlag, "admin-port", 0, "Port of the admin API (disabled if 0)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("agent", version).Logger()

	config, err := getConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Str("file", configFlag).Msg("Could not read config")
	}
	scope, err := config.scopeURL()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse scope")
	}
	storage, err := newStorage(config.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open storage")
	}
	defer storage.Close()

	networkConfig := alwaysoffline.DefaultNetworkConfig()
	networkConfig.ServerName = config.Host
	reg, err := alwaysoffline.NewRegistration(alwaysoffline.Config{
		Scope:   *scope,
		Storage: storage,
		Network: alwaysoffline.NewNetwork(&networkConfig),
		Logger:  &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create registration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// without an installed version every request is passed through
	if _, err := reg.Register(ctx, config.manifest()); err != nil {
		log.Error().Err(err).Msg("Initial install failed, passing requests through until updated")
	}

	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: reg,
	}}
	if adminPortFlag != 0 {
		servers = append(servers, &http.Server{
			Addr: fmt.Sprintf(":%d", adminPortFlag),
			Handler: newAdminRouter(&admin{
				reg:        reg,
				configFile: configFlag,
				log:        log.Logger.With().Str("component", "admin").Logger(),
			}),
		})
		log.Info().Msgf("Admin API on port %v", adminPortFlag)
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Str("addr", srv.Addr).Msg("Server failed")
			}
		}(srv)
	}
	log.Info().Msgf("Serving %s on port %v", scope.String(), portFlag)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("addr", srv.Addr).Msg("Could not shut down server")
		}
	}
	// let pending cache writes finish
	if err := reg.Drain(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Pending cache writes dropped")
	}
}
