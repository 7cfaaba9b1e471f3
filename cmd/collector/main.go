// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

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

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iyemte/collector-agent-and-server/internal/gateway"
	"github.com/iyemte/collector-agent-and-server/internal/ingest"
	"github.com/iyemte/collector-agent-and-server/internal/ingress"
	"github.com/iyemte/collector-agent-and-server/internal/server"
)

var (
	setupLog logr.Logger

	// CLI Options (alphabetical order)
	devLogging    bool
	mongoURI      string
	statsInterval time.Duration
)

func init() {
	flag.BoolVar(&devLogging, "dev-logging", false,
		"Use a human-readable console log format instead of JSON")
	flag.StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017",
		"MongoDB connection string for the persistence gateway")
	flag.DurationVar(&statsInterval, "stats-interval", 10*time.Second,
		"How often to log stored document counts. Set to 0 to disable.")
	flag.Parse()

	var zapLog *zap.Logger
	var err error
	if devLogging {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	setupLog = zapr.NewLogger(zapLog).WithName("setup")
}

func main() {
	logger := setupLog.WithName("collector")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.NewMongo(ctx, mongoURI, logger)
	if err != nil {
		setupLog.Error(err, "failed to connect to MongoDB", "uri", mongoURI)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gw.Close(shutdownCtx); err != nil {
			setupLog.Error(err, "failed to close MongoDB client")
		}
	}()

	registry := prometheus.NewRegistry()
	ingestor := ingest.New(gw, logger)

	srv, err := server.New(ingestor,
		server.WithLogger(logger),
		server.WithRegisterer(registry),
	)
	if err != nil {
		setupLog.Error(err, "failed to create TCP server")
		os.Exit(1)
	}

	handler := ingress.NewHandler(ingestor, gw, logger)
	httpSrv := &http.Server{
		Addr:              ingress.DefaultAddr(),
		Handler:           handler.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		errCh <- srv.Start(ctx)
	}()

	go func() {
		setupLog.Info("starting HTTP ingress", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	if statsInterval > 0 {
		go logStats(ctx, gw, srv, logger)
	}

	var exitErr error
	remaining := 2
	select {
	case <-ctx.Done():
	case exitErr = <-errCh:
		remaining--
		if exitErr != nil {
			setupLog.Error(exitErr, "component failed, shutting down")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "failed to shut down HTTP ingress")
	}

	// Wait for both servers so the TCP session teardown finishes before the
	// Mongo client closes.
	for ; remaining > 0; remaining-- {
		if err := <-errCh; err != nil && exitErr == nil {
			exitErr = err
		}
	}

	if exitErr != nil {
		os.Exit(1)
	}
	setupLog.Info("collector stopped")
}

func logStats(ctx context.Context, gw *gateway.Mongo, srv *server.Server, logger logr.Logger) {
	log := logger.WithName("stats")
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			profiles, samples, err := gw.Stats(ctx)
			if err != nil {
				log.Error(err, "failed to count stored documents")
				continue
			}
			// Profiles are upserted by machine identity, so their count is
			// the number of distinct machines seen.
			log.Info("collector stats",
				"active_sessions", len(srv.Sessions()),
				"machines", profiles,
				"samples", samples)
		}
	}
}
