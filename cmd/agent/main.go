// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/iyemte/collector-agent-and-server/internal/agent"
	"github.com/iyemte/collector-agent-and-server/internal/config"
	"github.com/iyemte/collector-agent-and-server/internal/delivery"
	"github.com/iyemte/collector-agent-and-server/internal/spool"
	"github.com/iyemte/collector-agent-and-server/internal/sysinfo"
	"github.com/iyemte/collector-agent-and-server/pkg/host"
)

var (
	setupLog logr.Logger

	devLogging bool
)

func init() {
	flag.BoolVar(&devLogging, "dev-logging", false,
		"Use a human-readable console log format instead of JSON")
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
	log := zapr.NewLogger(zapLog)
	setupLog = log.WithName("setup")
}

func main() {
	logger := setupLog.WithName("agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		setupLog.Error(err, "failed to load config file")
		os.Exit(1)
	}

	var spoolOpts []spool.Option
	spoolOpts = append(spoolOpts, spool.WithLogger(logger))
	if cfg.Spool.Directory != "" {
		spoolOpts = append(spoolOpts, spool.WithDataDir(cfg.Spool.Directory))
	}
	if cfg.Spool.QuotaBytes > 0 {
		spoolOpts = append(spoolOpts, spool.WithQuotaBytes(cfg.Spool.QuotaBytes))
	}
	store, err := spool.New(spoolOpts...)
	if err != nil {
		setupLog.Error(err, "failed to open spool directory")
		os.Exit(1)
	}
	setupLog.Info("spool ready", "dir", store.Dir(), "quota_bytes", store.QuotaBytes())

	machineID, err := host.Identity()
	if err != nil {
		setupLog.Error(err, "failed to determine machine identity")
		os.Exit(1)
	}

	deliveryOpts := []delivery.Option{delivery.WithLogger(logger)}
	if cfg.Collector.Address != "" {
		deliveryOpts = append(deliveryOpts, delivery.WithCollectorAddress(cfg.Collector.Address))
	}
	if cfg.Collector.FallbackURL != "" {
		deliveryOpts = append(deliveryOpts, delivery.WithHTTPFallback(cfg.Collector.FallbackURL))
	}
	client, err := delivery.New(store, machineID, deliveryOpts...)
	if err != nil {
		setupLog.Error(err, "failed to create delivery client")
		os.Exit(1)
	}

	source := sysinfo.NewCollector(logger)

	runnerOpts := []agent.Option{agent.WithLogger(logger)}
	if cfg.Intervals.Collection > 0 || cfg.Intervals.Send > 0 {
		runnerOpts = append(runnerOpts, agent.WithIntervals(agent.Intervals{
			Collection: cfg.Intervals.Collection,
			Send:       cfg.Intervals.Send,
		}))
	}
	if cfg.Spool.RetentionDays > 0 {
		runnerOpts = append(runnerOpts, agent.WithRetention(cfg.Retention()))
	}
	runner := agent.NewRunner(source, store, client, runnerOpts...)

	if path := config.DefaultPath(); path != "" {
		watcher, err := config.NewWatcher(path, logger)
		if err != nil {
			setupLog.Error(err, "failed to watch config file", "path", path)
			os.Exit(1)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				setupLog.Error(err, "failed to close config watcher")
			}
		}()
		go func() {
			for updated := range watcher.Updates() {
				runner.Reconfigure(agent.Intervals{
					Collection: updated.Intervals.Collection,
					Send:       updated.Intervals.Send,
				})
			}
		}()
	}

	setupLog.Info("starting agent", "machine_id", machineID)
	if err := runner.Start(ctx); err != nil {
		setupLog.Error(err, "agent exited with error")
		os.Exit(1)
	}
	setupLog.Info("agent stopped")
}
