// Package main provides the entry point for the control process: the
// host for the Configuration Resolver, Worker Pool, Health Monitor and
// Trading Control Service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ardenq/fleettrader/internal/account"
	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/control"
	"github.com/ardenq/fleettrader/internal/health"
	"github.com/ardenq/fleettrader/internal/logging"
	"github.com/ardenq/fleettrader/internal/pool"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, envPath, workerBin, logLevel string
	var logJSON bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&envPath, "env", ".env", "Path to credentials .env file")
	flag.StringVar(&workerBin, "worker-bin", "./worker", "Path to the worker process binary")
	flag.StringVar(&logLevel, "log-level", "info", "Log level")
	flag.BoolVar(&logJSON, "log-json", false, "Emit JSON-formatted logs")
	flag.Parse()

	logger := logging.New(logLevel, logJSON)
	log := logging.Component(logger, "orchestrator")

	if err := account.LoadDotEnv(envPath); err != nil {
		log.WithError(err).Error("failed to load credentials file")
		return 1
	}

	set, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}

	registry := account.NewRegistry()
	for accountID := range set.Accounts {
		creds, err := account.CredentialsFromEnv(accountID)
		if err != nil {
			log.WithField(logging.FieldAccountID, accountID).WithError(err).Warn("missing credentials, account will not be startable")
			continue
		}
		registry.Put(&account.Account{
			ID:          accountID,
			Login:       creds.Login,
			Server:      creds.Server,
			Credentials: creds,
			Active:      true,
		})
	}

	workerPool := pool.New(workerBin)
	checker := control.NewCachingAutoTradingChecker(control.NewPoolAutoTradingChecker(workerPool))
	controlSvc := control.NewService(workerPool, registry, checker)

	monitor := health.NewMonitor(workerPool, controlSvc, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("config watcher unavailable; hot reload disabled")
	} else {
		defer watcher.Close()
		if err := watcher.Add(configPath); err != nil {
			log.WithError(err).Warn("failed to watch config file")
		}
		go watchConfig(ctx, watcher, configPath, &set, log)
	}

	if err := monitor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start health monitor")
		return 1
	}
	defer monitor.Stop()

	log.WithField("accounts", len(set.Accounts)).Info("orchestrator ready")

	for _, accountID := range accountIDs(set) {
		acc, ok := registry.Get(accountID)
		if !ok {
			continue
		}
		if err := workerPool.StartWorker(ctx, accountID, acc.Credentials.Login, acc.Credentials.Password, acc.Credentials.Server); err != nil {
			log.WithField(logging.FieldAccountID, accountID).WithError(err).Error("failed to start worker")
		}
	}

	<-sigChan
	log.Info("shutdown signal received, stopping all workers")
	outcomes := workerPool.StopAll(10 * time.Second)
	for accountID, err := range outcomes {
		if err != nil {
			log.WithField(logging.FieldAccountID, accountID).WithError(err).Warn("worker stop reported an error")
		}
	}
	cancel()
	return 0
}

func accountIDs(set *config.ConfigurationSet) []int64 {
	ids := make([]int64, 0, len(set.Accounts))
	for id := range set.Accounts {
		ids = append(ids, id)
	}
	return ids
}

func watchConfig(ctx context.Context, watcher *fsnotify.Watcher, path string, set **config.ConfigurationSet, log interface {
	Info(args ...interface{})
	Warn(args ...interface{})
}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-watcher.Events:
			if !ok {
				return
			}
			next, outcome, err := config.ReloadIfChanged(path, *set)
			if err != nil {
				log.Warn(fmt.Sprintf("config reload failed, retaining previous configuration: %v", err))
				continue
			}
			if outcome == config.Changed {
				*set = next
				log.Info("configuration reloaded")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn(fmt.Sprintf("config watcher error: %v", err))
		}
	}
}
