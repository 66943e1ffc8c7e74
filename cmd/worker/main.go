// Package main provides the entry point for one isolated account
// worker process, hosting the Terminal Session, Signal Composer,
// Position Manager, Symbol Trader and Account Engine for a single
// account (spec.md §4.6).
package main

import (
	"bufio"
	"context"
	"flag"
	"os"

	"github.com/ardenq/fleettrader/internal/account"
	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/engine"
	"github.com/ardenq/fleettrader/internal/ipc"
	"github.com/ardenq/fleettrader/internal/logging"
	"github.com/ardenq/fleettrader/internal/signal"
	"github.com/ardenq/fleettrader/internal/terminal"
)

func main() {
	os.Exit(run())
}

func run() int {
	var accountIDFlag int64
	var configPath, bridgeTarget, logLevel string
	flag.Int64Var(&accountIDFlag, "account-id", 0, "Account ID this worker serves")
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&bridgeTarget, "bridge", "127.0.0.1:50051", "Terminal bridge gRPC target")
	flag.StringVar(&logLevel, "log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(logLevel, false)
	log := logging.ForAccount(logger, accountIDFlag)

	set, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}

	creds, err := account.CredentialsFromEnv(accountIDFlag)
	if err != nil {
		log.WithError(err).Error("failed to load credentials")
		return 1
	}

	session := terminal.NewClient(terminal.DefaultClientConfig(bridgeTarget))

	cmdCh := make(chan ipc.Command, 16)
	resultCh := make(chan ipc.Result, 16)

	stdinReader := bufio.NewReader(os.Stdin)
	stdoutWriter := bufio.NewWriter(os.Stdout)

	go readLoop(stdinReader, cmdCh)
	go writeResults(stdoutWriter, resultCh)

	// The control plane replicates its emergency_stop flag into this
	// worker at runtime via a SetEmergencyStop command (handled inside
	// engine.Engine); no local override is needed here.
	emergencyStop := func() bool { return false }

	eng := engine.New(accountIDFlag, session, log, cmdCh, resultCh, emergencyStop)
	wireCapabilities(eng, set, accountIDFlag)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Connect(ctx, creds.Login, creds.Password, creds.Server); err != nil {
		log.WithError(err).Error("failed to connect to terminal")
		return 1
	}

	intervalSeconds := 60
	for _, symbol := range set.SymbolNames(accountIDFlag) {
		if eff, err := set.Resolve(accountIDFlag, symbol); err == nil {
			intervalSeconds = eff.IntervalSeconds
			break
		}
	}

	if err := eng.Run(ctx, set, intervalSeconds); err != nil {
		log.WithError(err).Error("engine loop exited with error")
		return 1
	}
	return 0
}

// wireCapabilities attaches, per symbol, the regression ML enhancer when
// the effective config sets use_ml_enhancement and the null enhancer
// otherwise (spec.md §4.3). The sentiment filter is always the null
// implementation; use_sentiment_filter is not consulted.
func wireCapabilities(eng *engine.Engine, set *config.ConfigurationSet, accountID int64) {
	eng.SetCapabilityFactories(
		func(eff *config.EffectiveSymbolConfig) signal.Enhancer {
			if eff.UseMLEnhancement {
				return signal.NewRegressionEnhancer(eff.SlowPeriod)
			}
			return signal.NullEnhancer()
		},
		func(eff *config.EffectiveSymbolConfig) signal.SentimentFilter {
			return signal.NullSentimentFilter()
		},
	)
}

func readLoop(r *bufio.Reader, out chan<- ipc.Command) {
	for {
		var cmd ipc.Command
		if err := ipc.ReadFrame(r, &cmd); err != nil {
			close(out)
			return
		}
		out <- cmd
	}
}

func writeResults(w *bufio.Writer, in <-chan ipc.Result) {
	for res := range in {
		if err := ipc.WriteFrame(w, res); err != nil {
			return
		}
		_ = w.Flush()
	}
}
