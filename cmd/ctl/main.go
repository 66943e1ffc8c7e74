// Package main provides ctl, a local command-line client exercising
// the Trading Control Service (C10) directly against the same process
// model the orchestrator runs in-process (spec.md §1 Non-goals: no
// HTTP/REST surface).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ardenq/fleettrader/internal/account"
	"github.com/ardenq/fleettrader/internal/config"
	"github.com/ardenq/fleettrader/internal/control"
	"github.com/ardenq/fleettrader/internal/pool"
)

var (
	configPath string
	envPath    string
	workerBin  string
)

func main() {
	root := &cobra.Command{
		Use:   "ctl",
		Short: "Operate the trading orchestrator's control plane",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to credentials .env file")
	root.PersistentFlags().StringVar(&workerBin, "worker-bin", "./worker", "Path to the worker process binary")

	root.AddCommand(startCmd(), stopCmd(), statusCmd(), emergencyStopCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildService() (*control.Service, *pool.Pool, *account.Registry, error) {
	if err := account.LoadDotEnv(envPath); err != nil {
		return nil, nil, nil, err
	}
	set, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	registry := account.NewRegistry()
	for accountID := range set.Accounts {
		creds, err := account.CredentialsFromEnv(accountID)
		if err != nil {
			continue
		}
		registry.Put(&account.Account{ID: accountID, Credentials: creds, Active: true})
	}
	p := pool.New(workerBin)
	checker := control.NewCachingAutoTradingChecker(control.NewPoolAutoTradingChecker(p))
	return control.NewService(p, registry, checker), p, registry, nil
}

func startCmd() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start trading for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := buildService()
			if err != nil {
				return err
			}
			out := svc.StartAccountTrading(context.Background(), accountID, true)
			printOutcome(out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "Account ID")
	return cmd
}

func stopCmd() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop trading for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := buildService()
			if err != nil {
				return err
			}
			out := svc.StopAccountTrading(accountID)
			printOutcome(out)
			return nil
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "Account ID")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show trading status for every active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := buildService()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			statuses := svc.GetGlobalTradingStatus(ctx)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Account", "Status", "Message"})
			for accountID, out := range statuses {
				table.Append([]string{fmt.Sprintf("%d", accountID), out.Status, out.Message})
			}
			table.Render()
			return nil
		},
	}
	return cmd
}

func emergencyStopCmd() *cobra.Command {
	var closeAll bool
	cmd := &cobra.Command{
		Use:   "emergency-stop",
		Short: "Engage the global emergency stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, err := buildService()
			if err != nil {
				return err
			}
			out := svc.EmergencyStop(context.Background(), closeAll)
			printOutcome(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&closeAll, "close-all", false, "Also request all open positions be closed")
	return cmd
}

func printOutcome(out control.Outcome) {
	status := "FAILED"
	if out.Success {
		status = "OK"
	}
	fmt.Printf("[%s] %s\n", status, out.Message)
	for _, hint := range out.Hints {
		fmt.Printf("  hint: %s\n", hint)
	}
}
