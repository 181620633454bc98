// ============================================================================
// zerog-bots CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands for running the bots and managing the referral ledger
//
// Command Structure:
//   zerog-bots                     # Root command
//   ├── run                        # Run the configured flow for every selected wallet
//   ├── status                     # Print the last run summary
//   ├── modules                    # List registered modules
//   ├── ledger
//   │   ├── list                   # Print every referral code and its usage
//   │   └── add <wallet> <code>    # Add a referral code by hand
//   ├── serve-ledger               # Share one ledger with other bot processes over gRPC
//   │   └── --listen              # Listen address
//   ├── --config, -c               # Config file (default: configs/default.yaml)
//   └── --log-level                # Overrides log_level from the config
//
// run Command:
//   1. Load .env and the config file
//   2. Load wallets, open the ledger and the journal
//   3. Start the admin server (if metrics.enabled)
//   4. Run every wallet, then write the summary
//   5. SIGINT / SIGTERM interrupt sleeps and requests; partial summary is still written
//
//   Examples:
//     ./zerog-bots run
//     ./zerog-bots run -c custom-config.yaml --log-level debug
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/zerog-bots/internal/accounts"
	"github.com/ChuLiYu/zerog-bots/internal/action"
	"github.com/ChuLiYu/zerog-bots/internal/config"
	"github.com/ChuLiYu/zerog-bots/internal/controller"
	"github.com/ChuLiYu/zerog-bots/internal/ledger"
	"github.com/ChuLiYu/zerog-bots/internal/logging"
	"github.com/ChuLiYu/zerog-bots/internal/metrics"
	"github.com/ChuLiYu/zerog-bots/internal/module"
	"github.com/ChuLiYu/zerog-bots/internal/runner"
	"github.com/ChuLiYu/zerog-bots/internal/server"
	"github.com/ChuLiYu/zerog-bots/internal/snapshot"
	"github.com/ChuLiYu/zerog-bots/internal/tracker"
	"github.com/ChuLiYu/zerog-bots/pkg/types"
)

// Version is set by the build
var Version = "dev"

type rootOptions struct {
	configFile string
	logLevel   string
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "zerog-bots",
		Short: "zerog-bots: 0G testnet automation for many wallets",
		Long: `zerog-bots runs on-chain and campaign actions for every configured wallet:
- faucets, staking and mints on the 0G testnet
- Puzzlemania quests with X account linking
- shared referral-code ledger (file, redis or gRPC)`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "configs/default.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides log_level)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildStatusCommand(opts))
	rootCmd.AddCommand(buildModulesCommand())
	rootCmd.AddCommand(buildLedgerCommand(opts))
	rootCmd.AddCommand(buildServeLedgerCommand(opts))

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the configured flow for every selected wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBots(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func runBots(ctx context.Context, cfg *config.Config, out io.Writer) (err error) {
	wallets, err := accounts.Load(cfg.Files)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	runs := tracker.New()

	l, closeLedger, err := controller.OpenLedger(cfg.Ledger, collector.LedgerObserver())
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { err = multierr.Append(err, closeLedger()) }()

	rec, err := controller.OpenJournal(ctx, cfg.Journal)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { err = multierr.Append(err, rec.Close()) }()

	registry, err := newRegistry(runs, collector)
	if err != nil {
		return err
	}

	ctrl, err := controller.New(controller.Deps{
		Config:      cfg,
		Wallets:     wallets,
		Registry:    registry,
		Ledger:      l,
		Journal:     rec,
		Metrics:     collector,
		Tracker:     runs,
		Summary:     snapshot.NewManager(cfg.SummaryPath),
		DialChain:   controller.RPCDialer(cfg),
		NewSessions: controller.BrowserSessions(cfg),
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	adminCtx, stopAdmin := context.WithCancel(gctx)
	defer stopAdmin()

	var summary types.RunSummary
	g.Go(func() error {
		defer stopAdmin()
		var runErr error
		summary, runErr = ctrl.Run(gctx)
		return runErr
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(adminCtx, cfg.Metrics.Addr, metrics.NewRouter(prometheus.DefaultGatherer, runs))
		})
	}

	runErr := g.Wait()
	if len(summary.Wallets) > 0 {
		printSummary(out, summary)
	}
	return runErr
}

// newRegistry 鏈上模組加上 puzzlemania；hooks 將任務狀態回報給 tracker 與指標
func newRegistry(runs *tracker.Tracker, collector *metrics.Collector) (*module.Registry, error) {
	hooks := runner.Hooks{}
	if runs != nil {
		hooks.State = func(w types.Wallet, state types.RunState, taskIndex int) {
			runs.Observe(w.Index, state, taskIndex)
		}
	}
	if collector != nil {
		hooks.Task = collector.RecordTask
	}

	mods := append(action.Modules(), runner.NewModule(hooks))
	return module.NewRegistry(mods...)
}

// ============================================================================
// status / modules
// ============================================================================

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			mgr := snapshot.NewManager(cfg.SummaryPath)
			if !mgr.Exists() {
				fmt.Fprintf(cmd.OutOrStdout(), "No run summary at %s\n", mgr.GetPath())
				return nil
			}
			summary, err := mgr.Load()
			if err != nil {
				return fmt.Errorf("failed to load run summary: %w", err)
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func buildModulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List available modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := newRegistry(nil, nil)
			if err != nil {
				return err
			}
			for _, name := range registry.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// printSummary 以彩色輸出摘要；非終端機時 color 自動停用
func printSummary(w io.Writer, s types.RunSummary) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	bold.Fprintln(w, "  zerog-bots run summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════")
	if s.StartedAt > 0 {
		started := time.UnixMilli(s.StartedAt)
		fmt.Fprintf(w, "Started:  %s\n", started.Format(time.DateTime))
		if s.FinishedAt > 0 {
			fmt.Fprintf(w, "Duration: %s\n", time.UnixMilli(s.FinishedAt).Sub(started).Round(time.Second))
		}
	}
	fmt.Fprintf(w, "Wallets:  %d total, ", len(s.Wallets))
	green.Fprintf(w, "%d completed", s.Stats[string(types.WalletCompleted)])
	fmt.Fprint(w, ", ")
	red.Fprintf(w, "%d failed", s.Stats[string(types.WalletFailed)])
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	for _, run := range s.Wallets {
		c := yellow
		switch run.Status {
		case types.WalletCompleted:
			c = green
		case types.WalletFailed:
			c = red
		}
		fmt.Fprintf(w, "#%-4d %s ", run.Index, run.Address)
		c.Fprintf(w, "%-9s", run.Status)
		if len(run.Succeeded) > 0 {
			fmt.Fprintf(w, " ok=%v", run.Succeeded)
		}
		if len(run.Failed) > 0 {
			fmt.Fprintf(w, " failed=%v", run.Failed)
		}
		if run.Error != "" {
			fmt.Fprintf(w, " error=%q", run.Error)
		}
		fmt.Fprintln(w)
	}
}

// ============================================================================
// ledger
// ============================================================================

func buildLedgerCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the referral-code ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List referral codes and their usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l ledger.Ledger) error {
				records, err := l.Records(ctx)
				if err != nil {
					return fmt.Errorf("failed to list referral codes: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No referral codes")
					return nil
				}
				fmt.Fprintf(out, "%-44s %-16s %s\n", "WALLET", "CODE", "INVITES")
				for _, r := range records {
					fmt.Fprintf(out, "%-44s %-16s %d\n", r.Wallet, r.Code, r.Invites)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <wallet> <code>",
		Short: "Add a referral code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, opts, func(ctx context.Context, l ledger.Ledger) error {
				added, err := l.AddNewCode(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("failed to add referral code: %w", err)
				}
				if added {
					fmt.Fprintf(cmd.OutOrStdout(), "Added %s for %s\n", args[1], args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Code %s already present\n", args[1])
				}
				return nil
			})
		},
	})

	return cmd
}

func withLedger(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, ledger.Ledger) error) (err error) {
	cfg, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	l, closeLedger, err := controller.OpenLedger(cfg.Ledger, nil)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { err = multierr.Append(err, closeLedger()) }()
	return fn(cmd.Context(), l)
}

// ============================================================================
// serve-ledger
// ============================================================================

func buildServeLedgerCommand(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve-ledger",
		Short: "Serve the local ledger over gRPC",
		Long:  "Serve the file or redis ledger over gRPC so several bot processes can use ledger.backend=remote.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cfg.Ledger.Backend == config.LedgerRemote {
				return fmt.Errorf("%w: serve-ledger needs a file or redis backend", config.ErrInvalidConfig)
			}
			if listen == "" {
				listen = cfg.Ledger.RemoteAddr
			}

			l, closeLedger, err := controller.OpenLedger(cfg.Ledger, nil)
			if err != nil {
				return fmt.Errorf("failed to open ledger: %w", err)
			}
			defer func() { err = multierr.Append(err, closeLedger()) }()

			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", listen, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Serve(ctx, lis, l)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default: ledger.remote_addr)")
	return cmd
}

// ============================================================================
// helpers
// ============================================================================

// loadConfig 讀入 .env 與設定檔，並設定 logger
func loadConfig(opts *rootOptions, logOut io.Writer) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if _, err := logging.Setup(cfg.LogLevel, logOut); err != nil {
		return nil, err
	}
	log.Debug().Str("config", opts.configFile).Msg("config loaded")
	return cfg, nil
}
