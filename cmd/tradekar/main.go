// tradekar — automated intraday trading for NSE equities and derivatives.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tradekar/tradekar/api"
	"github.com/tradekar/tradekar/internal/bot"
	"github.com/tradekar/tradekar/internal/broker"
	"github.com/tradekar/tradekar/internal/catalog"
	"github.com/tradekar/tradekar/internal/config"
	"github.com/tradekar/tradekar/internal/logging"
	"github.com/tradekar/tradekar/internal/sched"
	"github.com/tradekar/tradekar/internal/vault"
	"github.com/tradekar/tradekar/pkg/models"
	"github.com/tradekar/tradekar/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes follow sysexits conventions.
const (
	exitOK       = 0
	exitUsage    = 64
	exitConfig   = 65
	exitInternal = 70
	exitAuth     = 77
)

// exitError carries a process exit code out of a RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

// Global config
var cfg *config.Config

func main() {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitUsage)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tradekar",
	Short: "tradekar — automated intraday trading for Indian markets",
	Long: `tradekar runs an automated trading engine for NSE equities and
derivatives: pluggable broker adapters (Zerodha Kite, paper simulator),
an indicator/strategy pipeline, risk-based sizing, and an HTTP control
plane for operating the bot.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return exitf(exitConfig, "load config: %v", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml, ~/.tradekar/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tradekar %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the control plane and bot supervisor",
	Long: `Start the HTTP control plane and the bot supervisor, and serve until
SIGINT/SIGTERM. The bot itself starts trading only when told to via
POST /api/bot/start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return exitf(exitConfig, "invalid config: %v", err)
		}
		if err := serve(); err != nil {
			var ee *exitError
			if errors.As(err, &ee) {
				return err
			}
			return exitf(exitInternal, "%v", err)
		}
		return nil
	},
}

// serve wires every component and blocks until shutdown.
func serve() error {
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logging.SetGlobalLogger(logger)

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("data_dir", cfg.DataDir).
		Msg("tradekar starting")

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	vlt, err := vault.New(cfg.DataDir, cfg.MasterKey, logger)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}
	if !vlt.Enabled() {
		logger.Warn().Msg("APP_MASTER_KEY not set; live credentials unavailable, paper trading only")
	}

	// Instruments: prefer the last live snapshot, fall back to the builtin
	// universe so paper trading works on a cold install.
	cat := catalog.New(cfg.DataDir, logger)
	if err := cat.LoadCached("zerodha"); err != nil {
		if err := cat.LoadCached("builtin"); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := cat.Refresh(ctx, catalog.Universe{}); err != nil {
				logger.Warn().Err(err).Msg("builtin catalog seed failed")
			}
			cancel()
		}
	}
	logger.Info().Int("instruments", cat.Count()).Msg("catalog ready")

	store, err := config.NewStore(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("init config store: %w", err)
	}

	activity := bot.NewActivityLog(cfg.Activity.Capacity)
	activity.Subscribe(func(a models.Activity) {
		bot.CountActivity(string(a.Kind))
	})

	manager := broker.NewManager(broker.EventSinkFunc(func(a models.Activity) {
		activity.Add(a)
	}), logger)

	supervisor := bot.NewSupervisor(manager, cat, activity, bot.Options{
		RequestTimeout: time.Duration(cfg.Broker.RequestTimeoutSec) * time.Second,
		HistoryTimeout: time.Duration(cfg.Broker.HistoryTimeoutSec) * time.Second,
	}, logger)

	sessions, err := api.NewSessionStore(cfg.DataDir, time.Duration(cfg.Session.TTLHours)*time.Hour, logger)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	hub := api.NewHub(logger)
	activity.Subscribe(func(a models.Activity) {
		hub.Broadcast(api.Message{Type: "activity", Data: a})
	})
	supervisor.OnStatus(func(st bot.Status) {
		hub.Broadcast(api.Message{Type: "status", Data: st})
	})

	scheduler := sched.New(logger)
	if err := registerJobs(scheduler, manager, cat, sessions, vlt, activity); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	srv := api.NewServer(cfg, api.Deps{
		Manager:    manager,
		Vault:      vlt,
		Catalog:    cat,
		Store:      store,
		Supervisor: supervisor,
		Sessions:   sessions,
		Hub:        hub,
		Version:    version,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run()
	go supervisor.Run(ctx)
	scheduler.Start()
	defer scheduler.Stop()

	// Blocks until SIGINT/SIGTERM, then drains in-flight requests.
	if err := srv.ListenAndServe(cfg.Addr()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	// Wind the trading loop down before the process exits.
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = supervisor.Stop(stopCtx)

	logger.Info().Msg("tradekar stopped")
	return nil
}

// registerJobs wires the recurring maintenance work: instrument catalog
// refresh, session expiry sweep, and access-token expiry warnings.
func registerJobs(s *sched.Scheduler, manager *broker.Manager, cat *catalog.Catalog, sessions *api.SessionStore, vlt *vault.Vault, activity *bot.ActivityLog) error {
	// Hourly catalog refresh, only while a live session is up; the paper
	// broker trades whatever snapshot is already loaded.
	if err := s.AddJob("0 0 * * * *", sched.JobFunc{
		JobName: "catalog-refresh",
		Fn: func() error {
			st := manager.Status()
			if st.Broker != "zerodha" || !st.Connected {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			return cat.Refresh(ctx, manager.Kite())
		},
	}); err != nil {
		return err
	}

	if err := s.AddJob("0 * * * * *", sched.JobFunc{
		JobName: "session-sweep",
		Fn: func() error {
			sessions.Sweep()
			return nil
		},
	}); err != nil {
		return err
	}

	// Kite access tokens die at 07:30 IST daily. Warn the operator ahead
	// of the cutoff, once per token.
	var warnedExpiry time.Time
	if err := s.AddJob("30 * * * * *", sched.JobFunc{
		JobName: "token-expiry-watch",
		Fn: func() error {
			st := manager.Status()
			if st.Broker != "zerodha" || !st.Connected {
				return nil
			}
			cred, err := vlt.Load("zerodha")
			if err != nil || cred.ExpiresAt == nil {
				return nil
			}
			expiry := *cred.ExpiresAt
			if time.Until(expiry) > 30*time.Minute || expiry.Equal(warnedExpiry) {
				return nil
			}
			warnedExpiry = expiry
			msg := fmt.Sprintf("access token expires at %s; re-authenticate via OAuth before then",
				utils.FormatDateTimeIST(expiry))
			if time.Now().After(expiry) {
				msg = "access token has expired; re-authenticate via OAuth"
			}
			activity.Add(models.Activity{
				Kind:    models.ActivityWarning,
				Level:   models.LevelWarning,
				Message: msg,
			})
			return nil
		},
	}); err != nil {
		return err
	}

	return nil
}

// --- Check Command ---

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration, vault, and broker reachability",
	Long: `Run preflight checks and print a report: process configuration,
data directory, credential vault round-trip, and broker reachability.
Exits 0 when healthy, 65 on config problems, 77 on credential problems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck()
	},
}

func runCheck() error {
	fmt.Println("═══════════════════════════════════════")
	fmt.Println("  tradekar — Preflight Check")
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Version:       %s (%s)\n", version, commit)
	fmt.Printf("  Market Status: %s\n", utils.MarketStatus())
	fmt.Printf("  Time (IST):    %s\n", utils.FormatDateTimeIST(utils.NowIST()))
	fmt.Println()

	failCode := exitOK

	// Config.
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  ❌ config:   %v\n", err)
		return exitf(exitConfig, "configuration invalid")
	}
	fmt.Printf("  ✅ config:   %s, data dir %s\n", cfg.Addr(), cfg.DataDir)

	// Data dir.
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		fmt.Printf("  ❌ data dir: %v\n", err)
		return exitf(exitConfig, "data dir not writable")
	}
	fmt.Printf("  ✅ data dir: writable\n")

	logger := logging.New(logging.Config{Level: "error"})

	// Vault round-trip: seal, unseal, compare, clean up.
	vlt, err := vault.New(cfg.DataDir, cfg.MasterKey, logger)
	if err != nil {
		fmt.Printf("  ❌ vault:    %v\n", err)
		return exitf(exitAuth, "vault init failed")
	}
	if !vlt.Enabled() {
		fmt.Printf("  ⚠️  vault:    disabled (APP_MASTER_KEY not set); paper trading only\n")
	} else {
		probe := models.Credential{Broker: "check-probe", APIKey: "probe"}
		if err := vaultRoundTrip(vlt, probe); err != nil {
			fmt.Printf("  ❌ vault:    round-trip failed: %v\n", err)
			return exitf(exitAuth, "vault round-trip failed")
		}
		fmt.Printf("  ✅ vault:    round-trip ok\n")

		// Stored bundles must decrypt under the current master key.
		for _, name := range vlt.List() {
			if name == "check-probe" {
				continue
			}
			if _, err := vlt.Load(name); err != nil {
				fmt.Printf("  ❌ vault:    %s: %v\n", name, err)
				failCode = exitAuth
				continue
			}
			fmt.Printf("  ✅ vault:    %s decrypts\n", name)
		}
	}

	// Broker reachability.
	fmt.Printf("  ✅ broker:   paper (in-process, always available)\n")
	if vlt.Enabled() && vlt.Has("zerodha") {
		code := checkZerodha(vlt, logger)
		if code != exitOK {
			failCode = code
		}
	} else {
		fmt.Printf("  ⚠️  broker:   zerodha not configured (connect via the control plane)\n")
	}

	fmt.Println("═══════════════════════════════════════")
	if failCode != exitOK {
		return exitf(failCode, "preflight check failed")
	}
	fmt.Println("  All checks passed.")
	return nil
}

// vaultRoundTrip saves, reloads, compares, and deletes a probe credential.
func vaultRoundTrip(vlt *vault.Vault, probe models.Credential) error {
	if err := vlt.Save(probe.Broker, probe); err != nil {
		return err
	}
	defer func() { _ = vlt.Delete(probe.Broker) }()

	got, err := vlt.Load(probe.Broker)
	if err != nil {
		return err
	}
	if got.APIKey != probe.APIKey {
		return fmt.Errorf("reloaded credential does not match")
	}
	return nil
}

// checkZerodha attempts a live connect with the stored credentials.
func checkZerodha(vlt *vault.Vault, logger zerolog.Logger) int {
	cred, err := vlt.Load("zerodha")
	if err != nil {
		fmt.Printf("  ❌ broker:   zerodha: %v\n", err)
		return exitAuth
	}
	if !cred.HasAccessToken(time.Now()) {
		fmt.Printf("  ⚠️  broker:   zerodha: access token missing or expired; re-authenticate via OAuth\n")
		return exitOK
	}

	manager := broker.NewManager(broker.NopSink, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Connect(ctx, cred); err != nil {
		if broker.KindOf(err) == broker.KindAuth {
			fmt.Printf("  ❌ broker:   zerodha rejected the stored credentials: %v\n", err)
			return exitAuth
		}
		fmt.Printf("  ⚠️  broker:   zerodha unreachable: %v\n", err)
		return exitOK
	}
	_ = manager.Disconnect(ctx)
	fmt.Printf("  ✅ broker:   zerodha reachable, credentials accepted\n")
	return exitOK
}
