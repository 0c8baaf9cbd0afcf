package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"disclosure-trading-bot/config"
	"disclosure-trading-bot/internal/api"
	"disclosure-trading-bot/internal/broker"
	"disclosure-trading-bot/internal/circuit"
	"disclosure-trading-bot/internal/database"
	"disclosure-trading-bot/internal/engine"
	"disclosure-trading-bot/internal/events"
	"disclosure-trading-bot/internal/logging"
	"disclosure-trading-bot/internal/market"
	"disclosure-trading-bot/internal/orders"
	"disclosure-trading-bot/internal/reconcile"
	"disclosure-trading-bot/internal/replicate"
	"disclosure-trading-bot/internal/vault"
)

// Pass names accepted by -pass
const (
	PassExecute   = "execute"
	PassExits     = "exits"
	PassReconcile = "reconcile"
	PassReplicate = "replicate"
	PassServe     = "serve"
)

func main() {
	var (
		passName  = flag.String("pass", PassServe, "pass to run: execute|exits|reconcile|replicate|serve")
		mode      = flag.String("mode", "", "trading mode override: paper|live")
		accountID = flag.String("account", "default", "account to process")
		force     = flag.Bool("force", false, "run replication outside market hours")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Broker.TradingMode = *mode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		Component:  "engine",
		JSONFormat: cfg.Logging.JSONFormat,
	}))
	log := logging.WithComponent("main")

	if err := run(cfg, *passName, *accountID, *force, log); err != nil {
		log.Fatal("Pass failed", "pass", *passName, "error", err)
	}
}

func run(cfg *config.Config, passName, accountID string, force bool, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	repo := database.NewRepository(db)

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
	}
	locker := database.NewPassLocker(redisClient)

	vaultClient, err := vault.NewClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}

	bus := events.NewEventBus()
	breaker := circuit.NewBreaker("broker", &circuit.Config{
		Enabled:         true,
		MaxFailures:     cfg.Engine.BreakerMaxFailures,
		CooldownMinutes: cfg.Engine.BreakerCooldownMins,
	}, bus)
	idGen := orders.NewGenerator(time.UTC)

	auditLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
	tracker := orders.NewLifecycleTracker(repo, auditLog)

	clients := brokerClientFactory(cfg, vaultClient)
	mode := cfg.Broker.TradingMode

	switch passName {
	case PassExecute, PassExits, PassReconcile:
		return runAccountPass(ctx, passName, accountID, mode, cfg, repo, locker, clients, tracker, idGen, breaker, bus, log)

	case PassReplicate:
		hours, err := market.NewHours(cfg.Market)
		if err != nil {
			return err
		}
		scheduler := replicate.NewScheduler(repo, clients, hours, tracker, idGen, bus, cfg.Engine)
		result, err := scheduler.Run(ctx, force)
		if err != nil {
			return err
		}
		log.Info("Replication sweep complete",
			"accounts", result.Accounts, "synced", result.Synced,
			"buys", result.Buys, "sells", result.Sells, "failures", result.Failures,
			"message", result.Message)
		return nil

	case PassServe:
		reconcilers := func(account, m string) (api.Reconciler, error) {
			client, err := clients(context.Background(), account, m)
			if err != nil {
				return nil, err
			}
			return reconcile.NewService(repo, client, bus, account, m, false), nil
		}
		server := api.NewServer(cfg.Server, repo, bus, reconcilers)

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)

	default:
		return fmt.Errorf("unknown pass %q", passName)
	}
}

// runAccountPass takes the account's pass lock, runs the pass, and releases
func runAccountPass(ctx context.Context, passName, accountID, mode string, cfg *config.Config,
	repo *database.Repository, locker *database.PassLocker, clients replicate.ClientFactory,
	tracker *orders.LifecycleTracker, idGen *orders.Generator, breaker *circuit.Breaker,
	bus *events.EventBus, log *logging.Logger) error {

	acquired, err := locker.Acquire(ctx, accountID, mode)
	if err != nil {
		return fmt.Errorf("pass lock: %w", err)
	}
	if !acquired {
		log.Warn("Another pass holds the account lock, skipping",
			"account_id", accountID, "mode", mode)
		return nil
	}
	defer locker.Release(context.Background(), accountID, mode)

	client, err := clients(ctx, accountID, mode)
	if err != nil {
		return fmt.Errorf("broker client: %w", err)
	}

	switch passName {
	case PassExecute:
		executor := engine.NewExecutor(repo, client, tracker, idGen, breaker, bus, cfg.Engine, accountID, mode)
		result, err := executor.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("Execution pass complete",
			"executed", result.Executed, "skipped", result.Skipped,
			"failed", result.Failed, "message", result.Message)

	case PassExits:
		monitor := engine.NewExitMonitor(repo, client, tracker, idGen, breaker, bus, cfg.Engine, accountID, mode)
		result, err := monitor.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("Exit scan complete",
			"scanned", result.Scanned, "closed", result.Closed, "errors", result.Errors)

	case PassReconcile:
		svc := reconcile.NewService(repo, client, bus, accountID, mode, cfg.Engine.AutoCorrectDrift)
		report, err := svc.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("Reconciliation complete",
			"health", report.Health, "drifts", len(report.Drifts),
			"missing_local", len(report.MissingLocal),
			"missing_remote", len(report.MissingRemote),
			"corrected", report.Corrected)
	}
	return nil
}

// brokerClientFactory resolves broker clients per account. Vault-held
// credentials win; config keys are the single-account fallback; simulated
// fills share one in-process paper broker.
func brokerClientFactory(cfg *config.Config, vaultClient *vault.Client) replicate.ClientFactory {
	var paper *broker.PaperClient
	if cfg.Broker.SimulateFills {
		paper = broker.NewPaperClient(100000)
	}

	return func(ctx context.Context, accountID, mode string) (broker.Client, error) {
		if paper != nil {
			return paper, nil
		}
		if vaultClient.IsEnabled() {
			creds, err := vaultClient.GetCredentials(ctx, accountID, mode)
			if err == nil && creds.APIKey != "" {
				return broker.NewHTTPClientWithKeys(creds.APIKey, creds.SecretKey, cfg.Broker, mode), nil
			}
		}
		if cfg.Broker.APIKey == "" {
			return nil, fmt.Errorf("no broker credentials for account %s", accountID)
		}
		return broker.NewHTTPClient(cfg.Broker, mode), nil
	}
}
