package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arko05roy/TVA-Protocol-sub002/internal/executor"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/gateway"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/orchestrator"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/planner"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/replay"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/store"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/subnet"
	"github.com/arko05roy/TVA-Protocol-sub002/internal/treasury"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/config"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/leader"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/ledger"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/lock"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/messaging"
	"github.com/arko05roy/TVA-Protocol-sub002/pkg/metrics"
	"github.com/arko05roy/TVA-Protocol-sub002/shared/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgClient, err := messaging.NewClient(cfg.NATS.URL, messaging.ClientOptions{
		Name:          "settlementd",
		ReconnectWait: time.Second,
		MaxReconnects: -1,
	})
	if err != nil {
		logger.Fatal("failed to connect to NATS", zap.Error(err))
	}
	defer msgClient.Close()

	gw, signers := buildLedger(cfg, logger)
	recordStore := buildStore(ctx, cfg, logger)
	locks := buildLocks(cfg)

	replayLedger := replay.New(recordStore, gw, cfg.Settlement.ScanWindow, logger)
	treasuryProvider := treasury.New(gw, cfg.Settlement.FetchAttempts, cfg.Settlement.FetchBackoff, logger)
	settlementPlanner := planner.New(cfg.Settlement.BatchLimit, gw.BaseFee, logger)
	orch := orchestrator.New(gw, orchestrator.Config{
		SubmitAttempts: cfg.Settlement.SubmitAttempts,
		SubmitBackoff:  cfg.Settlement.SubmitBackoff,
		PollAttempts:   cfg.Settlement.PollAttempts,
		PollInterval:   cfg.Settlement.PollInterval,
	}, logger)

	exec := executor.New(cfg.Vault.Address, replayLedger, treasuryProvider, settlementPlanner,
		orch, signers, locks, cfg.Settlement.LockTTL, logger)

	fetcher := subnet.NewClient(msgClient, cfg.NATS.RequestTimeout)

	var emitter *metrics.Emitter
	if cfg.Influx.Enabled {
		emitter = metrics.NewEmitter(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, logger)
		defer emitter.Close()
	}

	api := gateway.New(replayLedger, msgClient, cfg.HTTP.JWTSecret, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: api.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// With multiple instances only the elected leader consumes commitment
	// events; the vault sequence number tolerates exactly one writer.
	if cfg.Etcd.Enabled {
		elector, err := leader.NewElector(cfg.Etcd.Endpoints, cfg.Vault.Address, logger)
		if err != nil {
			logger.Fatal("failed to set up leader election", zap.Error(err))
		}
		hostname, _ := os.Hostname()
		if err := elector.Campaign(ctx, hostname); err != nil {
			logger.Fatal("failed to acquire leadership", zap.Error(err))
		}
		defer elector.Resign(context.Background())
		go func() {
			<-elector.Done()
			logger.Error("etcd session lost, stopping settlement loop")
			cancel()
		}()
	}

	listener := messaging.NewCommitmentListener(msgClient, cfg.NATS.EventBuffer, logger)
	if err := listener.Start(); err != nil {
		logger.Fatal("failed to subscribe to commitment events", zap.Error(err))
	}

	logger.Info("settlement engine started",
		zap.String("vault", cfg.Vault.Address),
		zap.String("ledger_mode", cfg.Ledger.Mode),
		zap.String("store_mode", cfg.Store.Mode),
	)

	go runSettlementLoop(ctx, cancel, listener, exec, fetcher, msgClient, api, emitter, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced to shut down", zap.Error(err))
	}
}

// runSettlementLoop consumes one commitment event at a time. A must-halt
// failure stops the engine entirely; an operator has to intervene before any
// further settlement is attempted.
func runSettlementLoop(ctx context.Context, cancel context.CancelFunc, listener *messaging.CommitmentListener, exec *executor.Executor, fetcher executor.WithdrawalFetcher, msgClient *messaging.Client, api *gateway.Gateway, emitter *metrics.Emitter, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-listener.Events():
			started := time.Now()
			result, err := exec.OnCommitmentEvent(ctx, event, fetcher)

			if result != nil {
				outcome := messaging.NewSettlementOutcome(event, result)
				subject := messaging.SubjectSettlementConfirmed
				if result.Status == types.ResultFailed {
					subject = messaging.SubjectSettlementFailed
				}
				if perr := msgClient.Publish(ctx, subject, outcome); perr != nil {
					logger.Warn("failed to publish settlement outcome", zap.Error(perr))
				}
				api.Broadcast(outcome)
				emitter.RecordSettlement(ctx, event, result, len(result.TxHashes), time.Since(started))
			}

			if err != nil {
				if types.MustHalt(err) {
					logger.Error("safety invariant violated, halting settlement engine",
						zap.String("subnet_id", event.SubnetID),
						zap.Uint64("block_number", event.BlockNumber),
						zap.Error(err),
					)
					cancel()
					return
				}
				logger.Error("settlement attempt did not reach a terminal state",
					zap.String("subnet_id", event.SubnetID),
					zap.Uint64("block_number", event.BlockNumber),
					zap.Error(err),
				)
			}
		}
	}
}

func buildLedger(cfg *config.Config, logger *zap.Logger) (ledger.Gateway, []ledger.Signer) {
	switch cfg.Ledger.Mode {
	case "memory":
		gw := ledger.NewMemoryGateway()
		signers := make([]ledger.Signer, 0, len(cfg.Vault.SignerSeeds))
		for _, seed := range cfg.Vault.SignerSeeds {
			signers = append(signers, &ledger.StaticSigner{Addr: seed})
		}
		return gw, signers
	case "horizon":
		gw := ledger.NewHorizonGateway(ledger.HorizonConfig{
			HorizonURL:        cfg.Ledger.HorizonURL,
			NetworkPassphrase: cfg.Ledger.NetworkPassphrase,
			RequestTimeout:    cfg.Ledger.RequestTimeout,
		}, logger)
		signers := make([]ledger.Signer, 0, len(cfg.Vault.SignerSeeds))
		for _, seed := range cfg.Vault.SignerSeeds {
			signer, err := ledger.NewKeypairSigner(seed, cfg.Ledger.NetworkPassphrase)
			if err != nil {
				logger.Fatal("failed to parse signer seed", zap.Error(err))
			}
			signers = append(signers, signer)
		}
		return gw, signers
	default:
		logger.Fatal("unknown ledger mode", zap.String("mode", cfg.Ledger.Mode))
		return nil, nil
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) store.Store {
	switch cfg.Store.Mode {
	case "memory":
		return store.NewMemoryStore()
	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pg := store.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to ensure schema", zap.Error(err))
		}
		return pg
	default:
		logger.Fatal("unknown store mode", zap.String("mode", cfg.Store.Mode))
		return nil
	}
}

func buildLocks(cfg *config.Config) lock.Manager {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		return lock.NewRedisManager(client, "")
	}
	return lock.NewLocalManager()
}
