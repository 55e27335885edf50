package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TaniLedger/internal/config"
	"TaniLedger/internal/core"
	"TaniLedger/internal/ingestion"
	"TaniLedger/internal/keeper"
	"TaniLedger/internal/observability"
	"TaniLedger/internal/persistence"
	"TaniLedger/internal/projection"
	"TaniLedger/internal/query"
	"TaniLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

const (
	runnerQueueSize  = 1024
	publishQueueSize = 4096
	lruWarmLimit     = 100_000
	shutdownTimeout  = 30 * time.Second
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "path to a YAML/TOML/JSON config file; TANI_* environment variables take precedence",
	EnvVars: []string{"TANI_CONFIG"},
}

func main() {
	app := cli.NewApp()
	app.Name = "tanild"
	app.Usage = "TaniLedger agricultural asset ledger service"
	app.Version = Version
	app.Flags = []cli.Flag{configFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger := observability.NewLogger("tanild")
		logger.Fatal().Err(err).Msg("tanild failed")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	observability.SetLogLevel(cfg.LogLevel)
	logger := observability.NewLogger("tanild")
	logger.Info().Str("version", Version).Msg("TaniLedger starting")
	logger.Debug().Msg(cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := openDB(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	if err := migrate(cfg.DBURL); err != nil {
		return err
	}

	snapMgr, err := persistence.NewSnapshotManager(db)
	if err != nil {
		return err
	}
	defer snapMgr.Close()

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()
	health.Register("postgres", db.PingContext)

	// --- Recovery: snapshot + replay on a scratch core ---
	coreCfg, err := cfg.CoreConfig().Validate()
	if err != nil {
		return err
	}
	recovered, err := persistence.Recover(ctx, snapMgr, coreCfg, metrics, observability.NewLogger("recovery"))
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	ledgerCore, err := core.NewDeterministicCore(coreCfg, 0, persistChan, projectionChan, dbChecker, metrics)
	if err != nil {
		return err
	}
	ledgerCore.RestoreFromSnapshot(recovered.State)

	ids, err := dbChecker.RecentRequestIDs(ctx, min(lruWarmLimit, coreCfg.IdempotencyLRUCapacity))
	if err != nil {
		logger.Warn().Err(err).Msg("LRU warm-up skipped")
	} else {
		ledgerCore.WarmLRU(ids)
	}

	// --- Projection mirror catch-up ---
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, observability.NewLogger("projection"))
	seq := recovered.State.Sequence
	watermark, err := projection.Watermark(ctx, db)
	if err != nil || watermark != seq {
		if err := projWorker.Rebuild(ctx, seq, ledgerCore.FullDelta()); err != nil {
			return fmt.Errorf("projection rebuild: %w", err)
		}
	}

	// --- Admission ---
	runner := core.NewRunner(ledgerCore, runnerQueueSize, observability.NewLogger("core"))

	receipts, err := ingestion.NewReceiptCache(ctx, cfg.ReceiptCacheTTL)
	if err != nil {
		return err
	}
	defer receipts.Close()
	submitter := ingestion.NewSubmitter(runner, receipts, metrics, observability.NewLogger("submit"))

	deps := server.Deps{
		Submitter: submitter,
		Query:     query.NewQueryService(runner, db),
		Health:    health,
		Metrics:   metrics,
		Logger:    observability.NewLogger("api"),
	}

	// The core and its writers outlive the edge so in-flight commands drain.
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	tailCtx, stopTail := context.WithCancel(context.Background())
	defer stopTail()

	errChan := make(chan error, 16)
	var coreWG, writerWG, edgeWG sync.WaitGroup

	spawn(&coreWG, errChan, "core runner", func() error { return runner.Run(coreCtx) })

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	spawn(&writerWG, errChan, "persistence worker", func() error { return persistWorker.Run(tailCtx) })
	spawn(&writerWG, errChan, "projection worker", func() error { return projWorker.Run(tailCtx) })

	// --- NATS ---
	var subscriber *ingestion.CommandSubscriber
	if cfg.NATSEnabled {
		natsLogger := observability.NewLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			return err
		}
		health.Register("nats", natsCheck(nc))

		publisher := ingestion.NewOutboundPublisher(js, publishQueueSize, metrics, natsLogger)
		persistWorker.OnFlushed(publisher.Enqueue)
		spawn(&writerWG, errChan, "outbound publisher", func() error { return publisher.Run(tailCtx) })

		subscriber, err = startSubscriber(ctx, nc, js, submitter, natsLogger)
		if err != nil {
			return err
		}
	}

	// --- Edge servers ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, deps)
	if cfg.GRPCAddr != "" {
		spawn(&edgeWG, errChan, "grpc server", func() error { return grpcServer.Start(ctx) })
	}
	if cfg.HTTPAddr != "" {
		httpServer := server.NewHTTPServer(cfg.HTTPAddr, deps)
		spawn(&edgeWG, errChan, "http server", func() error { return httpServer.Start(ctx) })
	}
	if cfg.MetricsAddr != "" {
		spawn(&edgeWG, errChan, "metrics server", func() error { return serveMetrics(ctx, cfg.MetricsAddr, logger) })
	}

	spawn(&edgeWG, errChan, "channel sampler", func() error {
		sampleChannels(ctx, metrics, persistChan, projectionChan)
		return nil
	})

	snapshotter := persistence.NewSnapshotter(runner, snapMgr, cfg.SnapshotInterval, metrics, observability.NewLogger("snapshot"))
	spawn(&edgeWG, errChan, "snapshotter", func() error { return snapshotter.Run(ctx, seq) })

	var k *keeper.Keeper
	if cfg.KeeperEnabled {
		k = keeper.New(runner, submitter, cfg.KeeperIdentity, cfg.KeeperInterval, metrics, observability.NewLogger("keeper"))
		if err := k.Start(ctx); err != nil {
			return err
		}
	}

	health.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", seq).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Bool("nats", cfg.NATSEnabled).
		Bool("keeper", cfg.KeeperEnabled).
		Msg("TaniLedger ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown: edge, then core, then writers, then final snapshot ---
	health.SetReady(false)
	grpcServer.SetServing(false)
	stop()
	if k != nil {
		k.Stop()
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	edgeWG.Wait()

	stopCore()
	coreWG.Wait()

	close(persistChan)
	close(projectionChan)
	waitTimeout(&writerWG, shutdownTimeout, logger)
	stopTail()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// The runner has stopped; the core is no longer shared
	if err := snapshotter.SaveState(shutdownCtx, ledgerCore.CreateSnapshotState()); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	}

	logger.Info().Int64("sequence", ledgerCore.GetSequence()).Msg("TaniLedger shutdown complete")
	return runErr
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// migrate applies pending migrations on a dedicated handle; golang-migrate
// closes the handle it is given.
func migrate(url string) error {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	m, err := persistence.NewMigrator(db, observability.NewLogger("migrate"))
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()
	return m.Up()
}

func startSubscriber(ctx context.Context, nc *nats.Conn, js jetstream.JetStream, submitter *ingestion.Submitter, logger zerolog.Logger) (*ingestion.CommandSubscriber, error) {
	sub := ingestion.NewCommandSubscriber(nc, js, submitter, logger)
	if err := sub.Subscribe(ctx); err != nil {
		return nil, err
	}
	return sub, nil
}

func natsCheck(nc *nats.Conn) observability.CheckFunc {
	return func(context.Context) error {
		if !nc.IsConnected() {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func sampleChannels(ctx context.Context, metrics *observability.Metrics, persist, proj chan core.CoreOutput) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetChannelMetrics("persist", len(persist), cap(persist))
			metrics.SetChannelMetrics("projection", len(proj), cap(proj))
		}
	}
}

func spawn(wg *sync.WaitGroup, errChan chan<- error, name string, fn func() error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errChan <- fmt.Errorf("%s: %w", name, err):
			default:
			}
		}
	}()
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration, logger zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		logger.Warn().Dur("timeout", d).Msg("writers did not drain in time")
	}
}
