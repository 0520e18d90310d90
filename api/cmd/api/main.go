package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/tally/api/handlers"
	apimetrics "github.com/meridianlabs/tally/api/metrics"
	"github.com/meridianlabs/tally/api/server"
	"github.com/meridianlabs/tally/indexer/pkg/clickhouse"
	indexersettlement "github.com/meridianlabs/tally/indexer/pkg/settlement"
	"github.com/meridianlabs/tally/settlement/pkg/engine"
	"github.com/meridianlabs/tally/settlement/pkg/journal"
	settlementmetrics "github.com/meridianlabs/tally/settlement/pkg/metrics"
	"github.com/meridianlabs/tally/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr  = "0.0.0.0:8080"
	defaultMetricsAddr = "0.0.0.0:0"
	eventBufferSize    = 4096
)

func main() {
	if err := run(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "Address to listen on for the settlement API")
	metricsAddrFlag := flag.String("metrics-addr", defaultMetricsAddr, "Address to listen on for prometheus metrics")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "Maximum time to wait for graceful shutdown")

	adminTokenFlag := flag.String("admin-token", "", "Bearer token authorizing admin operations (or set TALLY_ADMIN_TOKEN env var)")
	fundingModeFlag := flag.String("funding-mode", "direct", "Pool accounting mode: 'direct' or 'carry-over' (or set TALLY_FUNDING_MODE env var)")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS allowed origins (empty disables cross-origin access)")

	// Postgres event journal (optional)
	postgresURLFlag := flag.String("postgres-url", "", "Postgres connection string for the event journal (or set TALLY_POSTGRES_URL env var); empty disables the journal")

	// ClickHouse event indexer (optional)
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var); empty disables the indexer")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
	flushIntervalFlag := flag.Duration("indexer-flush-interval", 5*time.Second, "Indexer flush interval")

	flag.Parse()

	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("TALLY_ADMIN_TOKEN"); env != "" {
		*adminTokenFlag = env
	}
	if env := os.Getenv("TALLY_FUNDING_MODE"); env != "" {
		*fundingModeFlag = env
	}
	if env := os.Getenv("TALLY_POSTGRES_URL"); env != "" {
		*postgresURLFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_ADDR_TCP"); env != "" {
		*clickhouseAddrFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_DATABASE"); env != "" {
		*clickhouseDatabaseFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_USERNAME"); env != "" {
		*clickhouseUsernameFlag = env
	}
	if env := os.Getenv("CLICKHOUSE_PASSWORD"); env != "" {
		*clickhousePasswordFlag = env
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	if *adminTokenFlag == "" {
		return fmt.Errorf("--admin-token (or TALLY_ADMIN_TOKEN) is required")
	}

	funding, err := engine.ParseFundingMode(*fundingModeFlag)
	if err != nil {
		return err
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Release:          version,
			TracesSampleRate: 0.1,
		}); err != nil {
			log.Warn("main: failed to initialize sentry, continuing without it", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Start metrics server
	if *metricsAddrFlag != "" {
		apimetrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("main: failed to start prometheus metrics server listener", "error", err)
				return
			}
			log.Info("main: prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("main: failed to start prometheus metrics server", "error", err)
			}
		}()
	}

	sinks := engine.MultiSink{settlementmetrics.NewSink()}

	// Optional Postgres-backed event journal. When configured, the full
	// event history is replayed at boot so engine state survives restarts.
	var journalStore *journal.Store
	if *postgresURLFlag != "" {
		if err := journal.Migrate(ctx, log, *postgresURLFlag); err != nil {
			return fmt.Errorf("failed to run journal migrations: %w", err)
		}

		pool, err := pgxpool.New(ctx, *postgresURLFlag)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()

		journalStore, err = journal.NewStore(journal.StoreConfig{
			Logger: log,
			Pool:   pool,
		})
		if err != nil {
			return fmt.Errorf("failed to create journal store: %w", err)
		}
		sinks = append(sinks, journal.NewSink(log, journalStore))
	}

	// Optional ClickHouse indexer fed through a buffered channel sink.
	var view *indexersettlement.View
	if *clickhouseAddrFlag != "" {
		ch, err := clickhouse.NewClient(ctx, clickhouse.Config{
			Logger:   log,
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to clickhouse: %w", err)
		}

		chanSink := engine.NewChanSink(eventBufferSize, func(ev engine.Event) {
			settlementmetrics.IndexerEventsDroppedTotal.Inc()
			log.Warn("main: indexer event dropped, buffer full", "kind", ev.Kind)
		})
		sinks = append(sinks, chanSink)

		view, err = indexersettlement.NewView(indexersettlement.ViewConfig{
			Logger:        log,
			ClickHouse:    ch,
			Events:        chanSink.Events(),
			FlushInterval: *flushIntervalFlag,
		})
		if err != nil {
			return fmt.Errorf("failed to create indexer view: %w", err)
		}
	}

	eng, err := engine.New(engine.Config{
		Logger:     log,
		Authorizer: engine.SingleAdmin(*adminTokenFlag),
		Transferer: engine.NewLedgerTransferer(),
		Funding:    funding,
		Events:     sinks,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	if journalStore != nil {
		events, err := journalStore.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load journal: %w", err)
		}
		if len(events) > 0 {
			if err := eng.Restore(events); err != nil {
				return fmt.Errorf("failed to restore engine from journal: %w", err)
			}
			log.Info("main: engine state restored from journal", "events", len(events))
		}
	}

	ready := func() bool { return true }
	if view != nil {
		view.Start(ctx)
		ready = view.Ready
	}

	srv, err := server.New(server.Config{
		Logger:            log,
		ListenAddr:        *listenAddrFlag,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   *shutdownTimeoutFlag,
		VersionInfo:       server.VersionInfo{Version: version, Commit: commit, Date: date},
		HandlersConfig: handlers.Config{
			Logger: log,
			Engine: eng,
		},
		Ready:          ready,
		AllowedOrigins: *allowedOriginsFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	log.Info("main: starting settlement service",
		"version", version, "funding", funding.String(),
		"journal", *postgresURLFlag != "", "indexer", view != nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	return g.Wait()
}
