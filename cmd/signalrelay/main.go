// Command signalrelay runs the ingest-analyze-dispatch pipeline: polls or
// receives pushes for monitored social accounts, runs new posts through an
// LLM analyzer, and forwards the result to a chat destination.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaycove/signalrelay/pkg/analysis"
	"github.com/relaycove/signalrelay/pkg/analysis/anthropic"
	"github.com/relaycove/signalrelay/pkg/api"
	"github.com/relaycove/signalrelay/pkg/config"
	"github.com/relaycove/signalrelay/pkg/dispatch"
	"github.com/relaycove/signalrelay/pkg/dispatch/slack"
	"github.com/relaycove/signalrelay/pkg/ingest"
	"github.com/relaycove/signalrelay/pkg/metrics"
	"github.com/relaycove/signalrelay/pkg/rategovernor"
	"github.com/relaycove/signalrelay/pkg/retention"
	"github.com/relaycove/signalrelay/pkg/source"
	"github.com/relaycove/signalrelay/pkg/store"
	"github.com/relaycove/signalrelay/pkg/supervisor"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// exit codes match spec.md's process contract: 0 clean shutdown, 2 fatal
// config error at start, 3 fatal store error, 4 supervisor escalation.
const (
	exitOK           = 0
	exitConfigError  = 2
	exitStoreError   = 3
	exitSupervisorUp = 4
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config/relay.yaml"),
		"Path to the relay.yaml configuration file")
	metricsPort := flag.String("metrics-port", getEnv("METRICS_PORT", "9090"),
		"Port the standalone Prometheus /metrics server listens on")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshot, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(exitConfigError)
	}

	dbCfg, err := store.LoadConfigFromEnv()
	if err != nil {
		slog.Error("failed to load database config", "error", err)
		os.Exit(exitConfigError)
	}

	dbClient, err := store.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Error("failed to connect to store", "error", err)
		os.Exit(exitStoreError)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()
	slog.Info("connected to store, migrations applied")

	accountLister := source.StoreAccountLister{Client: dbClient}
	coordinator := source.NewCoordinator(accountLister, snapshot.PollInterval(), snapshot.MinPollSpacing(), 256)

	// cfg wraps the Snapshot with live access to the handful of runtime-
	// editable knobs in config.RuntimeOverridable (dispatch_rate_per_s and
	// friends), resolved from Settings once per consumer rather than baked
	// in at process start.
	cfg := &config.Config{Snapshot: snapshot, Settings: dbClient}

	// One Governor, many named buckets: "analyzer" gets an AdaptiveLimiter
	// so the Penalize calls analysis.Worker issues on an UPSTREAM_RATE_LIMIT
	// classification actually narrow throughput; every other bucket
	// (destination name per dispatcher, account name for the Penalize
	// calls ingest issues on a source rate limit) is a plain TokenBucket,
	// each created lazily on first use. A TokenBucket ignores Penalize and
	// nothing acquires an account bucket, so a source rate limit does not
	// slow that account's polling.
	governor := rategovernor.New(func(bucket string) rategovernor.Limiter {
		if bucket == "analyzer" {
			capacity := float64(snapshot.AnalysisConcurrency)
			return rategovernor.NewAdaptiveLimiter(capacity, capacity*2)
		}
		rate := cfg.ResolveDispatchRate(ctx)
		return rategovernor.NewTokenBucket(rate, rate)
	})

	analysisOut := make(chan string, 1024)
	var sourceClient source.Client = source.UnconfiguredClient{}
	pipeline := ingest.New(sourceClient, dbClient, coordinator.Triggers(), analysisOut,
		time.Duration(snapshot.HistoricalHours)*time.Hour, governor)

	analyzer := anthropic.NewClient(snapshot.AnthropicAPIKey())
	analysisCfg := analysis.Config{
		Model:   snapshot.AnalyzerModel,
		Prompt:  snapshot.AnalyzerPrompt,
		Params:  snapshot.AnalyzerParams,
		Timeout: snapshot.AnalyzeTimeout(),
		Batch:   snapshot.AnalysisBatch,
	}
	analysisPool := analysis.NewPool("signalrelay", dbClient, dbClient, analyzer, governor, analysisCfg, snapshot.AnalysisConcurrency)

	var dispatchers []dispatch.Dispatcher
	if snapshot.SlackToken() != "" {
		dispatchers = append(dispatchers, slack.NewClient(snapshot.SlackToken(), snapshot.SlackChannel))
	}
	dispatchCfg := dispatch.Config{
		Batch:                snapshot.AnalysisBatch,
		MaxRetries:           snapshot.DispatchMaxRetries,
		MaxBackoff:           snapshot.DispatchMaxBackoff(),
		NotificationsEnabled: snapshot.NotificationsEnabled,
		NotifyOnlyAnalyzed:   snapshot.NotifyOnlyAnalyzed,
	}
	dispatchPool := dispatch.NewPool("signalrelay", dbClient, dbClient, dispatchers, governor, dispatchCfg, snapshot.DispatchConcurrency)

	retentionSvc := retention.NewService(retention.Config{
		RetentionWindow:  snapshot.RetentionWindow(),
		SweepInterval:    snapshot.RetentionSweepEvery,
		OrphanThreshold:  snapshot.OrphanThreshold,
		OrphanSweepEvery: snapshot.OrphanSweepEvery,
	}, dbClient)

	sup := supervisor.New(coordinator, pipeline, analysisPool, dispatchPool, retentionSvc, 30*time.Second)
	sup.Start(ctx)

	metricsSrv := metrics.NewServer(*metricsPort, slog.Default())
	metricsSrv.StartAsync()

	apiServer := api.NewServer(dbClient, coordinator, analysisPool, dispatchPool, snapshot.PushSharedSecret())
	go func() {
		if err := apiServer.Start(snapshot.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("api server failed", "error", err)
		}
	}()
	slog.Info("signalrelay started", "listen_addr", snapshot.ListenAddr, "metrics_port", *metricsPort)

	escalated := false
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining pipeline")
	case component := <-sup.Escalations():
		escalated = true
		slog.Error("supervisor escalation, shutting down", "component", component)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api server did not shut down cleanly", "error", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		slog.Warn("metrics server did not shut down cleanly", "error", err)
	}

	sup.Shutdown()
	if escalated {
		slog.Error("signalrelay stopped due to supervisor escalation")
		os.Exit(exitSupervisorUp)
	}
	slog.Info("signalrelay stopped cleanly")
	os.Exit(exitOK)
}
