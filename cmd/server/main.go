// Redress resolves customer-sentiment alerts: it triages each alert,
// selects a remediation from policy, and executes it exactly once.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/redress/internal/audit/kafkasink"
	"github.com/linnemanlabs/redress/internal/authmw"
	"github.com/linnemanlabs/redress/internal/caseapi"
	rc "github.com/linnemanlabs/redress/internal/cfg"
	"github.com/linnemanlabs/redress/internal/gateway"
	"github.com/linnemanlabs/redress/internal/gateway/memledger"
	"github.com/linnemanlabs/redress/internal/gateway/redisledger"
	ingestkafka "github.com/linnemanlabs/redress/internal/ingest/kafka"
	"github.com/linnemanlabs/redress/internal/llm/claude"
	"github.com/linnemanlabs/redress/internal/notify/slack"
	"github.com/linnemanlabs/redress/internal/pipeline"
	"github.com/linnemanlabs/redress/internal/pipeline/memstore"
	"github.com/linnemanlabs/redress/internal/pipeline/pgstore"
	"github.com/linnemanlabs/redress/internal/postgres"
	"github.com/linnemanlabs/redress/internal/rules"
	"github.com/linnemanlabs/redress/internal/tools"
)

const appName = "redress"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    rc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix REDRESS_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "REDRESS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"kafka_brokers", appCfg.KafkaBrokers,
		"alerts_topic", appCfg.AlertsTopic,
		"audit_topic", appCfg.AuditTopic,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Escalation rules: built-in defaults unless a rules file is given.
	var esc *rules.Rules
	if appCfg.RulesFile != "" {
		esc, err = rules.Load(appCfg.RulesFile)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		L.Info(ctx, "loaded escalation rules", "path", appCfg.RulesFile)
	} else {
		esc = rules.Default()
		L.Info(ctx, "using built-in escalation rules")
	}

	// Register the provider tools behind the gateway.
	registry := gateway.NewRegistry()
	registry.Register(tools.NewCRMLookup(appCfg.CRMEndpoint, appCfg.CRMAPIKey))
	registry.Register(tools.NewCRMNote(appCfg.CRMEndpoint, appCfg.CRMAPIKey))
	registry.Register(tools.NewOrderLookup(appCfg.CRMEndpoint, appCfg.CRMAPIKey))
	registry.Register(tools.NewTranscriptFetch(appCfg.TranscriptEndpoint, appCfg.TranscriptAPIKey))
	registry.Register(tools.NewPolicySearch(appCfg.PolicyEndpoint, appCfg.PolicyAPIKey))
	registry.Register(tools.NewInventoryCheck(appCfg.FulfillmentEndpoint, appCfg.FulfillmentAPIKey))
	registry.Register(tools.NewShippingAction(appCfg.FulfillmentEndpoint, appCfg.FulfillmentAPIKey))
	registry.Register(tools.NewPaymentAction(appCfg.PaymentEndpoint, appCfg.PaymentAPIKey))
	registry.Register(tools.NewNotifyCustomer(appCfg.NotifyEndpoint, appCfg.NotifyAPIKey))
	L.Info(ctx, "registered gateway tools", "tools", registry.Names())

	// Idempotency ledger: Redis when configured, otherwise in-memory.
	var ledger gateway.Ledger
	if appCfg.RedisURL != "" {
		ropts, err := redis.ParseURL(appCfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(ropts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		ledger = redisledger.New(rdb, appName)
		L.Info(ctx, "using redis idempotency ledger")
	} else {
		ledger = memledger.New()
		L.Info(ctx, "using in-memory idempotency ledger (no redis-url configured)")
	}

	// Pipeline metrics on the shared Prometheus registry.
	pipeMetrics := pipeline.NewMetrics(m.Registry())

	gw := gateway.New(registry, ledger, gateway.Config{
		CallTimeout: time.Duration(appCfg.ToolTimeoutSeconds) * time.Second,
		MaxAttempts: appCfg.ToolMaxAttempts,
	}, L, pipeMetrics.GatewayHooks())

	// Initialize the case store
	var caseStore pipeline.CaseStore
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		pgStore, err := pgstore.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("pgstore init: %w", err)
		}
		caseStore = pgStore
		L.Info(ctx, "using postgres case store")
	} else {
		caseStore = memstore.New()
		L.Info(ctx, "using in-memory case store (no database-url configured)")
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redress_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, operation, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(operation, outcome).Observe(dur.Seconds())
		},
	))

	// Claude drafter is optional: without it the stages use deterministic
	// policy-derived candidates and templated messages.
	var drafter pipeline.Drafter
	if appCfg.ClaudeAPIKey != "" {
		drafter = claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
		L.Info(ctx, "initialized drafter", "provider", "claude", "model", appCfg.ClaudeModel)
	} else {
		L.Info(ctx, "no claude-api-key configured, using deterministic drafting")
	}

	// Slack notifier for cases needing human attention.
	var notifier pipeline.Notifier
	if appCfg.SlackWebhookURL != "" {
		notifier = slack.New(appCfg.SlackWebhookURL)
		L.Info(ctx, "notifier enabled", "type", "slack")
	}

	// Audit sink publishes finished cases to Kafka when brokers are configured.
	var auditSink pipeline.AuditSink
	if len(appCfg.Brokers()) > 0 && appCfg.AuditTopic != "" {
		sink := kafkasink.New(appCfg.Brokers(), appCfg.AuditTopic, L)
		defer func() { _ = sink.Close() }()
		auditSink = sink
		L.Info(ctx, "audit sink enabled", "topic", appCfg.AuditTopic)
	}

	orch := pipeline.NewOrchestrator(
		caseStore,
		pipeline.NewTriageStage(gw, esc, L),
		pipeline.NewSolutionStage(gw, esc, drafter, L),
		pipeline.NewActionStage(gw, drafter, L),
		auditSink,
		notifier,
		pipeline.StageTimeouts{
			Triage:   time.Duration(appCfg.TriageTimeoutSeconds) * time.Second,
			Solution: time.Duration(appCfg.SolutionTimeoutSeconds) * time.Second,
			Action:   time.Duration(appCfg.ActionTimeoutSeconds) * time.Second,
		},
		L,
		pipeMetrics.Hooks(),
	)

	// Resume cases a previous process left mid-pipeline before taking new work.
	if err := orch.RecoverInFlight(ctx); err != nil {
		L.Error(ctx, err, "in-flight recovery failed")
	}

	// Kafka ingest runs alongside the HTTP listener when brokers are configured.
	ingest, ingestCtx := errgroup.WithContext(ctx)
	var consumer *ingestkafka.Consumer
	if len(appCfg.Brokers()) > 0 {
		consumer = ingestkafka.New(appCfg.Brokers(), appCfg.AlertsTopic, appCfg.ConsumerGroup, orch, L)
		ingest.Go(func() error {
			return consumer.Run(ingestCtx)
		})
		L.Info(ctx, "kafka ingest started", "topic", appCfg.AlertsTopic, "group", appCfg.ConsumerGroup)
	}

	// setup toggle for server shutdown. this is used to fail readiness checks
	// during shutdown to drain connections from load balancer before killing the process.
	var shutdownGate health.ShutdownGate

	// setup readiness checks, currently just the shutdown gate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	// liveness is always true if the app is able to respond
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// start admin/ops listener. sg restricts inbound to internal monitoring infrastructure.
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic here
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// setup main api chi router and middleware stack
	r := chi.NewRouter()

	// Compress text responses (we are JSON only for now)
	r.Use(middleware.Compress(5, "application/json"))

	// Annotate logger (and tracer if trace is recording) with http.route from chi route pattern
	r.Use(httpmw.AnnotateHTTPRoute)

	// Access log middleware
	r.Use(httpmw.AccessLog())

	// Limit request body size, this is a wrapper around http.MaxBytesHandler which returns 413 if limit is exceeded
	r.Use(httpmw.MaxBody(1024 * 64)) // 64KB, alerts and approval payloads are small

	// add health check endpoints to main listener
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	// register api routes, behind bearer auth when tokens are configured
	api := caseapi.New(L, orch)
	api.OnSubmit = func(result string) {
		pipeMetrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
	tokens, err := appCfg.Tokens()
	if err != nil {
		return err
	}
	r.Group(func(gr chi.Router) {
		if len(tokens) > 0 {
			gr.Use(authmw.BearerTokens(tokens))
		}
		api.RegisterRoutes(gr)
	})

	// middleware stack for main listener, order matters these are wrappers, outermost sees raw request
	// first and is last to see response, innermost is last to see request and first to see response but
	// has access to the full rich context from outer middleware and handlers
	var h http.Handler = r

	// Request-scoped logging (inner so it sees trace_id, chi route, etc)
	h = httpmw.WithLogger(L)(h)

	// add trace-id and span-id headers to any requests with a recording trace
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	// otel instrumentation for automatic spans and trace context propagation
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// dont trace health/readiness checks
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// AnnotateHTTPRoute will rename the span later to the final route pattern
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// WithPublicEndpointFn is the replacement for WithPublicEndpoint()
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	// Metrics middleware for prometheus instrumentation
	h = m.Middleware(h)

	// Client IP resolution and spoofing protection middleware, outer so downstream middleware
	// and handlers can use the resolved client ip from context for consistency and security
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	// Request ID (outer so everything downstream sees it)
	h = httpmw.RequestID("X-Request-Id")(h) // request ID

	// Recovery middleware to recover and log panics and serve 500 response.
	// Outer to catch panics from any downstream middleware or handlers
	h = httpmw.Recover(L, nil)(h)

	// Security headers outermost to ensure they are served on every response
	h = httpmw.SecurityHeaders(h)

	// Configure http server options from config
	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	// Start case API HTTP server with middleware and handlers
	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start case api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop case api http listener")
		}
	}()

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm, or the ingest loop dying
	select {
	case <-ctx.Done():
	case <-ingestCtx.Done():
	}

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Wait for in-flight requests to finish and for load balancer
	// to detect unhealthy and stop sending new requests.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Stop the Kafka consumer first so no new cases start mid-shutdown.
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			L.Error(context.Background(), err, "kafka consumer close")
		}
		if err := ingest.Wait(); err != nil {
			L.Error(context.Background(), err, "kafka ingest loop")
		}
	}

	// Shutdown components with per-component budget sliced from total.
	// stopProf is synchronous and needs no context, so it's excluded.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"case api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
