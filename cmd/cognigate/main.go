// Command cognigate runs the intent-governance server: trust dynamics,
// the layered security pipeline, the execution gateway, and the proof
// chain behind one HTTP surface.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/vorion-labs/cognigate/pkg/api"
	"github.com/vorion-labs/cognigate/pkg/config"
	"github.com/vorion-labs/cognigate/pkg/gateway"
	"github.com/vorion-labs/cognigate/pkg/intent"
	"github.com/vorion-labs/cognigate/pkg/observability"
	"github.com/vorion-labs/cognigate/pkg/orchestrator"
	"github.com/vorion-labs/cognigate/pkg/pipeline"
	"github.com/vorion-labs/cognigate/pkg/pipeline/layers"
	"github.com/vorion-labs/cognigate/pkg/proof"
	"github.com/vorion-labs/cognigate/pkg/trustdyn"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "validate-policy":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "usage: cognigate validate-policy <file>")
			return 2
		}
		return runValidatePolicy(args[2], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: cognigate <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  server            run the governance server (default)")
	fmt.Fprintln(w, "  validate-policy   check a policy YAML file")
	fmt.Fprintln(w, "  help              show this help")
}

func runValidatePolicy(path string, stdout, stderr io.Writer) int {
	p, err := config.LoadPolicy(path)
	if err != nil {
		fmt.Fprintf(stderr, "invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ok: %d rules, %d band limits\n", len(p.Rules), len(p.Limits))
	return 0
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	initLogging(cfg.LogLevel)
	log := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "cognigate",
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		log.Error("observability init failed", slog.String("error", err.Error()))
		return 1
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	proofStore, err := openProofStore(cfg)
	if err != nil {
		log.Error("proof store init failed", slog.String("error", err.Error()))
		return 1
	}
	defer func() { _ = proofStore.Close() }()

	var policy *config.Policy
	if cfg.PolicyFile != "" {
		policy, err = config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			log.Error("policy load failed", slog.String("error", err.Error()))
			return 1
		}
	}

	pipe, err := buildPipeline(cfg, policy)
	if err != nil {
		log.Error("pipeline build failed", slog.String("error", err.Error()))
		return 1
	}

	gw := gateway.New()
	if err := gw.RegisterHandler(gateway.DefaultHandlerKey, acknowledgeHandler); err != nil {
		log.Error("gateway registration failed", slog.String("error", err.Error()))
		return 1
	}
	defer func() { _ = gw.Close(context.Background()) }()

	trust := trustdyn.NewEngine(trustdyn.DefaultConfig(), nil)
	profiles := orchestrator.NewMemoryProfileStore()

	orch, err := orchestrator.New(orchestrator.Config{
		Profiles:  profiles,
		Evaluator: pipe,
		Executor:  gw,
		Logger:    proof.NewRecorder(proofStore),
		Trust:     trust,
		Limits: gateway.ResourceLimits{
			Timeout:       cfg.ExecTimeout,
			MemoryLimitMB: cfg.ExecMemoryLimitMB,
		},
	})
	if err != nil {
		log.Error("orchestrator init failed", slog.String("error", err.Error()))
		return 1
	}
	go drainLoggerFailures(ctx, orch, log)

	slo := observability.NewSLOTracker()
	slo.SetTarget(&observability.SLOTarget{
		SLOID:       "slo-process-intent",
		Name:        "intent processing",
		Operation:   observability.OpProcessIntent,
		LatencyP99:  2 * time.Second,
		SuccessRate: 0.99,
		WindowHours: 24,
	})

	server, err := api.NewServer(api.Options{
		Processor:     orch,
		Profiles:      profiles,
		ProfileWriter: profiles,
		Proofs:        proofStore,
		Trust:         trust,
		Health:        pipe,
		SLO:           slo,
		JWTSecret:     cfg.JWTSecret,
		RateRPS:       50,
		RateBurst:     100,
	})
	if err != nil {
		log.Error("api init failed", slog.String("error", err.Error()))
		return 1
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("server listening",
		slog.String("addr", cfg.Addr),
		slog.String("proof_store", cfg.ProofStore))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", slog.String("error", err.Error()))
		return 1
	}
	log.Info("server stopped")
	return 0
}

func initLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openProofStore(cfg *config.Config) (proof.Store, error) {
	switch cfg.ProofStore {
	case "sqlite":
		return proof.OpenSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return openPostgresProofStore(cfg.PostgresDSN)
	case "memory", "":
		return proof.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown proof store %q", cfg.ProofStore)
	}
}

func buildPipeline(cfg *config.Config, policy *config.Policy) (*pipeline.Pipeline, error) {
	schema, err := layers.NewSchemaLayer()
	if err != nil {
		return nil, err
	}

	var limiter layers.LimiterStore
	if cfg.RedisAddr != "" {
		limiter = layers.NewRedisLimiterStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	} else {
		limiter = layers.NewMemoryLimiterStore()
	}

	var bandLimits map[intent.TrustBand]layers.BandLimit
	pcfg := pipeline.Config{}
	var rules []layers.PolicyRule
	if policy != nil {
		bandLimits = policy.BandLimits()
		rules = policy.Rules
		pcfg = pipeline.Config{
			StopOnFirstFailure:     policy.Pipeline.StopOnFirstFailure,
			MaxTotalTime:           policy.Pipeline.MaxTotalTime(),
			MinConfidenceThreshold: policy.Pipeline.MinConfidenceThreshold,
			Allowlist:              policy.Pipeline.Allowlist,
			Disabled:               policy.Pipeline.Disabled,
		}
	}

	layerSet := []pipeline.Layer{
		layers.NewTripwireLayer(),
		schema,
		layers.NewVelocityLayer(limiter, bandLimits),
		layers.NewInjectionLayer(),
		layers.NewTrustGateLayer(),
	}
	if len(rules) > 0 {
		cel, err := layers.NewCELPolicyLayer(rules)
		if err != nil {
			return nil, err
		}
		layerSet = append(layerSet, cel)
	}
	return pipeline.New(pcfg, layerSet...)
}

// acknowledgeHandler is the default direct handler: it records receipt
// without side effects. Real deployments register handlers per action type.
func acknowledgeHandler(_ context.Context, in *intent.Intent) (map[string]any, error) {
	return map[string]any{
		"acknowledged": true,
		"action_type":  in.ActionType,
	}, nil
}

func drainLoggerFailures(ctx context.Context, orch *orchestrator.Orchestrator, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-orch.LoggerFailures():
			log.Warn("audit sink failure", slog.String("error", err.Error()))
		}
	}
}
