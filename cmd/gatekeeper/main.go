package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/gatekeeper/internal/cfg"
	"github.com/simplesurance/gatekeeper/internal/dispatch"
	"github.com/simplesurance/gatekeeper/internal/githubclt"
	"github.com/simplesurance/gatekeeper/internal/logfields"
	"github.com/simplesurance/gatekeeper/internal/mergeengine"
	"github.com/simplesurance/gatekeeper/internal/policy"
	"github.com/simplesurance/gatekeeper/internal/provider/github"
	"github.com/simplesurance/gatekeeper/internal/prstate"
	"github.com/simplesurance/gatekeeper/internal/prstate/pgstore"
)

const appName = "gatekeeper"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func shutdownHTTPServer(name string, srv *http.Server) {
	const shutdownTimeout = 30 * time.Second
	ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelFn()

	logger.Debug(
		"terminating "+name+" server",
		logfields.Event(name+"_server_terminating"),
		zap.Duration("shutdown_timeout", shutdownTimeout),
	)

	err := srv.Shutdown(ctx)
	if err != nil {
		logger.Warn(
			"shutting down "+name+" server failed",
			logfields.Event(name+"_server_termination_failed"),
			zap.Error(err),
		)
	}
}

func startHTTPServer(name, listenAddr string, mux *http.ServeMux, listenFn func(*http.Server) error) *http.Server {
	srv := http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		defer panicHandler()

		logger.Info(
			name+" server started",
			logfields.Event(name+"_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := listenFn(&srv)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info(name+" server terminated", logfields.Event(name+"_server_terminated"))
			return
		}

		logger.Fatal(
			name+" server terminated unexpectedly",
			logfields.Event(name+"_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()

	return &srv
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
	Resync      *[]string
}

var args arguments

const defConfigFile = "/etc/gatekeeper/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the gatekeeper configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
		Resync: pflag.StringSlice(
			"resync",
			nil,
			"evaluate all open pull requests of the OWNER/REPOSITORY and exit,\ncan be specified multiple times",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive GitHub webhook events and report the merge readiness of pull requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	zap.ReplaceGlobals(logger)
	logger = logger.Named("main")

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustInitStore(config *cfg.Config) prstate.Store {
	if config.Postgres.DSN == "" {
		logger.Info(
			"postgres dsn is not configured, keeping pull request state in memory",
			logfields.Event("mem_store_initialized"),
		)
		return prstate.NewMemStore()
	}

	store, err := pgstore.Open(context.Background(), &pgstore.Config{
		DSN:      config.Postgres.DSN,
		MaxConns: config.Postgres.MaxConns,
		Migrate:  config.Postgres.Migrate,
	})
	if err != nil {
		logger.Fatal(
			"initializing postgres store failed",
			logfields.Event("pg_store_initialization_failed"),
			zap.Error(err),
		)
	}

	goodbye.Register(func(context.Context, os.Signal) {
		store.Close()
	})

	return store
}

func splitRepository(ownerRepo string) (owner, repo string, err error) {
	owner, repo, found := strings.Cut(ownerRepo, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%q is not in the format OWNER/REPOSITORY", ownerRepo)
	}

	return owner, repo, nil
}

func resync(ctx context.Context, engine *mergeengine.Engine, repositories []string) error {
	var errs []error

	for _, ownerRepo := range repositories {
		owner, repo, err := splitRepository(ownerRepo)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := engine.ResyncRepository(ctx, owner, repo); err != nil {
			logger.Warn(
				"synchronizing repository failed",
				logfields.Event("resync_failed"),
				logfields.RepositoryOwner(owner),
				logfields.Repository(repo),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ownerRepo, err))
		}
	}

	return errors.Join(errs...)
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("prometheus_metrics_endpoint", config.HTTPMetricsEndpoint),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.Int("workers", config.Workers),
		zap.String("ignore_query", config.IgnoreQuery),
		zap.Strings("repositories", config.RepositoryNames()),
		zap.Bool("resync_on_start", config.ResyncOnStart),
		zap.Bool("dry_run", config.DryRun),
		zap.String("policy_file", config.PolicyFile),
		zap.String("policy_cache_ttl", config.PolicyCacheTTL),
		zap.String("postgres_dsn", hide(config.Postgres.DSN)),
	)

	// validated by cfg.Load
	defaultPolicy, _ := config.Policy.Compile()
	logger.Debug(
		"default merge policy:\n"+defaultPolicy.DetailedString(),
		logfields.Event("default_policy_loaded"),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	// the durations were validated by cfg.Load
	minReqInterval, _ := config.GithubMinRequestIntervalDuration()
	policyCacheTTL, _ := config.PolicyCacheTTLDuration()

	githubClient := githubclt.New(
		config.GithubAPIToken,
		githubclt.WithMinRequestInterval(minReqInterval),
	)

	var engineClient mergeengine.GithubClient = githubClient
	if config.DryRun {
		engineClient = mergeengine.NewDryGithubClient(githubClient, logger)
		logger.Info("dry run mode enabled, no changes are made on github", logfields.Event("dry_run_enabled"))
	}

	policies := policy.NewLoader(
		githubClient,
		config.Policy,
		policy.WithPolicyFile(config.PolicyFile),
		policy.WithCacheTTL(policyCacheTTL),
	)

	engine := mergeengine.New(engineClient, mustInitStore(config), policies)

	if len(*args.Resync) > 0 {
		err := resync(context.Background(), engine, *args.Resync)
		exitOnErr("synchronizing repositories failed", err)
		goodbye.Exit(context.Background(), 0)
	}

	var ignoreFilter *dispatch.IgnoreFilter
	if config.IgnoreQuery != "" {
		var err error
		ignoreFilter, err = dispatch.NewIgnoreFilter(config.IgnoreQuery)
		if err != nil {
			logger.Fatal(
				"parsing ignore_query failed",
				logfields.Event("ignore_query_invalid"),
				zap.Error(err),
			)
		}
	}

	evLoop := dispatch.NewEventLoop(
		engine,
		dispatch.WithWorkers(config.Workers),
		dispatch.WithIgnoreFilter(ignoreFilter),
		dispatch.WithRepositories(config.RepositoryNames()),
		dispatch.WithRoutineDeferFunc(panicHandler),
	)

	go func() {
		defer panicHandler()
		evLoop.Start()
	}()

	mux := http.NewServeMux()

	gh := github.New(
		evLoop.C(),
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	mux.HandleFunc(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	if config.HTTPMetricsEndpoint != "" {
		mux.Handle(config.HTTPMetricsEndpoint, promhttp.Handler())
		logger.Info(
			"registered prometheus metrics http endpoint",
			logfields.Event("metrics_http_handler_registered"),
			zap.String("endpoint", config.HTTPMetricsEndpoint),
		)
	}

	servers := map[string]*http.Server{}

	if config.HTTPListenAddr != "" {
		servers["http"] = startHTTPServer("http", config.HTTPListenAddr, mux, func(srv *http.Server) error {
			return srv.ListenAndServe()
		})
	}

	if config.HTTPSListenAddr != "" {
		servers["https"] = startHTTPServer("https", config.HTTPSListenAddr, mux, func(srv *http.Server) error {
			return srv.ListenAndServeTLS(config.HTTPSCertFile, config.HTTPSKeyFile)
		})
	}

	// the servers must be terminated before the event loop, the webhook
	// handler sends to the event channel that Stop() closes
	goodbye.Register(func(context.Context, os.Signal) {
		for name, srv := range servers {
			shutdownHTTPServer(name, srv)
		}

		logger.Debug(
			"stopping event loop",
			logfields.Event("event_loop_stopping"),
		)
		evLoop.Stop()
	})

	if config.ResyncOnStart && len(config.Repositories) > 0 {
		resyncCtx, cancel := context.WithCancel(context.Background())
		goodbye.Register(func(context.Context, os.Signal) {
			cancel()
		})

		go func() {
			defer panicHandler()

			if err := resync(resyncCtx, engine, config.RepositoryNames()); err != nil {
				logger.Warn(
					"synchronizing repositories on start failed",
					logfields.Event("resync_on_start_failed"),
					zap.Error(err),
				)
			}
		}()
	}

	select {}
}
