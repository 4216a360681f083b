package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/depflow/internal/cfg"
	"github.com/simplesurance/depflow/internal/githost"
	"github.com/simplesurance/depflow/internal/ingest"
	"github.com/simplesurance/depflow/internal/logfields"
	"github.com/simplesurance/depflow/internal/pcs"
	"github.com/simplesurance/depflow/internal/reminder"
	"github.com/simplesurance/depflow/internal/retry"
	"github.com/simplesurance/depflow/internal/statestore"
	"github.com/simplesurance/depflow/internal/statestore/memory"
	"github.com/simplesurance/depflow/internal/statestore/postgres"
	"github.com/simplesurance/depflow/internal/telemetry"
	"github.com/simplesurance/depflow/internal/updater"
)

const appName = "depflow"

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

func startHTTPServer(listenAddr string, mux *http.ServeMux) {
	httpServer := http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating http server",
			logfields.Event("http_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := httpServer.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down http server failed",
				logfields.Event("http_server_termination_failed"),
				zap.Error(err),
			)
		}
	})

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/depflow/config.toml"

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
			"path to the depflow configuration file",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nMaintain dependency update pull requests for subscribed repositories.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration file", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	exitOnErr("invalid configuration", config.Validate())

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
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s\n", config.LogLevel, err)
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

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func mustInitStateStore(config *cfg.Config) statestore.Store {
	if config.PostgresDSN == "" {
		logger.Warn(
			"no postgres_dsn configured, state is kept in memory and lost on restart",
			logfields.Event("memory_statestore_used"),
		)

		return memory.New()
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	defer cancelFn()

	store, err := postgres.New(ctx, config.PostgresDSN)
	exitOnErr("could not connect to postgres", err)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := store.Close(); err != nil {
			logger.Warn(
				"closing database connection failed",
				logfields.Event("statestore_close_failed"),
				zap.Error(err),
			)
		}
	})

	return store
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
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
		zap.String("build_endpoint", config.HTTPBuildEndpoint),
		zap.String("github_api_token", hide(config.GithubAPIToken)),
		zap.String("pcs_base_url", config.PCSBaseURL),
		zap.String("postgres_dsn", hide(config.PostgresDSN)),
		zap.String("coherency_policy", config.CoherencyPolicy),
		zap.String("log_format", config.LogFormat),
		zap.String("log_level", config.LogLevel),
		zap.Int("subscription_count", len(config.Subscriptions)),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	if len(config.Subscriptions) == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: config file %s does not define any subscriptions, nothing to do\n", *args.ConfigFile)
		os.Exit(1)
	}

	store := mustInitStateStore(config)

	githubClient := githost.New(config.GithubAPIToken, config.GithubBotUser)

	pcsClient, err := pcs.New(config.PCSBaseURL)
	exitOnErr("could not create pcs client", err)

	subscriptions := config.UpdaterSubscriptions()

	sink := telemetry.NewRecorder(prometheus.DefaultRegisterer)

	// the scheduler and the updater reference each other, the scheduler's
	// handler is set after the updater exists
	var updtr *updater.Updater

	scheduler := reminder.NewScheduler(store, reminder.HandlerFunc(func(ctx context.Context, rem *reminder.Reminder) error {
		return updtr.ProcessReminder(ctx, rem)
	}))

	updtr = updater.New(store, githubClient, pcsClient, scheduler, sink, subscriptions)

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping reminder scheduler",
			logfields.Event("reminder_scheduler_stopping"),
		)

		scheduler.Stop()
	})

	recoverCtx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
	err = scheduler.Recover(recoverCtx)
	cancelFn()
	exitOnErr("could not recover persisted reminders", err)

	retryer := retry.NewRetryer()
	goodbye.Register(func(context.Context, os.Signal) {
		retryer.Stop()
	})

	ingestService, err := ingest.New(updtr, retryer, subscriptions)
	exitOnErr("could not create build ingestion service", err)

	mux := http.NewServeMux()
	mux.HandleFunc(config.HTTPBuildEndpoint, ingestService.HandleBuild)
	mux.Handle("/metrics", promhttp.Handler())

	logger.Info(
		"registered build notification http endpoint",
		logfields.Event("build_http_handler_registered"),
		zap.String("endpoint", config.HTTPBuildEndpoint),
	)

	if config.HTTPListenAddr == "" {
		fmt.Fprintf(os.Stderr, "http_server_listen_addr must be defined in the config file\n")
		os.Exit(1)
	}

	startHTTPServer(config.HTTPListenAddr, mux)

	select {}
}
