package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/NicolasHaas/poolproxy/pkg/config"
	"github.com/NicolasHaas/poolproxy/pkg/datastore"
	"github.com/NicolasHaas/poolproxy/pkg/logging"
	"github.com/NicolasHaas/poolproxy/pkg/payout"
	"github.com/NicolasHaas/poolproxy/pkg/proxy"
	"github.com/NicolasHaas/poolproxy/pkg/rpc"
	"github.com/NicolasHaas/poolproxy/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file with POOLPROXY_* overrides (skipped if missing)")
	listen := flag.String("listen", "", "TCP bind address for miners (overrides proxy.listen)")
	upstream := flag.String("upstream", "", "Upstream pool host:port (overrides proxy.upstream)")
	metrics := flag.String("metrics", "", "HTTP bind address for Prometheus /metrics (overrides proxy.metrics)")
	dbPath := flag.String("db", "", "SQLite database file path (overrides store.path)")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Explicit flags win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Proxy.Listen = *listen
		case "upstream":
			cfg.Proxy.Upstream = *upstream
		case "metrics":
			cfg.Proxy.Metrics = *metrics
		case "db":
			cfg.Store.Path = *dbPath
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-format":
			cfg.Log.Format = *logFormat
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logOpts := cfg.Logging(os.Stdout)
	logOpts.Service = "proxy"
	logOpts.Version = version.String()
	if err := logging.Setup(logOpts); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("proxy error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("starting stratum proxy", version.LogAttrs()...)

	params, err := cfg.ShareParams()
	if err != nil {
		return err
	}

	st, err := datastore.NewProviderFactory(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	daemon, err := rpc.New(cfg.RPCClient())
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	defer daemon.Close()

	metrics := proxy.NewMetrics()
	evaluator := payout.NewEvaluator(params, cfg.Share.Timeout, payout.EvaluatorDeps{
		Oracle:   daemon,
		Store:    st.NonTx(),
		Observer: metrics,
	})

	srv := proxy.New(cfg.ProxyServer(), proxy.Dependencies{Shares: evaluator, Metrics: metrics})
	runErr := srv.Run()

	// Sessions are gone; let in-flight share evaluations land before the store closes.
	slog.Info("waiting for pending share evaluations")
	evaluator.Wait()
	return runErr
}
