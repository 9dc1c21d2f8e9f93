package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/poolproxy/pkg/config"
	"github.com/NicolasHaas/poolproxy/pkg/datastore"
	"github.com/NicolasHaas/poolproxy/pkg/logging"
	"github.com/NicolasHaas/poolproxy/pkg/payout"
	"github.com/NicolasHaas/poolproxy/pkg/rpc"
	"github.com/NicolasHaas/poolproxy/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "dotenv file with POOLPROXY_* overrides (skipped if missing)")
	dbPath := flag.String("db", "", "SQLite database file path (overrides store.path)")
	source := flag.String("source", "", "Address to send from (overrides payout.source_address)")
	once := flag.Bool("once", false, "Run a single send/reconcile cycle and exit")
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

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.Store.Path = *dbPath
		case "source":
			cfg.Payout.SourceAddress = *source
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
	logOpts.Service = "payoutd"
	logOpts.Version = version.String()
	if err := logging.Setup(logOpts); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		slog.Error("payout daemon error", "err", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	slog.Info("starting payout daemon", version.LogAttrs()...)

	dc, err := cfg.DaemonConfig()
	if err != nil {
		return err
	}

	st, err := datastore.NewProviderFactory(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = st.Close() }()

	client, err := rpc.New(cfg.RPCClient())
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	defer client.Close()

	var inputs payout.InputFinder = rpc.NewInputSelector(client, cfg.Payout.MinConfirmations)
	if cfg.Payout.SourceAddress != "" {
		inputs = payout.StaticInput(cfg.Payout.SourceAddress)
	}

	d := payout.NewDaemon(dc, st, client, inputs)
	if once {
		return d.RunCycle(ctx)
	}
	return d.Run(ctx)
}
