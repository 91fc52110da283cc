package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/gatekeep/internal/logger"
	"github.com/marmos91/gatekeep/pkg/config"
	"github.com/marmos91/gatekeep/pkg/server"
	flag "github.com/spf13/pflag"
)

const usage = `Gatekeep - JWT-guarded HTTP/1.1 gateway

Usage:
  gatekeep [flags]          Start the gateway
  gatekeep init [--force]   Write a starter configuration file

Flags:
`

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := runServe(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing configuration file")
	path := fs.StringP("config", "c", "", "Write to this path instead of the default location")
	if err := fs.Parse(args); err != nil {
		return err
	}

	written := *path
	var err error
	if written != "" {
		err = config.InitConfigToPath(written, *force)
	} else {
		written, err = config.InitConfig(*force)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", written)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("gatekeep", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	configPath := fs.StringP("config", "c", "", "Path to the configuration file (default: "+config.GetDefaultConfigPath()+")")
	envFile := fs.String("env-file", ".env", "Dotenv file loaded before the configuration")
	logLevel := fs.String("log-level", "", "Override logging.level (DEBUG, INFO, WARN, ERROR)")
	address := fs.String("address", "", "Override server.address")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnvFile(*envFile); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *address != "" {
		cfg.Server.Address = *address
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Gatekeep starting")
	logger.Info("  Address: %s", cfg.Server.Address)
	logger.Info("  Workers: %d", cfg.Server.Workers)
	logger.Info("  Store: %s", cfg.Store.Type)
	logger.Info("  Public paths: %v", cfg.Auth.PublicPaths)

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	store, err := config.CreateUserStore(ctx, &cfg.Store)
	if err != nil {
		return err
	}

	gateway, err := config.CreateGateway(cfg, m, store)
	if err != nil {
		_ = store.Close()
		return err
	}

	srv := server.New(store, server.WithStopTimeout(cfg.Server.ShutdownTimeout))
	if err := srv.AddAdapter(gateway); err != nil {
		_ = store.Close()
		return err
	}

	return srv.Serve(ctx)
}
