package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittocgi/internal/logger"
	"github.com/marmos91/dittocgi/pkg/config"
	"github.com/spf13/pflag"
)

const usage = `DittoCGI - FastCGI application server

Usage:
  dittocgi <command> [flags]

Commands:
  init    Initialize a sample configuration file
  start   Start the server

Flags:
  -h, --help  Show help for a command

Use "dittocgi <command> --help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(args)
	case "start":
		err = runStart(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to write the config file (default: $XDG_CONFIG_HOME/dittocgi/config.yaml)")
	force := flags.Bool("force", false, "Overwrite an existing config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("Edit it, then run: dittocgi start --config " + path)
	return nil
}

func runStart(args []string) error {
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := flags.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittocgi/config.yaml)")
	watch := flags.Bool("watch", true, "Reload log level and rate limits when the config file changes")
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	fmt.Println("DittoCGI - FastCGI application server")
	logger.Info("Log level: %s, backend: %s", cfg.Logging.Level, cfg.Server.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := config.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("Failed to release stores: %v", err)
		}
	}()

	if *watch {
		path := *configPath
		if path == "" && config.ConfigExists() {
			path = config.GetDefaultConfigPath()
		}
		if path != "" {
			go func() {
				if err := config.Watch(ctx, path, rt.Apply); err != nil {
					logger.Warn("Configuration reload disabled: %v", err)
				}
			}()
		}
	}

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", cfg.Adapters.TCP.Port)

	err = rt.Server.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
