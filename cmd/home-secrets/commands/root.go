package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/home-secrets/internal/app"
	"github.com/florianilch/home-secrets/internal/googleoauth"
	"github.com/florianilch/home-secrets/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return rootCommand().Run(ctx, args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "home-secrets",
		Usage: "Local secret lookup and Google OAuth token service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			statusCommand(),
			resetCommand(),
		},
	}
}

func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "storage--type",
			Usage: "token storage (file|keyring)",
			Value: string(app.DefaultConfigStorageType),
		},
		&cli.StringFlag{
			Name:  "storage--file",
			Usage: "token file path",
		},
	}
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the HTTP service",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
		}, storageFlags()...),
		Action: startAction,
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show the stored token state of a label, without contacting Google",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "label",
				Usage: "token label (defaults to google.label)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "show every stored label",
			},
		}, storageFlags()...),
		Action: statusAction,
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "clear the stored tokens of a label",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "label",
				Usage:    "token label",
				Required: true,
			},
		}, storageFlags()...),
		Action: resetAction,
	}
}

// setup loads the configuration and installs logging.
func setup(cmd *cli.Command) (*app.Config, func(context.Context) error, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	return cfg, shutdown, nil
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownLogs, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownLogs(context.Background())
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownLogs, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownLogs(context.Background())
	}()

	store, err := cfg.Storage.NewStore()
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}
	manager, err := googleoauth.New(cfg.Google.ManagerConfig(), store)
	if err != nil {
		return fmt.Errorf("failed to create oauth manager: %w", err)
	}

	labels := []string{cmd.String("label")}
	if cmd.Bool("all") {
		keys, err := store.Keys(ctx)
		if err != nil {
			return fmt.Errorf("listing labels: %w", err)
		}
		labels = labels[:0]
		for _, key := range keys {
			if key != googleoauth.ReservedKey {
				labels = append(labels, key)
			}
		}
	}

	statuses := make([]*googleoauth.Status, 0, len(labels))
	for _, label := range labels {
		status, err := manager.Status(ctx, label)
		if err != nil {
			return fmt.Errorf("reading status of %q: %w", label, err)
		}
		statuses = append(statuses, status)
	}

	if cmd.Bool("all") {
		return printJSON(cmd.Root().Writer, statuses)
	}
	return printJSON(cmd.Root().Writer, statuses[0])
}

func resetAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdownLogs, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = shutdownLogs(context.Background())
	}()

	manager, err := app.NewManager(cfg)
	if err != nil {
		return err
	}

	label := cmd.String("label")
	if err := manager.Delete(ctx, label); err != nil {
		return fmt.Errorf("resetting %q: %w", label, err)
	}
	return printJSON(cmd.Root().Writer, map[string]string{"status": "deleted", "label": label})
}

// printJSON indents the output when w is a terminal.
func printJSON(w io.Writer, v any) error {
	if w == nil {
		w = os.Stdout
	}

	enc := json.NewEncoder(w)
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}
