package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/pinboard/internal"
	pkgconfig "github.com/starford/pinboard/pkg/config"
)

type runFunc func(ctx context.Context, opts ...internal.Option) error

func action(run runFunc) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		configPath := cmd.String("config")

		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadOrDefault(configPath, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		if err := run(ctx, internal.WithConfig(cfg)); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "pinboard",
		Usage:  "Desktop sticky-note cards with autosave to a local document store",
		Action: action(internal.Run),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the card coordinator, HTTP API and event stream",
				Action: action(internal.Run),
			},
			{
				Name:   "list",
				Usage:  "Print the stored cards",
				Action: action(internal.List),
			},
			{
				Name:   "mcp",
				Usage:  "Serve the stored cards to an MCP client over stdio",
				Action: action(internal.ServeMCP),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
