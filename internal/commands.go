package internal

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/starford/pinboard/internal/mcpserver"
)

// List prints every stored card, one per line.
func List(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, true)

	adapter := openStore(app.config, logger)
	defer adapter.Close()

	cards, err := adapter.Summaries(ctx)
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}

	tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODIFIED\tPREVIEW")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.ModifiedAt.Local().Format(time.DateTime), c.Preview)
	}
	return tw.Flush()
}

// ServeMCP exposes the stored cards to an MCP client on stdin/stdout.
// Logs go to stderr so they never mix with the protocol stream.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := newLogger(app.config, true)

	adapter := openStore(app.config, logger)
	defer adapter.Close()

	logger.Info("MCP server starting", slog.String("store_backend", app.config.Store.Backend))
	return mcpserver.New(adapter).ServeStdio()
}
