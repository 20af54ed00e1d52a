package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evident/internal/events"
	"github.com/ppiankov/evident/internal/run"
	"github.com/ppiankov/evident/internal/web"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API for run history, reports and live progress",
	Long: `Serve starts an HTTP API over the local run store. It lists runs,
returns frozen reports, resumes paused runs and streams pipeline progress
as server-sent events.

Example:
  evident serve
  evident serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8000)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Web.Addr = serveAddr
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	orch, closer, err := run.Build(cfg, bus, log)
	if err != nil {
		return err
	}
	defer closer()

	srv := web.NewServer(cfg, orch.History(), bus, orch, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintf(os.Stderr, "⚙️  Serving on %s\n", cfg.Web.Addr)
	return srv.Run(ctx)
}
