package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/lockstep/internal/broker"
	"github.com/dyluth/lockstep/internal/gateway"
	"github.com/dyluth/lockstep/internal/printer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	serveAddr    string
	serveLogFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session server",
	Long: `Run the session server: the HTTP/WebSocket gateway, the session
manager with its idle reaper, and the reward issuer.

On start the server recovers every unfinished session from the blackboard
and requeues any reward that has not yet been issued. SIGINT or SIGTERM
stops it gracefully; session state stays on the blackboard.

Anna speaks through Gemini when GEMINI_API_KEY is set and falls back to
scripted narration otherwise.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides gateway.addr)")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Also write logs to this file, rotated at 50MB")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}

	if serveLogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   serveLogFile,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
		}
		defer rotator.Close()
		log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := connectBlackboard(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	var model broker.LanguageModel
	if cfg.ModelEnabled() {
		gemini, err := broker.NewGeminiModel(ctx, cfg.Broker.APIKey, cfg.Broker.Model)
		if err != nil {
			return printer.Error("failed to start language model", err.Error(), []string{"Check GEMINI_API_KEY"})
		}
		defer gemini.Close()
		model = gemini
		log.Printf("[Serve] Anna is using model %s", cfg.Broker.Model)
	} else {
		printer.Warning("GEMINI_API_KEY not set: Anna will use scripted narration\n")
	}

	eng := newEngine(cfg, client, model, newTransferer(cfg))
	defer eng.manager.Close()

	if err := eng.manager.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover sessions: %w", err)
	}

	gw := gateway.New(eng.manager, client, cfg.Gateway.Addr)
	gw.AllowedOrigins = cfg.Gateway.CORSOrigins
	printer.Success("Lockstep instance '%s' serving on %s\n", cfg.Instance, cfg.Gateway.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.manager.Run(gctx) })
	g.Go(func() error { return eng.issuer.Run(gctx) })
	g.Go(func() error { return gw.Run(gctx) })

	if err := g.Wait(); err != nil {
		return printer.ErrorWithContext(
			"server stopped",
			err.Error(),
			map[string]string{"addr": cfg.Gateway.Addr},
			nil,
		)
	}

	log.Printf("[Serve] Shutdown complete")
	return nil
}
