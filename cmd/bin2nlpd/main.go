// Command bin2nlpd runs the bin2nlp job pipeline: HTTP ingress, the worker
// pool, and the background reaping/sweep/cleanup loops, all in one process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Onegaishimas/bin2nlp/internal/config"
	"github.com/Onegaishimas/bin2nlp/internal/obslog"
	"github.com/Onegaishimas/bin2nlp/internal/service"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "bin2nlpd",
	Short:   "bin2nlp job pipeline daemon",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("bin2nlpd version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "", "Override BIN2NLP_LOG_LEVEL (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Force JSON log output regardless of BIN2NLP_LOG_JSON")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	forceJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logLevel := obslog.Level(level)
	if level == "" {
		logLevel = obslog.Level(envOr("BIN2NLP_LOG_LEVEL", "info"))
	}
	logJSON := forceJSON || envBoolOr("BIN2NLP_LOG_JSON", true)
	obslog.Init(obslog.Config{Level: logLevel, JSONOutput: logJSON})
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		return v == "1" || v == "true"
	}
	return def
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("bin2nlpd: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bin2nlpd: %w", err)
	}

	log := obslog.WithComponent("bin2nlpd")

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      svc.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		if err := svc.Run(ctx); err != nil {
			errCh <- fmt.Errorf("pipeline: %w", err)
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.ListenAddress).Msg("http ingress listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http ingress: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal component error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http ingress shutdown did not complete cleanly")
	}

	cancel()
	svc.Shutdown()
	log.Info().Msg("shutdown complete")
	return nil
}
