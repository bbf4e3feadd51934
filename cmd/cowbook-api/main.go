// Command cowbook-api runs the multi-camera tracking API as a standalone
// HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cowbook/cowbook-api/internal/boot"
	"github.com/cowbook/cowbook-api/internal/logging"
	"github.com/cowbook/cowbook-api/internal/settings"
)

// shutdownGrace bounds how long in-flight runs get after a signal.
const shutdownGrace = 30 * time.Second

var (
	portFlag            int
	configFlag          string
	modelFlag           string
	pipelineCmdFlag     string
	pipelineTimeoutFlag time.Duration
	workDirFlag         string
	videoDirFlag        string
	exposeVideosFlag    bool
	strictPairingFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "cowbook-api",
	Short: "HTTP API for multi-camera video tracking",
	Long: `cowbook-api accepts groups of camera videos, runs the tracking pipeline
on them and returns the per-camera and merged results as JSON.

Flags override the matching COWBOOK_* environment variables.

Examples:
  cowbook-api
  cowbook-api --port 9000 --config config.json
  cowbook-api --pipeline-cmd "python3 pipeline_runner.py" --pipeline-timeout 10m
  cowbook-api --expose-videos --video-dir output_videos`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	f := rootCmd.Flags()
	f.IntVar(&portFlag, "port", settings.DefaultPort, "Port to listen on")
	f.StringVar(&configFlag, "config", settings.DefaultConfigPath, "Base run configuration (JSON)")
	f.StringVar(&modelFlag, "model", settings.DefaultModelPath, "Detection model weights")
	f.StringVar(&pipelineCmdFlag, "pipeline-cmd", settings.DefaultPipelineCmd, "Tracking pipeline command line")
	f.DurationVar(&pipelineTimeoutFlag, "pipeline-timeout", 0, "Pipeline time limit (0 = none)")
	f.StringVar(&workDirFlag, "work-dir", "", "Parent directory for per-request workspaces (default: OS temp dir)")
	f.StringVar(&videoDirFlag, "video-dir", settings.DefaultVideoDir, "Directory tracking videos are written to")
	f.BoolVar(&exposeVideosFlag, "expose-videos", false, "Serve tracking videos and add their URLs to results")
	f.BoolVar(&strictPairingFlag, "strict-pairing", false, "Reject requests whose video and index counts differ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over the environment settings.
func applyFlags(cmd *cobra.Command, s *settings.Settings) {
	f := cmd.Flags()
	if f.Changed("port") {
		s.Port = portFlag
	}
	if f.Changed("config") {
		s.ConfigPath = configFlag
	}
	if f.Changed("model") {
		s.ModelPath = modelFlag
	}
	if f.Changed("pipeline-cmd") {
		s.PipelineCmd = pipelineCmdFlag
	}
	if f.Changed("pipeline-timeout") {
		s.PipelineTimeout = pipelineTimeoutFlag
	}
	if f.Changed("work-dir") {
		s.WorkDir = workDirFlag
	}
	if f.Changed("video-dir") {
		s.VideoDir = videoDirFlag
	}
	if f.Changed("expose-videos") {
		s.ExposeVideos = exposeVideosFlag
	}
	if f.Changed("strict-pairing") {
		s.StrictPairing = strictPairingFlag
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	logging.Init()

	s, err := settings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	applyFlags(cmd, &s)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := boot.Build(ctx, "cowbook-api", s)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           app.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}()

	log.Info().Int("port", s.Port).Msg("Starting tracking API")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
