package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/meme-studio/internal/asset"
	"github.com/fpang/meme-studio/internal/config"
	"github.com/fpang/meme-studio/internal/view"
	"github.com/fpang/meme-studio/internal/voice"
	"github.com/fpang/meme-studio/internal/workflow"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the meme generator and camera API for the browser UI",
	Long: `Serve starts a local HTTP server exposing the caption workflow, the lens
camera (as MJPEG) and speech playback. State changes are pushed over a
websocket at /api/events.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&cfg.Listen, "listen", cfg.Listen, "Address to listen on (env "+config.EnvListen+")")
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, stop := signalContext()
	defer stop()

	if err := cfg.ResolveSecrets(ctx, nil); err != nil {
		return err
	}
	gen, client, err := newBackends(ctx)
	if err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	previews := asset.NewRegistry()
	engine := workflow.New(gen, client, workflow.WithPreviews(previews), workflow.WithContext(ctx))
	defer engine.Close()

	synth := voice.NewEspeak()
	voices := voice.NewCatalog(synth)
	if _, err := voices.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Speech playback unavailable")
	}

	srv := view.New(ctx, view.Config{
		Engine:    engine,
		Previews:  previews,
		Camera:    newCamera(cat),
		Voices:    voices,
		Synth:     synth,
		Thumbnail: thumbnailer,
	})

	httpSrv := &http.Server{
		Addr:        cfg.Listen,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the camera stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		srv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown incomplete")
		}
	}()

	startupLog("serve", initStart).
		Endpoint("view", "http://"+cfg.Listen).
		Feature("speech", synth.Available()).
		Log()
	fmt.Printf("\n  Meme Studio API: http://%s/api/state\n\n", cfg.Listen)

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
