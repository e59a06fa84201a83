package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/asset/thumbnail"
	"github.com/fpang/meme-studio/internal/captioner"
	"github.com/fpang/meme-studio/internal/config"
	"github.com/fpang/meme-studio/internal/gemini"
	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/lens/local"
	"github.com/fpang/meme-studio/internal/logging"
	"github.com/fpang/meme-studio/internal/media"
	"github.com/fpang/meme-studio/internal/media/v4l2"
	"github.com/fpang/meme-studio/internal/workflow"
)

// localLensToken authorizes the built-in lens engine when no token is configured.
const localLensToken = "local"

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newBackends returns the caption generator selected by --backend and the
// service client, which always finalizes.
func newBackends(ctx context.Context) (workflow.CaptionGenerator, *captioner.Client, error) {
	client := captioner.NewClient(cfg.APIBase, cfg.Timeout)
	if cfg.Backend != config.BackendGemini {
		return client, client, nil
	}
	gen, err := gemini.New(ctx, cfg.GeminiKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, fmt.Errorf("create Gemini generator: %w", err)
	}
	return gen, client, nil
}

func loadCatalog() (*local.Catalog, error) {
	if cfg.LensCatalog == "" {
		return local.DefaultCatalog()
	}
	f, err := os.Open(cfg.LensCatalog)
	if err != nil {
		return nil, fmt.Errorf("open lens catalog: %w", err)
	}
	defer f.Close()
	return local.LoadCatalog(f)
}

func newDevice() media.Device {
	if cfg.Device == media.TestPatternName {
		return media.NewTestPattern()
	}
	d := v4l2.New(cfg.Device)
	d.LockDir = cfg.LockDir
	return d
}

func newCamera(cat *local.Catalog) *lens.Controller {
	token := cfg.LensToken
	if token == "" {
		log.Debug().Msg("No lens token configured, using the local engine token")
		token = localLensToken
	}
	return lens.NewController(lens.ControllerConfig{
		Device:    newDevice(),
		Bootstrap: local.NewBootstrap(cat),
		Token:     token,
		GroupID:   cfg.LensGroup,
	})
}

// thumbnailer adapts the WebP thumbnail renderer to the view's preview route.
func thumbnailer(data []byte, maxDim int) ([]byte, string, error) {
	out, err := thumbnail.Generate(data, maxDim)
	if err != nil {
		return nil, "", err
	}
	return out, thumbnail.MIMEType, nil
}

func startupLog(name string, initStart time.Time) *logging.StartupLogger {
	s := logging.NewStartupLogger(name).
		Version(version).
		Endpoint("captioner", cfg.APIBase).
		Device("camera", cfg.Device).
		Feature("gemini", cfg.Backend == config.BackendGemini)
	for k, v := range cfg.Summary() {
		s.Config(k, v)
	}
	return s.InitDuration(time.Since(initStart))
}
