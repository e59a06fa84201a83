package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/meme-studio/internal/config"
	"github.com/fpang/meme-studio/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cfg is assembled from the environment here and from flags during Execute.
var cfg = config.Load()

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "meme-studio",
	Short: "Caption photos into memes and play with camera lenses",
	Long: `Meme Studio turns a photo into a captioned, filtered meme using a
captioning service, and offers a live camera view with swappable lenses.

Examples:
  meme-studio serve --listen 127.0.0.1:8080
  meme-studio caption ./cat.jpg
  meme-studio caption ./cat.jpg --pick 2 --filter sepia -o cat-meme.jpg
  meme-studio caption --backend gemini   # opens a file picker
  meme-studio camera --device testpattern --snapshot lens.jpg
  meme-studio lenses
  meme-studio speak --funny "when the build is green"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init()
		return cfg.Validate()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.APIBase, "api", cfg.APIBase, "Captioning service base URL (env "+config.EnvAPIBase+")")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each captioning request")
	pf.StringVar(&cfg.Backend, "backend", cfg.Backend, "Caption backend: service or gemini (env "+config.EnvBackend+")")
	pf.StringVarP(&cfg.GeminiModel, "model", "m", cfg.GeminiModel, "Gemini model for the gemini backend")
	pf.StringVar(&cfg.Device, "device", cfg.Device, "Camera device path, or \"testpattern\" (env "+config.EnvDevice+")")
	pf.StringVar(&cfg.LensGroup, "lens-group", cfg.LensGroup, "Lens group loaded when the camera starts")
	pf.StringVar(&cfg.LensCatalog, "lens-catalog", cfg.LensCatalog, "TOML lens catalog replacing the built-in one")
	pf.StringVar(&cfg.LensTokenParam, "lens-token-param", cfg.LensTokenParam, "SSM parameter holding the lens token (env "+config.EnvLensTokenParam+")")
	pf.StringVar(&cfg.LockDir, "lock-dir", cfg.LockDir, "Directory for camera lock files")

	rootCmd.AddCommand(serveCmd, captionCmd, cameraCmd, lensesCmd, voicesCmd, speakCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
