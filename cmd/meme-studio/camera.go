package main

import (
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/meme-studio/internal/lens"
	"github.com/fpang/meme-studio/internal/media"
)

var (
	cameraLens     string
	cameraSnapshot string
	cameraDuration time.Duration
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Run a lens session on the camera without the browser",
	Long: `Camera opens the configured device, attaches the lens engine and applies
the first lens of the group (or --lens). With --snapshot it saves one
rendered frame and exits; otherwise it runs until interrupted or until
--duration elapses, logging the frame rate.`,
	Args: cobra.NoArgs,
	RunE: runCamera,
}

func init() {
	f := cameraCmd.Flags()
	f.StringVarP(&cameraLens, "lens", "l", "", "Lens id to apply after start")
	f.StringVar(&cameraSnapshot, "snapshot", "", "Write one rendered frame as JPEG and exit")
	f.DurationVar(&cameraDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
}

func runCamera(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, stop := signalContext()
	defer stop()

	if err := cfg.ResolveSecrets(ctx, nil); err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	cam := newCamera(cat)

	sess, err := cam.Start(ctx)
	if err != nil {
		return cameraStartError(err)
	}
	defer func() {
		if err := cam.Stop(); err != nil {
			log.Warn().Err(err).Msg("Camera stop reported an error")
		}
	}()
	startupLog("camera", initStart).Config("session", sess.ID).Log()

	if cameraLens != "" {
		if err := cam.SwitchLens(ctx, cameraLens); err != nil {
			return err
		}
	}
	printLenses(cam.Lenses(), cam.ActiveLensID())

	if cameraDuration > 0 {
		timer := time.AfterFunc(cameraDuration, stop)
		defer timer.Stop()
	}

	frames := cam.Output()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	count, last := 0, time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("frames", count).Msg("Camera session ended")
			return nil
		case <-ticker.C:
			fps := float64(count) / time.Since(last).Seconds()
			log.Info().Float64("fps", fps).Str("lens", cam.ActiveLensID()).Msg("Camera running")
			count, last = 0, time.Now()
		case frame, ok := <-frames:
			if !ok {
				return errors.New("camera stream ended")
			}
			count++
			if cameraSnapshot != "" {
				return writeSnapshot(cameraSnapshot, frame)
			}
		}
	}
}

func writeSnapshot(path string, frame media.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := jpeg.Encode(f, frame.Image, &jpeg.Options{Quality: 90}); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Snapshot %dx%d written to %s\n", frame.Width(), frame.Height(), path)
	return nil
}

func cameraStartError(err error) error {
	switch {
	case errors.Is(err, media.ErrDeviceAccessDenied):
		return fmt.Errorf("camera access denied (check permissions on %s): %w", cfg.Device, err)
	case errors.Is(err, media.ErrDeviceUnavailable):
		return fmt.Errorf("no camera available at %s (try --device %s): %w", cfg.Device, media.TestPatternName, err)
	case errors.Is(err, lens.ErrStopped):
		return errors.New("camera start interrupted")
	default:
		return err
	}
}

func printLenses(entries []lens.Entry, active string) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		mark := ""
		if e.ID == active {
			mark = "*"
		}
		rows = append(rows, []string{mark, e.ID, e.Name})
	}
	fmt.Println(renderTable([]string{"", "Lens", "Name"}, rows))
}
