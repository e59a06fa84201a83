package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/fpang/meme-studio/internal/auth"
	"github.com/fpang/meme-studio/internal/config"
	"github.com/fpang/meme-studio/internal/meme"
	"github.com/fpang/meme-studio/internal/voice"
	"github.com/fpang/meme-studio/internal/workflow"
)

var (
	captionFilter   string
	captionPick     int
	captionText     string
	captionOutput   string
	captionSpeak    bool
	captionFunny    bool
	captionValidate bool
)

var captionCmd = &cobra.Command{
	Use:   "caption [image]",
	Short: "Suggest captions for an image and optionally render the meme",
	Long: `Caption sends an image to the caption backend and prints the suggestions.
With --pick or --text it also renders the meme through the service and
writes the JPEG. Without an image argument a file picker opens.

Filters: ` + filterNames(),
	Args: cobra.MaximumNArgs(1),
	RunE: runCaption,
}

func init() {
	f := captionCmd.Flags()
	f.StringVarP(&captionFilter, "filter", "f", "", "Filter baked into the meme")
	f.IntVarP(&captionPick, "pick", "p", 0, "Render the Nth suggested caption (1-based)")
	f.StringVarP(&captionText, "text", "t", "", "Render this caption instead of a suggestion")
	f.StringVarP(&captionOutput, "output", "o", "", "Output path for the meme (default <image>-meme.jpg)")
	f.BoolVar(&captionSpeak, "speak", false, "Read the chosen caption aloud")
	f.BoolVar(&captionFunny, "funny", false, "Use a random funny voice when speaking")
	f.BoolVar(&captionValidate, "validate", false, "Validate the Gemini API key before generating")
}

func filterNames() string {
	names := make([]string, 0, len(meme.Filters()))
	for _, f := range meme.Filters() {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}

func runCaption(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		picked, err := pickImage()
		if err != nil {
			return err
		}
		path = picked
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	if err := cfg.ResolveSecrets(ctx, nil); err != nil {
		return err
	}
	if captionValidate && cfg.Backend == config.BackendGemini {
		if err := validateGeminiKey(ctx); err != nil {
			return err
		}
	}
	gen, client, err := newBackends(ctx)
	if err != nil {
		return err
	}

	engine := workflow.New(gen, client, workflow.WithContext(ctx))
	defer engine.Close()
	go func() {
		for snap := range engine.Updates() {
			log.Debug().Uint64("seq", snap.Seq).Stringer("state", snap.State).Msg("Workflow transition")
		}
	}()

	if err := engine.SelectImage(filepath.Base(path), data); err != nil {
		return errors.New(workflow.UserMessage(err))
	}
	if err := engine.SetFilter(captionFilter); err != nil {
		return errors.New(workflow.UserMessage(err))
	}

	fmt.Printf("Generating captions for %s via %s...\n", filepath.Base(path), cfg.Backend)
	if err := engine.RequestCaptions(); err != nil {
		return err
	}
	engine.Wait()
	snap := engine.Snapshot()
	if snap.State == workflow.StateError {
		return errors.New(snap.Message)
	}
	printCaptions(snap.Captions)

	text, err := chosenCaption(snap.Captions)
	if err != nil || text == "" {
		return err
	}

	fmt.Printf("Rendering meme with filter %s...\n", snap.Filter)
	if err := engine.Finalize(text); err != nil {
		return err
	}
	engine.Wait()
	if snap := engine.Snapshot(); snap.State == workflow.StateError {
		return errors.New(snap.Message)
	}
	img, ok := engine.Meme()
	if !ok {
		return errors.New(workflow.MsgFinalizeFailed)
	}
	out, err := img.Bytes()
	if err != nil {
		return fmt.Errorf("decode meme: %w", err)
	}
	dest := captionOutput
	if dest == "" {
		dest = strings.TrimSuffix(path, filepath.Ext(path)) + "-meme.jpg"
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return fmt.Errorf("write meme: %w", err)
	}
	fmt.Printf("Meme written to %s (%d bytes)\n", dest, len(out))

	if captionSpeak {
		speakNow(ctx, text, "", "", captionFunny)
	}
	return nil
}

func pickImage() (string, error) {
	path, err := zenity.SelectFile(
		zenity.Title("Select an image"),
		zenity.FileFilters{
			{
				Name:     "Images",
				Patterns: []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp"},
			},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", errors.New(workflow.MsgNoImage)
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}
	return path, nil
}

func validateGeminiKey(ctx context.Context) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("create Gemini client: %w", err)
	}
	if err := auth.ValidateAPIKey(ctx, client, cfg.GeminiModel); err != nil {
		var valErr *auth.ValidationError
		if errors.As(err, &valErr) {
			return fmt.Errorf("Gemini API key check failed: %s", valErr.Message)
		}
		return err
	}
	return nil
}

func printCaptions(cs meme.CaptionSet) {
	rows := make([][]string, 0, len(cs.Captions))
	for i, c := range cs.Captions {
		rows = append(rows, []string{strconv.Itoa(i + 1), c})
	}
	fmt.Println(renderTable([]string{"#", "Caption"}, rows, 1))
	if len(cs.Hashtags) > 0 {
		fmt.Printf("Hashtags: #%s\n", strings.Join(cs.Hashtags, " #"))
	}
	if cs.Description != "" {
		fmt.Printf("Description: %s\n", cs.Description)
	}
}

// chosenCaption returns the caption to render, or "" when the user only
// asked for suggestions.
func chosenCaption(cs meme.CaptionSet) (string, error) {
	if captionText != "" {
		return captionText, nil
	}
	if captionPick == 0 {
		return "", nil
	}
	if captionPick < 0 || captionPick > len(cs.Captions) {
		return "", fmt.Errorf("--pick must be between 1 and %d", len(cs.Captions))
	}
	return cs.Captions[captionPick-1], nil
}

// speakNow blocks until text has been spoken, unlike voice.Speak, so the
// process does not exit mid-utterance.
func speakNow(ctx context.Context, text, name, language string, funny bool) {
	synth := voice.NewEspeak()
	if !synth.Available() {
		fmt.Println(voice.UnsupportedNotice)
		return
	}
	catalog := voice.NewCatalog(synth)
	if _, err := catalog.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to list voices")
	}
	v, ok := catalog.Lookup(name)
	if !ok {
		v, ok = catalog.Match(language)
	}
	if !ok {
		v, _ = catalog.Default()
	}
	if err := synth.Speak(ctx, voice.NewRequest(text, v, funny, nil)); err != nil {
		log.Warn().Err(err).Msg("Speech playback failed")
	}
}
