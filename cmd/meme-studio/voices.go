package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/meme-studio/internal/voice"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the installed speech voices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog := voice.NewCatalog(voice.NewEspeak())
		if _, err := catalog.Refresh(cmd.Context()); err != nil {
			if errors.Is(err, voice.ErrSpeechUnsupported) {
				fmt.Println(voice.UnsupportedNotice)
				return nil
			}
			return err
		}
		var rows [][]string
		for _, v := range catalog.Voices() {
			def := ""
			if v.Default {
				def = "yes"
			}
			rows = append(rows, []string{v.Name, v.Language, v.Gender, def})
		}
		fmt.Println(renderTable([]string{"Voice", "Language", "Gender", "Default"}, rows))
		return nil
	},
}

var (
	speakVoice    string
	speakLanguage string
	speakFunny    bool
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Read text aloud",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		speakNow(ctx, strings.Join(args, " "), speakVoice, speakLanguage, speakFunny)
		return nil
	},
}

func init() {
	f := speakCmd.Flags()
	f.StringVar(&speakVoice, "voice", "", "Voice name (see voices)")
	f.StringVar(&speakLanguage, "language", "", "BCP 47 language to match a voice, e.g. en-GB")
	f.BoolVar(&speakFunny, "funny", false, "Randomize rate and pitch")
}
