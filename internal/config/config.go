// Package config holds the process configuration. It is assembled once at
// startup from flags with environment defaults, validated, and then only
// read.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/meme-studio/internal/auth"
	"github.com/fpang/meme-studio/internal/captioner"
	"github.com/fpang/meme-studio/internal/gemini"
	"github.com/fpang/meme-studio/internal/lens"
)

// Environment variables read by Load.
const (
	EnvAPIBase        = "MEME_API_BASE"
	EnvTimeout        = "MEME_API_TIMEOUT"
	EnvBackend        = "MEME_CAPTION_BACKEND"
	EnvDevice         = "MEME_DEVICE"
	EnvLensToken      = "MEME_LENS_TOKEN"
	EnvLensTokenParam = "MEME_LENS_TOKEN_SSM_PARAM"
	EnvLensGroup      = "MEME_LENS_GROUP"
	EnvLensCatalog    = "MEME_LENS_CATALOG"
	EnvListen         = "MEME_LISTEN"
	EnvLockDir        = "MEME_LOCK_DIR"
)

// Caption backends.
const (
	BackendService = "service"
	BackendGemini  = "gemini"
)

// DefaultAPIBase is the local captioning service.
const DefaultAPIBase = "http://localhost:5000"

// DefaultDevice is the first V4L2 node. It matches v4l2.DefaultDevice
// without linking GStreamer into every importer of config.
const DefaultDevice = "/dev/video0"

// DefaultListen is the view server address.
const DefaultListen = "127.0.0.1:8080"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the injected, set-once configuration.
type Config struct {
	// APIBase is the captioning service base URL.
	APIBase string
	Timeout time.Duration
	// Backend selects who generates captions: the service or Gemini directly.
	// Finalization always goes through the service.
	Backend     string
	GeminiModel string
	GeminiKey   string

	Device         string
	LensToken      string
	LensTokenParam string
	LensGroup      string
	// LensCatalog is an optional TOML catalog replacing the embedded one.
	LensCatalog string
	LockDir     string

	Listen string
}

// Load returns the defaults overlaid with the environment. Flags are bound
// on top of the result by the caller.
func Load() Config {
	c := Config{
		APIBase:        envOr(EnvAPIBase, DefaultAPIBase),
		Timeout:        captioner.DefaultTimeout,
		Backend:        envOr(EnvBackend, BackendService),
		GeminiModel:    gemini.ModelName(""),
		GeminiKey:      os.Getenv(auth.APIKeyEnv),
		Device:         envOr(EnvDevice, DefaultDevice),
		LensToken:      os.Getenv(EnvLensToken),
		LensTokenParam: os.Getenv(EnvLensTokenParam),
		LensGroup:      envOr(EnvLensGroup, lens.DefaultGroupID),
		LensCatalog:    os.Getenv(EnvLensCatalog),
		LockDir:        envOr(EnvLockDir, os.TempDir()),
		Listen:         envOr(EnvListen, DefaultListen),
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Timeout = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.Timeout = time.Duration(secs) * time.Second
		} else {
			log.Warn().Str("value", v).Msg("Ignoring unparseable " + EnvTimeout)
		}
	}
	return c
}

// Validate checks the fields every command relies on.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: API base %q must be an http(s) URL", ErrInvalid, c.APIBase)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalid)
	}
	switch c.Backend {
	case BackendService, BackendGemini:
	default:
		return fmt.Errorf("%w: unknown caption backend %q (want %s or %s)", ErrInvalid, c.Backend, BackendService, BackendGemini)
	}
	if c.Device == "" {
		return fmt.Errorf("%w: device must not be empty", ErrInvalid)
	}
	if c.LensGroup == "" {
		return fmt.Errorf("%w: lens group must not be empty", ErrInvalid)
	}
	return nil
}

// ResolveSecrets fills GeminiKey and LensToken from their secondary
// sources. A missing Gemini key is an error only for the Gemini backend; a
// missing lens token is left empty so the camera reports it on start.
func (c *Config) ResolveSecrets(ctx context.Context, store auth.ParameterStore) error {
	if c.Backend == BackendGemini && c.GeminiKey == "" {
		key, err := auth.GetAPIKey()
		if err != nil {
			return err
		}
		c.GeminiKey = key
	}

	if c.LensToken == "" && c.LensTokenParam != "" {
		if store == nil {
			s, err := auth.NewParameterStore(ctx)
			if err != nil {
				return err
			}
			store = s
		}
		token, err := auth.ResolveLensToken(ctx, "", c.LensTokenParam, store)
		if err != nil {
			return err
		}
		c.LensToken = token
	}
	return nil
}

// Summary returns the non-secret settings for the startup log.
func (c Config) Summary() map[string]string {
	return map[string]string{
		"backend":       c.Backend,
		"geminiModel":   c.GeminiModel,
		"timeout":       c.Timeout.String(),
		"lensGroup":     c.LensGroup,
		"lensCatalog":   c.LensCatalog,
		"lensToken":     present(c.LensToken),
		"geminiKey":     present(c.GeminiKey),
		"lockDir":       c.LockDir,
		"listenAddress": c.Listen,
	}
}

func present(secret string) string {
	if secret == "" {
		return "unset"
	}
	return "set"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
