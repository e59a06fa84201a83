// Package asset models the user's selected photo: an immutable byte payload
// with its detected format, optional EXIF metadata and a preview handle that
// must be released when the asset is superseded.
package asset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"

	"github.com/fpang/meme-studio/internal/meme"
)

// Metadata is the subset of EXIF data surfaced next to the preview.
type Metadata struct {
	CameraMake  string
	CameraModel string
	DateTaken   time.Time
	HasDate     bool
	Latitude    float64
	Longitude   float64
	HasGPS      bool
}

// Asset is an immutable selected image. Callers must not modify Data.
type Asset struct {
	Name     string
	MIMEType string
	Data     []byte
	Width    int
	Height   int
	Metadata *Metadata
}

// New copies data into a new Asset and inspects it. Unknown formats are
// accepted: the captioning service decides what it can read.
func New(name string, data []byte) (*Asset, error) {
	if len(data) == 0 {
		return nil, meme.ErrNoImageSelected
	}

	a := &Asset{
		Name:     name,
		MIMEType: http.DetectContentType(data),
		Data:     bytes.Clone(data),
	}
	if a.Name == "" {
		a.Name = "image" + extensionFor(a.MIMEType)
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(a.Data)); err == nil {
		a.Width, a.Height = cfg.Width, cfg.Height
		if a.MIMEType == "application/octet-stream" {
			a.MIMEType = "image/" + format
		}
	}

	md, err := extractMetadata(a.Data)
	if err != nil {
		log.Debug().Err(err).Str("name", a.Name).Msg("No EXIF metadata in selected image")
	} else {
		a.Metadata = md
	}

	log.Debug().
		Str("name", a.Name).
		Str("mime_type", a.MIMEType).
		Int("size", len(a.Data)).
		Int("width", a.Width).
		Int("height", a.Height).
		Bool("has_metadata", a.Metadata != nil).
		Msg("Image asset created")

	return a, nil
}

// Upload returns the payload in the form the captioning service expects.
func (a *Asset) Upload() meme.Upload {
	return meme.Upload{Name: a.Name, MIMEType: a.MIMEType, Data: a.Data}
}

func extractMetadata(data []byte) (*Metadata, error) {
	exifData, err := imagemeta.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	md := &Metadata{
		CameraMake:  strings.TrimSpace(exifData.Make),
		CameraModel: strings.TrimSpace(exifData.Model),
	}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		md.Latitude = gps.Latitude()
		md.Longitude = gps.Longitude()
		md.HasGPS = true
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		md.DateTaken = exifData.DateTimeOriginal()
		md.HasDate = true
	case !exifData.CreateDate().IsZero():
		md.DateTaken = exifData.CreateDate()
		md.HasDate = true
	case !exifData.ModifyDate().IsZero():
		md.DateTaken = exifData.ModifyDate()
		md.HasDate = true
	}

	return md, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
