package meme

import "encoding/base64"

// PositionBottom is the only caption placement the client requests.
const PositionBottom = "bottom"

// DataURIPrefix is prepended to finalized image payloads to form a preview URL.
const DataURIPrefix = "data:image/jpeg;base64,"

// Upload is the image payload sent to the captioning service.
type Upload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// FinalizeRequest carries everything the finalize endpoint needs.
type FinalizeRequest struct {
	Image    Upload
	Text     string
	Position string
	Filter   Filter
}

// FinalizedImage is the service's rendered meme.
type FinalizedImage struct {
	// Base64 is the JPEG payload exactly as returned, without a data-URI prefix.
	Base64 string
}

// DataURI returns the preview URL for the finalized image.
func (f FinalizedImage) DataURI() string {
	return DataURIPrefix + f.Base64
}

// Bytes decodes the JPEG payload.
func (f FinalizedImage) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Base64)
}
