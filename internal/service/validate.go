package service

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/eventgallery/internal/domain"
)

// Payload is an uploaded image as received from a client.
type Payload struct {
	Data     []byte
	Filename string
}

var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

var typeExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

// Validator enforces upload size and type limits.
type Validator struct {
	maxBytes int64
	allowed  []string
}

// NewValidator creates a Validator. allowed holds MIME types such as "image/png".
func NewValidator(maxBytes int64, allowed []string) *Validator {
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

// MaxBytes returns the upload size limit.
func (v *Validator) MaxBytes() int64 {
	return v.maxBytes
}

func (v *Validator) isAllowed(contentType string) bool {
	for _, t := range v.allowed {
		if strings.EqualFold(t, contentType) {
			return true
		}
	}
	return false
}

// Validate checks p and returns the content type to store it under.
//
// The declared type comes from the filename extension. Content that sniffs as
// an image must also be an allowed type. Content that does not sniff as an
// image is passed through so the extractor reports it as unsupported.
func (v *Validator) Validate(p Payload) (string, error) {
	const op = "validate"
	if len(p.Data) == 0 {
		return "", domain.Errorf(domain.KindPayloadRejected, op, "empty payload")
	}
	if v.maxBytes > 0 && int64(len(p.Data)) > v.maxBytes {
		return "", domain.Errorf(domain.KindPayloadRejected, op,
			"payload of %d bytes exceeds limit of %d bytes", len(p.Data), v.maxBytes)
	}

	declared := ""
	if ext := strings.ToLower(filepath.Ext(p.Filename)); ext != "" {
		declared = extensionTypes[ext]
		if declared == "" || !v.isAllowed(declared) {
			return "", domain.Errorf(domain.KindPayloadRejected, op, "file type %q is not allowed", ext)
		}
	}

	sniffed := mimetype.Detect(p.Data)
	if strings.HasPrefix(sniffed.String(), "image/") {
		for _, t := range v.allowed {
			if sniffed.Is(t) {
				return strings.ToLower(t), nil
			}
		}
		return "", domain.Errorf(domain.KindPayloadRejected, op, "content type %s is not allowed", sniffed.String())
	}

	if declared == "" {
		declared = "application/octet-stream"
	}
	return declared, nil
}

// extensionFor returns the file extension used for stored objects.
func extensionFor(contentType string) string {
	if ext, ok := typeExtensions[contentType]; ok {
		return ext
	}
	return ".bin"
}
