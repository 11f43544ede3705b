package imagegen

import (
	"fmt"
	"strings"
)

// MaxImageBytes bounds the inline payload sent to the provider.
const MaxImageBytes = 20 << 20

var supportedMIME = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

// NormalizeMIME lowercases a content type, strips parameters and maps aliases.
func NormalizeMIME(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(m, ";"); idx >= 0 {
		m = strings.TrimSpace(m[:idx])
	}
	if m == "image/jpg" {
		return "image/jpeg"
	}
	return m
}

// SupportedMIME reports whether the provider accepts the content type.
func SupportedMIME(mimeType string) bool {
	_, ok := supportedMIME[NormalizeMIME(mimeType)]
	return ok
}

// ExtensionForMIME returns the file extension used for stored results.
func ExtensionForMIME(mimeType string) string {
	if ext, ok := supportedMIME[NormalizeMIME(mimeType)]; ok {
		return ext
	}
	return ".png"
}

// Validate rejects requests that can never succeed. Failures are terminal.
func Validate(req Request) error {
	switch {
	case len(req.Image) == 0:
		return NewError(CauseInvalidInput, "Image is empty.", nil)
	case len(req.Image) > MaxImageBytes:
		return NewError(CauseInvalidInput, fmt.Sprintf("Image exceeds %d MB.", MaxImageBytes>>20), nil)
	case !SupportedMIME(req.MIMEType):
		return NewError(CauseInvalidInput, fmt.Sprintf("Unsupported image type %q.", req.MIMEType), nil)
	case strings.TrimSpace(req.Instruction) == "":
		return NewError(CauseInvalidInput, "Instruction is empty.", nil)
	}
	return nil
}
