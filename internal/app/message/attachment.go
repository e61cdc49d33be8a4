package message

import (
	"path/filepath"
	"strings"
	"time"

	"edchat/internal/pkg/errs"
)

const (
	// MaxImageSizeMB is the maximum allowed image size in megabytes.
	MaxImageSizeMB = 5

	// MaxImageSize is the maximum allowed image size in bytes.
	MaxImageSize = MaxImageSizeMB * 1024 * 1024

	// ImageURLDuration is how long a presigned image download stays valid.
	ImageURLDuration = 15 * time.Minute
)

// AllowedMIMETypes is the set of accepted image MIME types.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// IsImageMIME reports whether mimeType is an accepted image type.
// Parameters such as "; charset" are ignored.
func IsImageMIME(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	_, ok := AllowedMIMETypes[strings.ToLower(strings.TrimSpace(base))]
	return ok
}

// ValidateImageSize checks that size is positive and within MaxImageSize.
func ValidateImageSize(size int64) *errs.CustomError {
	if size <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if size > MaxImageSize {
		return errs.NewError(errs.ErrFileSizeTooLarge)
	}

	return nil
}

// ValidateImageType checks that mimeType is allowed and agrees with the file extension.
func ValidateImageType(fileName string, mimeType string) *errs.CustomError {
	if !IsImageMIME(mimeType) {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	expectedMIME, ok := ExtToMIME[ext]
	if !ok {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	base, _, _ := strings.Cut(mimeType, ";")
	if expectedMIME != strings.ToLower(strings.TrimSpace(base)) {
		return errs.NewError(errs.ErrFileTypeInvalid)
	}

	return nil
}
