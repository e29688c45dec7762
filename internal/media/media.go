// Package media stores chat image attachments and returns the URL they are served under.
package media

import (
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ImagesDir is the object prefix for chat images.
const ImagesDir = "images"

// ErrUnsupportedType is returned for payloads that are not a known image format.
var ErrUnsupportedType = errors.New("unsupported image type")

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

// DetectType sniffs the content type of data, ignoring any parameters.
func DetectType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

// objectName returns images/<uuid>.<ext> for a supported image type.
func objectName(data []byte, contentType string) (string, string, error) {
	ct := contentType
	if ct == "" {
		ct = DetectType(data)
	}
	ext, ok := extensions[ct]
	if !ok {
		return "", "", ErrUnsupportedType
	}
	return path.Join(ImagesDir, uuid.NewString()+ext), ct, nil
}
