// Package oss implements the Aliyun-OSS-compatible object client: a
// retrying range-download engine and a threshold-based
// single-put/multipart-upload engine, over the internal/oss/signer v4
// request signer.
package oss

import "fmt"

// ObjectMeta describes an object's content type and size.
type ObjectMeta struct {
	ContentType   string
	ContentLength int64
}

// extensionByContentType pins the handful of media types this gateway
// actually accepts (images, video, and upload documents) to a file
// suffix. The standard library's mime package only reverse-maps a
// grab-bag of types depending on the OS's installed mime.types file,
// which is not portable across the containers this gateway runs in —
// a small static table pinned to the accepted formats is used instead.
var extensionByContentType = map[string]string{
	"image/png":                "png",
	"image/jpeg":               "jpg",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/bmp":                "bmp",
	"video/mp4":                "mp4",
	"video/quicktime":          "mov",
	"video/webm":               "webm",
	"application/pdf":          "pdf",
	"application/json":         "json",
	"text/plain":               "txt",
	"application/zip":          "zip",
	"application/octet-stream": "bin",
}

// Extension maps ContentType to a file suffix. An unrecognized
// content type is a configuration/validation error, not a silently
// accepted default.
func (m ObjectMeta) Extension() (string, error) {
	ext, ok := extensionByContentType[m.ContentType]
	if !ok {
		return "", fmt.Errorf("unknown extension for content-type %q", m.ContentType)
	}
	return ext, nil
}
