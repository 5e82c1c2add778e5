// Package ingest stores uploaded receipt files on local disk under
// YYYY/MM/<sha256(client ip)>/<timestamp>-<seq>.<ext>.
package ingest

import (
	"errors"
	"io"
)

// ErrInvalidPath is returned for relative paths that leave the base directory
// or do not point at a stored file.
var ErrInvalidPath = errors.New("invalid upload path")

// Upload is one file received by the upload endpoint.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Slot is a reserved location for one upload.
type Slot struct {
	// Rel is the slash-separated path below the base directory.
	Rel string
	Ext string

	abs string
}
