package store

import (
	"context"
	"path/filepath"
	"strings"

	"linkvault/pkg/domain"
)

// Object locates a stored blob. A record may carry both a remote key and a
// local fallback copy when dual-write is enabled.
type Object struct {
	LocalPath string
	RemoteKey string
	RemoteURL string
}

// BlobStore persists uploaded file bodies. Save must not leave partial
// files behind on error; Delete must treat an already-missing object as
// success.
type BlobStore interface {
	Save(ctx context.Context, up *domain.FileUpload) (*Object, error)
	Delete(ctx context.Context, obj Object) error
}

// CandidateSource produces the ordered retrieval URLs for a remote-backed
// record, most preferred first.
type CandidateSource interface {
	Candidates(ctx context.Context, p *domain.Paste) []string
}

// SafeFileName strips any path components and characters that would be
// unsafe in a Content-Disposition header or on disk.
func SafeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '\r', '\n', 0:
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return name
}

// FileExt returns the extension without the dot, or "" when none is
// derivable.
func FileExt(name string) string {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext
}
