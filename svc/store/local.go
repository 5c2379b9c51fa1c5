package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"linkvault/pkg/domain"
)

// LocalStore writes upload bodies to a directory on disk. Files are written
// to a temp name and renamed so a failed upload never leaves a readable
// partial behind.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &LocalStore{dir: dir}, nil
}

func (l *LocalStore) Save(ctx context.Context, up *domain.FileUpload) (*Object, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	name, err := uniqueName(up.Name)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(l.dir, name)
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, up.Reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "write upload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "close upload")
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return nil, errors.Wrap(err, "finalize upload")
	}
	return &Object{LocalPath: dest}, nil
}

func (l *LocalStore) Delete(_ context.Context, obj Object) error {
	if obj.LocalPath == "" {
		return nil
	}
	if err := os.Remove(obj.LocalPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove local file")
	}
	return nil
}

func uniqueName(original string) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	return hex.EncodeToString(buf) + "-" + SafeFileName(original), nil
}
