// Package storagesvc stores uploaded media on the local disk.
package storagesvc

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

// ErrInvalidImage is returned by SaveImage for anything but JPEG or PNG images.
var ErrInvalidImage = core.ErrInvalidImage

type localStorage struct {
	dir          string
	url          string
	maxImageSide int
}

var _ core.FileStorage = (*localStorage)(nil)

func NewLocalStorage(conf core.StorageConfig) core.FileStorage {
	return &localStorage{
		dir:          conf.MediaDir,
		url:          strings.TrimRight(conf.MediaURL, "/"),
		maxImageSide: conf.MaxImageSide,
	}
}

// newKey returns a unique key under category, keeping filename's extension.
func newKey(category, filename string) string {
	return path.Join(category, uuid.NewString()+strings.ToLower(path.Ext(filename)))
}

func (s *localStorage) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || clean != "/"+key {
		return "", errors.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *localStorage) create(key string) (*os.File, error) {
	fp, err := s.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating media dir")
	}
	f, err := os.Create(fp)
	return f, errors.Wrap(err, "creating file")
}

func (s *localStorage) Save(ctx context.Context, category, filename string, r io.Reader) (string, error) {
	key := newKey(category, filename)
	f, err := s.create(key)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = s.Delete(ctx, key)
		return "", errors.Wrap(err, "writing file")
	}
	return key, errors.Wrap(f.Close(), "closing file")
}

func (s *localStorage) SaveImage(ctx context.Context, category, filename string, r io.Reader) (string, error) {
	format, err := imaging.FormatFromFilename(filename)
	if err != nil || !(format == imaging.JPEG || format == imaging.PNG) {
		return "", ErrInvalidImage
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return "", ErrInvalidImage
	}
	if b := img.Bounds(); s.maxImageSide > 0 && (b.Dx() > s.maxImageSide || b.Dy() > s.maxImageSide) {
		img = imaging.Fit(img, s.maxImageSide, s.maxImageSide, imaging.Lanczos)
	}

	key := newKey(category, filename)
	f, err := s.create(key)
	if err != nil {
		return "", err
	}
	if err = imaging.Encode(f, img, format); err != nil {
		_ = f.Close()
		_ = s.Delete(ctx, key)
		return "", errors.Wrap(err, "encoding image")
	}
	return key, errors.Wrap(f.Close(), "closing file")
}

func (s *localStorage) Delete(_ context.Context, key string) error {
	fp, err := s.path(key)
	if err != nil {
		return err
	}
	if err = os.Remove(fp); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting file")
	}
	return nil
}

func (s *localStorage) URL(key string) string {
	if key == "" {
		return ""
	}
	return s.url + "/" + key
}
