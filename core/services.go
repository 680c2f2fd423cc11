package core

import (
	"context"
	"io"
)

// File storage categories
const (
	MediaAvatars     = "avatars"
	MediaCourses     = "courses"
	MediaAttachments = "attachments"
)

type (
	// FileStorage stores opaque blobs (avatars, course images, lesson attachments) under generated keys.
	FileStorage interface {
		// Save stores the content of r and returns its key.
		Save(ctx context.Context, category, filename string, r io.Reader) (string, error)
		// SaveImage is like Save, but r must be a JPEG or PNG image, which gets scaled down if needed.
		SaveImage(ctx context.Context, category, filename string, r io.Reader) (string, error)
		Delete(ctx context.Context, key string) error
		URL(key string) string
	}

	// RateLimiter counts attempts per key within a time window.
	RateLimiter interface {
		// Hit records an attempt and reports whether it is still within the limit.
		Hit(ctx context.Context, key string) (bool, error)
		Reset(ctx context.Context, key string) error
	}
)
