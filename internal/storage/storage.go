// Package storage stores uploaded patient files in an object bucket.
package storage

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object describes a stored object.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Bucket is an object store addressed by key.
type Bucket interface {
	// Put stores body under key and returns the URL clients fetch it from.
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	Delete(ctx context.Context, key string) error
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex

	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// NewID generates a new ULID.
func NewID(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ObjectKey builds "<owner>/<ulid>_<name>" with both parts made URL safe.
func ObjectKey(owner, name string, now time.Time) string {
	return Sanitize(strings.ToLower(owner)) + "/" + NewID(now) + "_" + Sanitize(name)
}

// Sanitize replaces runs of characters outside [a-zA-Z0-9._-] with "_".
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "file"
	}
	return s
}
