// Package cache implements a fingerprinted, immutable HTTP resource that is
// validated with entity tags instead of being re-transferred.
package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Inline demo body: DefaultBodySize copies of DefaultFill.
const (
	DefaultBodySize      = 500 * 1024
	DefaultFill     byte = 'A'
)

// State is the outcome of validating one request.
type State int

const (
	// Fresh means the full body must be sent.
	Fresh State = iota
	// NotModified means the client copy is current.
	NotModified
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case NotModified:
		return "not_modified"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BodySource produces the resource body. It is called at most once.
type BodySource func(ctx context.Context) ([]byte, error)

// InlineBody returns a source of size copies of fill.
func InlineBody(size int, fill byte) BodySource {
	return func(context.Context) ([]byte, error) {
		if size <= 0 {
			return nil, errors.New("cache: body size must be positive")
		}
		return bytes.Repeat([]byte{fill}, size), nil
	}
}

// ObjectReader is the subset of object storage the resource needs.
type ObjectReader interface {
	ReadObject(ctx context.Context, key string, limit int64) ([]byte, error)
}

// ObjectBody returns a source that reads key from store. Objects larger than
// limit bytes are rejected; a non-positive limit disables the check.
func ObjectBody(store ObjectReader, key string, limit int64) BodySource {
	return func(ctx context.Context) ([]byte, error) {
		body, err := store.ReadObject(ctx, key, limit)
		if err != nil {
			return nil, fmt.Errorf("cache: read object %q: %w", key, err)
		}
		if len(body) == 0 {
			return nil, fmt.Errorf("cache: object %q is empty", key)
		}
		return body, nil
	}
}

// Decision is the response to send for one request.
type Decision struct {
	State State
	ETag  string
	Body  []byte
}

// Resource holds one immutable body and its fingerprint. After the body is
// loaded the resource is read-only and safe for concurrent use.
type Resource struct {
	source BodySource

	once sync.Once
	body []byte
	etag string
	err  error
}

// NewResource returns a resource backed by source.
func NewResource(source BodySource) *Resource {
	return &Resource{source: source}
}

// Prime loads the body and computes the fingerprint. Only the first call
// runs the source; later calls return its result.
func (r *Resource) Prime(ctx context.Context) error {
	r.once.Do(func() {
		body, err := r.source(ctx)
		if err != nil {
			r.err = err
			return
		}
		r.body = body
		r.etag = Fingerprint(body)
	})
	return r.err
}

// ETag returns the quoted entity tag, priming the resource if needed.
func (r *Resource) ETag(ctx context.Context) (string, error) {
	if err := r.Prime(ctx); err != nil {
		return "", err
	}
	return r.etag, nil
}

// Evaluate decides between Fresh and NotModified for the client-supplied
// If-None-Match value. An empty value is a first contact.
func (r *Resource) Evaluate(ctx context.Context, ifNoneMatch string) (Decision, error) {
	if err := r.Prime(ctx); err != nil {
		return Decision{}, err
	}
	if Matches(ifNoneMatch, r.etag) {
		return Decision{State: NotModified, ETag: r.etag}, nil
	}
	return Decision{State: Fresh, ETag: r.etag, Body: r.body}, nil
}

// Fingerprint returns the quoted hex MD5 digest of body.
func Fingerprint(body []byte) string {
	sum := md5.Sum(body)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

// Matches reports whether an If-None-Match header value matches etag, using
// weak comparison over a comma-separated list.
func Matches(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.TrimSpace(ifNoneMatch)
	if ifNoneMatch == "" || etag == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == want {
			return true
		}
	}
	return false
}
