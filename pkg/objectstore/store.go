// Package objectstore defines the object-storage contract used by the contents layer.
//
// A Client exposes flat key/value operations over a single bucket. It knows nothing
// about directories, notebooks or checkpoints; those are conventions layered on top by
// the pathmap, checkpoint and contents packages.
package objectstore

import (
	"context"
	"time"
)

// Client abstracts a bucket in an S3-compatible object store.
//
// Implementations should:
//   - Sign every request with credentials from an aws.CredentialsProvider
//   - Retry transient failures internally and surface every other kind unmodified
//   - Follow continuation tokens in List so callers never see pages
//   - Be safe for concurrent use
type Client interface {
	// Get returns the object body and metadata.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) (*Object, error)

	// Head returns metadata for a single object without its body.
	// Returns ErrNotFound if the object does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Exists reports whether key exists. Only ErrNotFound is folded into false;
	// access denied and other failures are returned.
	Exists(ctx context.Context, key string) (bool, error)

	// Put creates or overwrites an object.
	Put(ctx context.Context, key string, body []byte, contentType string) (*ObjectMeta, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every object and common prefix under opts.Prefix, in key order.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Copy duplicates srcKey to dstKey server-side, without transferring the body.
	// Returns ErrNotFound if srcKey does not exist.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Close releases any resources held by the client.
	Close() error
}

// ListOptions configures a List operation.
type ListOptions struct {
	// Prefix filters results to keys starting with this value.
	// Empty string lists the whole bucket.
	Prefix string

	// Delimiter groups keys below Prefix into CommonPrefixes (typically "/").
	// Empty string returns every descendant key.
	Delimiter string

	// MaxKeys is the page size requested from the store.
	// Zero uses the backend default (1000).
	MaxKeys int

	// Limit stops pagination once this many entries (objects plus common
	// prefixes) have been collected. Zero means no limit.
	Limit int
}

// ListResult contains the concatenated pages of a List operation.
type ListResult struct {
	// Objects are the object summaries, in key order.
	Objects []ObjectSummary

	// CommonPrefixes are the delimiter-terminated child prefixes, in key order.
	CommonPrefixes []string

	// Truncated is true when Limit stopped pagination before the store ran out.
	Truncated bool
}

// Len returns the number of entries (objects plus common prefixes).
func (r *ListResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Objects) + len(r.CommonPrefixes)
}

// ObjectSummary contains basic metadata returned from List operations.
type ObjectSummary struct {
	// Key is the full object key in the bucket.
	Key string

	// Size is the object size in bytes.
	Size int64

	// ETag is the entity tag, unquoted.
	ETag string

	// LastModified is when the object was last modified.
	LastModified time.Time
}

// ObjectMeta contains full metadata for a single object.
// Returned by Head and Put.
type ObjectMeta struct {
	ObjectSummary

	// ContentType is the MIME type stored with the object.
	ContentType string
}

// Object is an object body together with its metadata.
type Object struct {
	ObjectMeta

	// Body is the full object content.
	Body []byte
}

// Backend identifies a Client implementation.
type Backend string

const (
	// BackendREST is the hand-signed S3 REST client.
	BackendREST Backend = "rest"

	// BackendSDK is the aws-sdk-go-v2 S3 client.
	BackendSDK Backend = "sdk"
)

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}
