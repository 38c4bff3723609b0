package s3rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/3leaps/s3contents/pkg/objectstore"
)

// Get returns the object body and metadata.
func (c *Client) Get(ctx context.Context, key string) (*objectstore.Object, error) {
	resp, err := c.do(ctx, request{op: "Get", method: http.MethodGet, key: key})
	if err != nil {
		return nil, err
	}
	meta := metaFromHeader(key, resp.header)
	meta.Size = int64(len(resp.body))
	return &objectstore.Object{ObjectMeta: meta, Body: resp.body}, nil
}

// Head returns metadata for a single object.
func (c *Client) Head(ctx context.Context, key string) (*objectstore.ObjectMeta, error) {
	resp, err := c.do(ctx, request{op: "Head", method: http.MethodHead, key: key})
	if err != nil {
		return nil, err
	}
	meta := metaFromHeader(key, resp.header)
	return &meta, nil
}

// Exists reports whether key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Head(ctx, key)
	if err == nil {
		return true, nil
	}
	if objectstore.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Put creates or overwrites an object.
func (c *Client) Put(ctx context.Context, key string, body []byte, contentType string) (*objectstore.ObjectMeta, error) {
	if body == nil {
		body = []byte{}
	}
	resp, err := c.do(ctx, request{
		op:          "Put",
		method:      http.MethodPut,
		key:         key,
		body:        body,
		contentType: contentType,
	})
	if err != nil {
		return nil, err
	}
	meta := metaFromHeader(key, resp.header)
	meta.Size = int64(len(body))
	meta.ContentType = contentType
	if meta.LastModified.IsZero() {
		meta.LastModified = c.now().UTC()
	}
	return &meta, nil
}

// Delete removes an object. A missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.do(ctx, request{op: "Delete", method: http.MethodDelete, key: key})
	if err != nil && !objectstore.IsNotFound(err) {
		return err
	}
	return nil
}

// Copy duplicates srcKey to dstKey with a server-side copy.
//
// S3 can report a failed copy with a 200 status and an <Error> document; that
// case is surfaced as an error too.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	req := request{
		op:         "Copy",
		method:     http.MethodPut,
		key:        dstKey,
		copySource: c.copySourceHeader(srcKey),
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.do(ctx, req)
		if err != nil {
			if objectstore.IsNotFound(err) {
				return c.storeErr(request{op: "Copy", key: srcKey}, http.StatusNotFound, "NoSuchKey", "", objectstore.ErrNotFound)
			}
			return err
		}

		code, message := parseErrorDocument(resp.body)
		if code == "" {
			return nil
		}
		sentinel := objectstore.CodeError(code, objectstore.ErrProtocol)
		copyErr := c.storeErr(req, resp.status, code, string(resp.body), fmt.Errorf("%w: %s", sentinel, message))
		if sentinel != objectstore.ErrTransient || attempt >= c.cfg.MaxAttempts {
			return copyErr
		}
		delay, derr := c.backoff.BackoffDelay(attempt, copyErr)
		if derr != nil {
			return copyErr
		}
		if c.observer != nil {
			c.observer.ObserveRetry(req.op, objectstore.KindTransient)
		}
		select {
		case <-ctx.Done():
			return c.storeErr(req, 0, "", "", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// List returns every object and common prefix under opts.Prefix, following
// continuation tokens until the listing is exhausted or opts.Limit is reached.
func (c *Client) List(ctx context.Context, opts objectstore.ListOptions) (*objectstore.ListResult, error) {
	pageSize := clampMaxKeys(opts.MaxKeys, c.cfg.MaxKeys)
	result := &objectstore.ListResult{}
	token := ""

	for {
		maxKeys := pageSize
		if opts.Limit > 0 {
			if remaining := opts.Limit - result.Len(); remaining < maxKeys {
				maxKeys = remaining
			}
		}

		query := url.Values{}
		query.Set("list-type", "2")
		query.Set("prefix", opts.Prefix)
		query.Set("max-keys", strconv.Itoa(maxKeys))
		if opts.Delimiter != "" {
			query.Set("delimiter", opts.Delimiter)
		}
		if token != "" {
			query.Set("continuation-token", token)
		}

		resp, err := c.do(ctx, request{op: "List", method: http.MethodGet, prefix: opts.Prefix, query: query})
		if err != nil {
			return nil, err
		}
		page, err := parseListResult(resp.body)
		if err != nil {
			return nil, c.storeErr(request{op: "List", prefix: opts.Prefix}, resp.status, "", string(resp.body),
				fmt.Errorf("%w: decode list response: %w", objectstore.ErrProtocol, err))
		}

		for _, obj := range page.Contents {
			result.Objects = append(result.Objects, objectstore.ObjectSummary{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         cleanETag(obj.ETag),
				LastModified: obj.LastModified.UTC(),
			})
		}
		for _, p := range page.CommonPrefixes {
			result.CommonPrefixes = append(result.CommonPrefixes, p.Prefix)
		}

		if !page.IsTruncated {
			return result, nil
		}
		if page.NextContinuationToken == "" {
			return nil, c.storeErr(request{op: "List", prefix: opts.Prefix}, resp.status, "", "",
				fmt.Errorf("%w: truncated listing without continuation token", objectstore.ErrProtocol))
		}
		if opts.Limit > 0 && result.Len() >= opts.Limit {
			result.Truncated = true
			return result, nil
		}
		token = page.NextContinuationToken
	}
}

// metaFromHeader extracts object metadata from response headers.
func metaFromHeader(key string, h http.Header) objectstore.ObjectMeta {
	meta := objectstore.ObjectMeta{
		ObjectSummary: objectstore.ObjectSummary{
			Key:  key,
			ETag: cleanETag(h.Get("ETag")),
		},
		ContentType: h.Get("Content-Type"),
	}
	if v := h.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			meta.Size = n
		}
	}
	if v := h.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			meta.LastModified = t.UTC()
		}
	}
	return meta
}

// cleanETag removes surrounding quotes from an ETag value.
func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

// clampMaxKeys applies defaults and limits to maxKeys values.
func clampMaxKeys(requested, clientDefault int) int {
	if requested <= 0 {
		requested = clientDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}
