// Package cloudtest provides helpers for integration tests against a real
// S3-compatible endpoint (moto, MinIO) instead of the in-process fake.
//
// Tests using this package should be tagged with //go:build cloudintegration.
//
// Usage:
//
//	func TestContentsOnMoto(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    client := cloudtest.RESTClient(t, bucket)
//	    // ... test code ...
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/s3contents/pkg/objectstore"
	"github.com/3leaps/s3contents/pkg/objectstore/s3rest"
	"github.com/3leaps/s3contents/pkg/objectstore/s3sdk"
)

const (
	// DefaultEndpoint is the default moto server endpoint.
	// Port 5555 avoids conflict with macOS AirTunes on 5000.
	DefaultEndpoint = "http://localhost:5555"

	// DefaultRegion is the default AWS region for tests.
	DefaultRegion = "us-east-1"

	// TestAccessKeyID is the access key used for the endpoint (moto accepts any).
	TestAccessKeyID = "testing"

	// TestSecretAccessKey is the secret key used for the endpoint.
	TestSecretAccessKey = "testing"
)

var (
	// Endpoint is the S3 endpoint, configurable via S3CONTENTS_TEST_ENDPOINT.
	Endpoint = getEnvOrDefault("S3CONTENTS_TEST_ENDPOINT", DefaultEndpoint)

	// Region is the signing region, configurable via S3CONTENTS_TEST_REGION.
	Region = getEnvOrDefault("S3CONTENTS_TEST_REGION", DefaultRegion)

	// AccessKeyID and SecretAccessKey default to the moto test pair.
	AccessKeyID     = getEnvOrDefault("S3CONTENTS_TEST_ACCESS_KEY_ID", TestAccessKeyID)
	SecretAccessKey = getEnvOrDefault("S3CONTENTS_TEST_SECRET_ACCESS_KEY", TestSecretAccessKey)

	// admin is the SDK client used for bucket setup and teardown.
	admin     *s3.Client
	adminOnce sync.Once
	adminErr  error
)

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Available reports whether the endpoint answers HTTP at all. Any status
// counts; an unauthenticated request to S3 is expected to be rejected.
func Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// SkipIfUnavailable skips the test if the endpoint is not reachable.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("S3 endpoint not available at %s (start moto on port 5555 or set S3CONTENTS_TEST_ENDPOINT)", Endpoint)
	}
}

func credentialsProvider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(AccessKeyID, SecretAccessKey, "")
}

// Admin returns a shared SDK client for bucket setup.
func Admin() (*s3.Client, error) {
	adminOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentialsProvider()),
		)
		if err != nil {
			adminErr = fmt.Errorf("load config: %w", err)
			return
		}
		admin = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	return admin, adminErr
}

// AdminT returns the admin client, failing the test on error.
func AdminT(t *testing.T) *s3.Client {
	t.Helper()
	c, err := Admin()
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	return c
}

// RESTClient returns a signed REST client for bucket.
func RESTClient(t *testing.T, bucket string) objectstore.Client {
	t.Helper()
	c, err := s3rest.New(s3rest.Config{
		Bucket:         bucket,
		Region:         Region,
		Endpoint:       Endpoint,
		ForcePathStyle: true,
	}, s3rest.WithCredentials(credentialsProvider()))
	if err != nil {
		t.Fatalf("failed to create REST client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// SDKClient returns an SDK-backed client for bucket.
func SDKClient(t *testing.T, ctx context.Context, bucket string) objectstore.Client {
	t.Helper()
	c, err := s3sdk.New(ctx, s3sdk.Config{
		Bucket:         bucket,
		Region:         Region,
		Endpoint:       Endpoint,
		ForcePathStyle: true,
	}, s3sdk.WithCredentials(credentialsProvider()))
	if err != nil {
		t.Fatalf("failed to create SDK client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// CreateBucket creates a bucket named after the test and registers cleanup.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()

	c := AdminT(t)

	name := strings.ToLower(t.Name())
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "_", "-")
	// S3 bucket names are at most 63 characters.
	if len(name) > 50 {
		name = name[:50]
	}
	name = fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)

	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("failed to create bucket %s: %v", name, err)
	}
	t.Cleanup(func() {
		DeleteBucket(t, context.Background(), name)
	})
	return name
}

// DeleteBucket deletes a bucket and all its objects.
func DeleteBucket(t *testing.T, ctx context.Context, bucket string) {
	t.Helper()

	c := AdminT(t)
	for _, key := range Keys(t, ctx, bucket, "") {
		if _, err := c.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
			t.Logf("warning: failed to delete object %s: %v", key, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("warning: failed to delete bucket %s: %v", bucket, err)
	}
}

// Keys lists every key under prefix.
func Keys(t *testing.T, ctx context.Context, bucket, prefix string) []string {
	t.Helper()

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(AdminT(t), &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			t.Logf("warning: failed to list objects in bucket %s: %v", bucket, err)
			return keys
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys
}

// PutObject uploads an object through the admin client.
func PutObject(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()

	_, err := AdminT(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	if err != nil {
		t.Fatalf("failed to put object %s/%s: %v", bucket, key, err)
	}
}

// PutObjects uploads objects with placeholder content.
func PutObjects(t *testing.T, ctx context.Context, bucket string, keys []string) {
	t.Helper()
	for _, key := range keys {
		PutObject(t, ctx, bucket, key, []byte("test content for "+key))
	}
}
