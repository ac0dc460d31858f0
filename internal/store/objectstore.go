// Package store implements the External Interfaces of spec §6's concrete
// bindings: the object store, relational transcript store, and
// operator/model/tool registry, each grounded on a different part of the
// example pack per DESIGN.md.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore wraps an S3-compatible client, narrowed from the teacher's
// pkg/integrations/s3.Client down to the Fetch/Upload operations the
// prompt assembler and attachment-bound tools actually need — the teacher's
// folder/listing surface belonged to the CMS media browser this repository
// does not carry.
type ObjectStore struct {
	client    *s3.Client
	bucket    string
	urlPrefix string
}

// NewObjectStore builds an ObjectStore over an already-configured s3.Client.
func NewObjectStore(client *s3.Client, bucket, urlPrefix string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, urlPrefix: urlPrefix}
}

// NewS3ClientFromEnv configures an S3-compatible client (R2, MinIO, or AWS
// S3 proper) from S3_ENDPOINT/S3_ACCESS_KEY_ID/S3_ACCESS_KEY_SECRET,
// matching the teacher's NewR2Client.
func NewS3ClientFromEnv(ctx context.Context) (*s3.Client, error) {
	endpoint := os.Getenv("S3_ENDPOINT")
	accessKey := os.Getenv("S3_ACCESS_KEY_ID")
	secretKey := os.Getenv("S3_ACCESS_KEY_SECRET")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("store: load s3 config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Fetch downloads the object named by key (or a full urlPrefix-qualified
// URI, stripped back to a key) and returns its raw bytes, implementing
// prompt.ObjectStore.
func (s *ObjectStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	key := s.keyFromURI(uri)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("store: get object %q: %w", key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("store: read object %q: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Upload stores data under key and returns its externally-addressable URI.
// No tool or handler in this repository calls it.
func (s *ObjectStore) Upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("store: put object %q: %w", key, err)
	}
	return s.urlPrefix + "/" + key, nil
}

// keyFromURI strips a urlPrefix-qualified URI back down to its bucket key,
// so callers can pass either a bare key or the URI a prior Upload returned.
func (s *ObjectStore) keyFromURI(uri string) string {
	if s.urlPrefix != "" && strings.HasPrefix(uri, s.urlPrefix+"/") {
		return strings.TrimPrefix(uri, s.urlPrefix+"/")
	}
	return strings.TrimPrefix(uri, "/")
}
