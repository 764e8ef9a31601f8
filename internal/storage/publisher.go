package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const (
	wavContentType = "audio/wav"
	cacheArchive   = "public, max-age=86400"
	urlScheme      = "s3://"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Publisher copies generated audio to S3 so it outlives the local artifact.
type Publisher struct {
	client s3API
	bucket string
	prefix string
}

func New(ctx context.Context, bucket, prefix, region string) (*Publisher, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if region == "" {
		region = "us-west-2"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}, nil
}

func NewWithClient(bucket, prefix string, client s3API) *Publisher {
	return &Publisher{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}
}

func (p *Publisher) Bucket() string { return p.bucket }
func (p *Publisher) Prefix() string { return p.prefix }

func (p *Publisher) KeyForDate(t time.Time, filename string) string {
	y, m, d := t.UTC().Date()
	return joinKey(p.prefix, fmt.Sprintf("%04d", y), fmt.Sprintf("%02d", int(m)), fmt.Sprintf("%02d", d), filename)
}

// PublishAudio uploads a WAV file under the day it was created and returns its object URL.
func (p *Publisher) PublishAudio(ctx context.Context, localPath string, createdAt time.Time) (string, error) {
	key := p.KeyForDate(createdAt, filepath.Base(localPath))
	if err := p.UploadFile(ctx, key, localPath, wavContentType, cacheArchive); err != nil {
		return "", fmt.Errorf("publish %s: %w", localPath, err)
	}
	slog.Info("audio published", "bucket", p.bucket, "key", key)
	return p.ObjectURL(key), nil
}

// UploadFile uploads a local file to the given key.
func (p *Publisher) UploadFile(ctx context.Context, key, localPath, contentType, cacheControl string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if cacheControl != "" {
		input.CacheControl = aws.String(cacheControl)
	}
	_, err = p.client.PutObject(ctx, input)
	return err
}

// Delete removes an object. A missing object is not an error.
func (p *Publisher) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// DeleteURL removes the object behind an URL produced by ObjectURL. URLs that
// point elsewhere are left alone and reported as false.
func (p *Publisher) DeleteURL(ctx context.Context, objectURL string) (bool, error) {
	key, ok := p.KeyFromURL(objectURL)
	if !ok {
		return false, nil
	}
	if err := p.Delete(ctx, key); err != nil {
		return false, err
	}
	return true, nil
}

// ObjectURL is "s3://<bucket>/<key>".
func (p *Publisher) ObjectURL(key string) string {
	return urlScheme + p.bucket + "/" + key
}

// KeyFromURL extracts the key from an URL of this publisher's bucket.
func (p *Publisher) KeyFromURL(objectURL string) (string, bool) {
	key, ok := strings.CutPrefix(objectURL, urlScheme+p.bucket+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

func normalizePrefix(prefix string) string {
	return strings.Trim(prefix, "/")
}

func joinKey(prefix string, parts ...string) string {
	all := []string{}
	if prefix != "" {
		all = append(all, prefix)
	}
	all = append(all, parts...)
	key := path.Join(all...)
	return strings.TrimPrefix(key, "/")
}

// IsNotFound returns true when the error indicates the object does not exist.
func IsNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
