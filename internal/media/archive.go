package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kravchenkoegor/aura/internal/config"
)

// Archive persists downloaded media bytes under a storage key and opens
// them back by key. Keys are either local paths under the media dir or
// s3://bucket/key references; Open additionally understands http(s) URLs
// (media never archived) and data: URLs (direct uploads).
type Archive struct {
	httpClient *http.Client
	maxBytes   int64
	local      *localBackend
	s3         *s3Backend
}

// NewArchive builds an archive from config, choosing S3 when a bucket is
// configured and the local directory otherwise.
func NewArchive(ctx context.Context, cfg config.Config) (*Archive, error) {
	timeout := cfg.MediaFetchTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MediaMaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}

	a := &Archive{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   maxBytes,
		local:      &localBackend{baseDir: cfg.MediaDir},
	}
	if cfg.MediaS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.s3 = &s3Backend{client: client, bucket: cfg.MediaS3Bucket}
	}
	return a, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.MediaS3Region),
	}
	if cfg.MediaS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.MediaS3Endpoint,
					HostnameImmutable: cfg.MediaS3PathStyle,
					SigningRegion:     cfg.MediaS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.MediaS3PathStyle
	}), nil
}

// Download fetches a media URL, bounded by the configured size limit.
func (a *Archive) Download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, a.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if int64(len(body)) > a.maxBytes {
		return nil, "", fmt.Errorf("media too large (>%d bytes)", a.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Save archives bytes under key and returns the storage key to persist.
func (a *Archive) Save(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	if a.s3 != nil {
		return a.s3.save(ctx, key, body, contentType)
	}
	return a.local.save(key, body)
}

// Open resolves a storage key back to bytes.
func (a *Archive) Open(ctx context.Context, storageKey string) ([]byte, error) {
	switch {
	case strings.HasPrefix(storageKey, "data:"):
		return decodeDataURL(storageKey)
	case strings.HasPrefix(storageKey, "http://"), strings.HasPrefix(storageKey, "https://"):
		body, _, err := a.Download(ctx, storageKey)
		return body, err
	case strings.HasPrefix(storageKey, "s3://"):
		if a.s3 == nil {
			return nil, errors.New("s3 storage key but no bucket configured")
		}
		return a.s3.open(ctx, storageKey)
	default:
		return os.ReadFile(storageKey)
	}
}

func decodeDataURL(key string) ([]byte, error) {
	// data:image/jpeg;base64,<payload>
	_, encoded, found := strings.Cut(key, ",")
	if !found {
		return nil, errors.New("malformed data url")
	}
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return body, nil
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localBackend struct {
	baseDir string
}

func (l *localBackend) save(key string, body []byte) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Backend struct {
	client *s3.Client
	bucket string
}

func (b *s3Backend) save(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", b.bucket, key), nil
}

func (b *s3Backend) open(ctx context.Context, storageKey string) ([]byte, error) {
	trimmed := strings.TrimPrefix(storageKey, "s3://")
	bucket, key, found := strings.Cut(trimmed, "/")
	if !found {
		return nil, fmt.Errorf("malformed s3 key %q", storageKey)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
