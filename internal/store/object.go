package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// objectBackend abstracts the backing medium for parquet datasets:
// the local filesystem or an S3 bucket. A missing object surfaces as
// os.ErrNotExist so callers can treat it as an empty dataset; every
// other failure means the storage is unavailable and propagates.
type objectBackend interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Size(ctx context.Context, path string) (int64, error)
	// List returns paths under dir (non-recursive) ending in .parquet,
	// sorted ascending.
	List(ctx context.Context, dir string) ([]string, error)
}

// IsS3Path reports whether path names an S3 object.
func IsS3Path(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// parseS3Path splits "s3://bucket/key" into bucket and key.
func parseS3Path(path string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(path, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path: %q", path)
	}
	return bucket, key, nil
}

// newBackend picks the backend matching the path scheme.
func newBackend(ctx context.Context, path string) (objectBackend, error) {
	if IsS3Path(path) {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return &s3Backend{client: s3.NewFromConfig(cfg)}, nil
	}
	return localBackend{}, nil
}

// localBackend stores datasets as plain files.
type localBackend struct{}

func (localBackend) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Write rewrites the file atomically via a temp file and rename.
func (localBackend) Write(_ context.Context, path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func (localBackend) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, os.ErrNotExist
		}
		return 0, err
	}
	return info.Size(), nil
}

func (localBackend) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".parquet") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// s3Backend stores datasets as S3 objects.
type s3Backend struct {
	client *s3.Client
}

func (b *s3Backend) Read(ctx context.Context, path string) ([]byte, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("getting %s: %w", path, err)
	}
	defer out.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (b *s3Backend) Write(ctx context.Context, path string, data []byte) error {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", path, err)
	}
	return nil
}

func (b *s3Backend) Size(ctx context.Context, path string) (int64, error) {
	bucket, key, err := parseS3Path(path)
	if err != nil {
		return 0, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, os.ErrNotExist
		}
		return 0, fmt.Errorf("heading %s: %w", path, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (b *s3Backend) List(ctx context.Context, dir string) ([]string, error) {
	bucket, prefix, err := parseS3Path(strings.TrimSuffix(dir, "/") + "/")
	if err != nil {
		return nil, err
	}
	var paths []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, ".parquet") {
				paths = append(paths, "s3://"+bucket+"/"+key)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
