package sink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tstromberg/stocktag/pkg/stocktag"
	"k8s.io/klog/v2"
)

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

// S3 uploads a batch archive to an S3-compatible bucket and returns a readable link.
type S3 struct {
	Client *minio.Client
	Bucket string
	Prefix string
	// PublicURL, when set, is the base of an anonymously readable bucket.
	// Otherwise a presigned link valid for Expiry is returned.
	PublicURL string
	Expiry    time.Duration
	TempDir   string
}

// NewS3Client returns a minio client for cfg.
func NewS3Client(cfg S3Config) (*minio.Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, errors.New("credentials are required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = useSSL || u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return client, nil
}

func (s *S3) Name() string { return "s3" }

// Deliver implements stocktag.Sink.
func (s *S3) Deliver(ctx context.Context, items []stocktag.ProcessedItem) (string, error) {
	dir, err := os.MkdirTemp(s.TempDir, "stocktag-s3-")
	if err != nil {
		return "", transportErr(s.Name(), 0, len(items), err)
	}
	defer os.RemoveAll(dir)

	name := ArchiveName(time.Now())
	zp := filepath.Join(dir, name)
	if err := writeZip(ctx, zp, items); err != nil {
		return "", transportErr(s.Name(), 0, len(items), err)
	}

	key := s.key(name)
	klog.Infof("uploading %s to s3://%s/%s ...", name, s.Bucket, key)
	info, err := s.Client.FPutObject(ctx, s.Bucket, key, zp, minio.PutObjectOptions{ContentType: "application/zip"})
	if err != nil {
		return "", transportErr(s.Name(), 0, len(items), fmt.Errorf("put: %w", err))
	}
	klog.V(1).Infof("uploaded %d bytes, etag %s", info.Size, info.ETag)

	link, err := s.link(ctx, key)
	if err != nil {
		return "", transportErr(s.Name(), len(items), len(items), err)
	}
	return link, nil
}

func (s *S3) key(name string) string {
	return path.Join(strings.Trim(s.Prefix, "/"), name)
}

func (s *S3) link(ctx context.Context, key string) (string, error) {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/") + "/" + key, nil
	}

	expiry := s.Expiry
	if expiry == 0 {
		expiry = 7 * 24 * time.Hour
	}
	u, err := s.Client.PresignedGetObject(ctx, s.Bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return u.String(), nil
}
