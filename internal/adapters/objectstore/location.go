package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/amarcin/village-units/internal/domain"
)

var ErrNotFound = errors.New("objectstore: not found")

// Location is a parsed snapshot location: s3://bucket/prefix or a local directory.
type Location struct {
	Scheme string // "s3" or "file"
	Bucket string // s3 bucket, or the local root directory
	Prefix string
}

func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Prefix
	}
	return l.Bucket
}

func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("objectstore: empty location")
	}
	if strings.HasPrefix(raw, "s3://") {
		u, err := url.Parse(raw)
		if err != nil {
			return Location{}, fmt.Errorf("objectstore: bad location %q: %w", raw, err)
		}
		if u.Host == "" {
			return Location{}, fmt.Errorf("objectstore: bad location %q: missing bucket", raw)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
	}
	return Location{Scheme: "file", Bucket: strings.TrimPrefix(raw, "file://")}, nil
}

type S3Config struct {
	Region   string
	Endpoint string // non-empty for S3-compatible stores such as MinIO
	// Credentials overrides the default AWS credential chain, e.g. with
	// identity-pool credentials of a signed-in user.
	Credentials aws.CredentialsProvider
}

// Open returns the store for loc. Keys passed to the store are relative to
// loc.Bucket; use loc.Prefix to scope List calls.
func Open(ctx context.Context, loc Location, cfg S3Config) (domain.ObjectStore, error) {
	if loc.Scheme != "s3" {
		return NewFS(loc.Bucket), nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3(client, loc.Bucket), nil
}

func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Credentials != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(cfg.Credentials))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
