package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/amarcin/village-units/internal/adapters/observability"
	"github.com/amarcin/village-units/internal/domain"
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	api    S3API
	bucket string
}

func NewS3(api S3API, bucket string) *S3 { return &S3{api: api, bucket: bucket} }

func (s *S3) List(ctx context.Context, prefix string) ([]domain.Object, error) {
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(strings.TrimPrefix(prefix, "/")),
	})
	var out []domain.Object
	for p.HasMorePages() {
		start := time.Now()
		page, err := p.NextPage(ctx)
		if err != nil {
			observability.ObserveExternal("s3", "list", 0, time.Since(start))
			return nil, fmt.Errorf("objectstore: list s3://%s/%s: %w", s.bucket, prefix, err)
		}
		observability.ObserveExternal("s3", "list", 200, time.Since(start))
		for _, o := range page.Contents {
			out = append(out, domain.Object{
				Key:     aws.ToString(o.Key),
				Size:    aws.ToInt64(o.Size),
				ModTime: aws.ToTime(o.LastModified),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		observability.ObserveExternal("s3", "get", 0, time.Since(start))
		var nk *types.NoSuchKey
		if errors.As(err, &nk) {
			return nil, fmt.Errorf("objectstore: s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("objectstore: get s3://%s/%s: %w", s.bucket, key, err)
	}
	observability.ObserveExternal("s3", "get", 200, time.Since(start))
	return out.Body, nil
}

func (s *S3) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String("application/vnd.apache.parquet"),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	start := time.Now()
	if _, err := s.api.PutObject(ctx, in); err != nil {
		observability.ObserveExternal("s3", "put", 0, time.Since(start))
		return fmt.Errorf("objectstore: put s3://%s/%s: %w", s.bucket, key, err)
	}
	observability.ObserveExternal("s3", "put", 200, time.Since(start))
	return nil
}
