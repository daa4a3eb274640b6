package airdrop

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spokescan/spokescan/pkg/utils"
)

// Source yields one reward payload.
type Source interface {
	Name() string
	Open(ctx context.Context) ([]byte, error)
}

type bytesSource struct {
	name string
	raw  []byte
}

// Bytes wraps an in-memory payload, e.g. a multipart upload.
func Bytes(name string, raw []byte) Source {
	return bytesSource{name: name, raw: raw}
}

func (b bytesSource) Name() string                         { return b.name }
func (b bytesSource) Open(context.Context) ([]byte, error) { return b.raw, nil }

// ObjectGetter is the subset of the S3 client used by S3Source.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads a payload from an S3 (or S3 compatible) bucket.
type S3Source struct {
	Client ObjectGetter
	Bucket string
	Key    string
}

func (s S3Source) Name() string { return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Key) }

func (s S3Source) Open(ctx context.Context) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.Name(), err)
	}
	defer func() { _ = utils.DrainAndClose(out.Body) }()
	return io.ReadAll(out.Body)
}

// NewS3Client builds a client from the default AWS chain. S3_ENDPOINT switches to a custom
// endpoint with path-style addressing; S3_ACCESS_KEY/S3_SECRET_KEY override credentials.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(utils.Env("S3_REGION", "us-east-1")),
	}
	if key := utils.Env("S3_ACCESS_KEY", ""); key != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, utils.Env("S3_SECRET_KEY", ""), "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := utils.Env("S3_ENDPOINT", "")
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
