package storage

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/observability/logger"
	"github.com/bfast/bfast-go/pkg/observability/tracing"
	"github.com/bfast/bfast-go/pkg/resilience"
)

type s3API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 stores files in a bucket and serves them through presigned URLs.
type S3 struct {
	client  s3API
	presign presignAPI
	log     logger.Logger
	config  config.S3Config
}

// NewS3 builds an S3 backend from cfg. Static keys take precedence over the
// default AWS credential chain.
func NewS3(ctx context.Context, cfg config.S3Config, log logger.Logger) (*S3, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, apperr.Config("s3 bucket is required")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, apperr.Config("s3 region is required")
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 10 * time.Second
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, apperr.Config("load aws config: %v", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	log = logger.OrNop(log)
	log.Debug("s3 storage initialized", "bucket", cfg.Bucket, "region", cfg.Region, "endpoint", cfg.Endpoint)
	return newS3(client, awss3.NewPresignClient(client), cfg, log), nil
}

func newS3(client s3API, presign presignAPI, cfg config.S3Config, log logger.Logger) *S3 {
	return &S3{client: client, presign: presign, config: cfg, log: logger.OrNop(log)}
}

// Save uploads body under name and returns a presigned download URL.
func (s *S3) Save(ctx context.Context, name string, body io.Reader, contentType string) (ref FileRef, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "save", name)
	defer func() { tracing.End(span, err) }()

	name, err = cleanName(name)
	if err != nil {
		return ref, err
	}
	if body == nil {
		return ref, apperr.Validation("file body is required")
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(name),
		Body:   body,
	}
	if strings.TrimSpace(contentType) != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err = resilience.WithTimeout(ctx, s.config.OperationTimeout, func(ctx context.Context) (*awss3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, input)
	})
	if err != nil {
		return ref, apperr.Network(err, "upload "+name)
	}
	u, err := s.URL(ctx, name)
	if err != nil {
		return ref, err
	}
	return FileRef{Name: name, URL: u}, nil
}

// URL presigns a download of name, valid for the configured expiry.
func (s *S3) URL(ctx context.Context, name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	resp, err := s.presign.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(name),
	}, func(opts *awss3.PresignOptions) {
		opts.Expires = s.config.PresignExpiry
	})
	if err != nil {
		return "", apperr.Network(err, "presign "+name)
	}
	return resp.URL, nil
}

// Delete removes name from the bucket.
func (s *S3) Delete(ctx context.Context, name string) (err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "delete", name)
	defer func() { tracing.End(span, err) }()

	name, err = cleanName(name)
	if err != nil {
		return err
	}
	_, err = resilience.WithTimeout(ctx, s.config.OperationTimeout, func(ctx context.Context) (*awss3.DeleteObjectOutput, error) {
		return s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(s.config.Bucket),
			Key:    aws.String(name),
		})
	})
	if err != nil {
		return apperr.Network(err, "delete "+name)
	}
	return nil
}

// List returns every object whose key starts with prefix, following pagination.
func (s *S3) List(ctx context.Context, prefix string) (refs []FileRef, err error) {
	ctx, span := tracing.StartCallSpan(ctx, tracing.ComponentStorage, "list", prefix)
	defer func() { tracing.End(span, err) }()

	var token *string
	for {
		input := &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.config.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		}
		page, err := resilience.WithTimeout(ctx, s.config.OperationTimeout, func(ctx context.Context) (*awss3.ListObjectsV2Output, error) {
			return s.client.ListObjectsV2(ctx, input)
		})
		if err != nil {
			return nil, apperr.Network(err, "list "+prefix)
		}
		for _, item := range page.Contents {
			name := aws.ToString(item.Key)
			u, err := s.URL(ctx, name)
			if err != nil {
				return nil, err
			}
			refs = append(refs, FileRef{Name: name, URL: u})
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			break
		}
		token = page.NextContinuationToken
	}
	return refs, nil
}
