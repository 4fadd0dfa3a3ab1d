package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bfast/bfast-go/pkg/apperr"
	"github.com/bfast/bfast-go/pkg/config"
)

type mockS3Client struct {
	putObjectFn     func(context.Context, *awss3.PutObjectInput) (*awss3.PutObjectOutput, error)
	deleteObjectFn  func(context.Context, *awss3.DeleteObjectInput) (*awss3.DeleteObjectOutput, error)
	listObjectsV2Fn func(context.Context, *awss3.ListObjectsV2Input) (*awss3.ListObjectsV2Output, error)
}

func (m *mockS3Client) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if m.putObjectFn != nil {
		return m.putObjectFn(ctx, in)
	}
	return &awss3.PutObjectOutput{}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	if m.deleteObjectFn != nil {
		return m.deleteObjectFn(ctx, in)
	}
	return &awss3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	if m.listObjectsV2Fn != nil {
		return m.listObjectsV2Fn(ctx, in)
	}
	return &awss3.ListObjectsV2Output{}, nil
}

type mockPresign struct {
	expires time.Duration
}

func (m *mockPresign) PresignGetObject(_ context.Context, in *awss3.GetObjectInput, optFns ...func(*awss3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	opts := awss3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	m.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)}, nil
}

func testS3Config() config.S3Config {
	return config.S3Config{Bucket: "files", Region: "eu-west-1", OperationTimeout: time.Second, PresignExpiry: 5 * time.Minute}
}

func TestS3_Save(t *testing.T) {
	var gotKey, gotType, gotBody string
	client := &mockS3Client{putObjectFn: func(_ context.Context, in *awss3.PutObjectInput) (*awss3.PutObjectOutput, error) {
		gotKey = aws.ToString(in.Key)
		gotType = aws.ToString(in.ContentType)
		b, _ := io.ReadAll(in.Body)
		gotBody = string(b)
		return &awss3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
	}}
	presign := &mockPresign{}
	s := newS3(client, presign, testS3Config(), nil)

	ref, err := s.Save(context.Background(), "avatar.png", strings.NewReader("png"), "image/png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if gotKey != "avatar.png" || gotType != "image/png" || gotBody != "png" {
		t.Fatalf("unexpected put %q %q %q", gotKey, gotType, gotBody)
	}
	if ref.Name != "avatar.png" || ref.URL != "https://signed.example/files/avatar.png" {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if presign.expires != 5*time.Minute {
		t.Fatalf("presign expiry = %v", presign.expires)
	}
}

func TestS3_Validation(t *testing.T) {
	s := newS3(&mockS3Client{}, &mockPresign{}, testS3Config(), nil)
	if _, err := s.Save(context.Background(), " ", strings.NewReader("x"), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty name: %v", err)
	}
	if _, err := s.Save(context.Background(), "a", nil, ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("nil body: %v", err)
	}
	if err := s.Delete(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("empty delete: %v", err)
	}
}

func TestS3_DeleteFailureIsNetworkError(t *testing.T) {
	client := &mockS3Client{deleteObjectFn: func(context.Context, *awss3.DeleteObjectInput) (*awss3.DeleteObjectOutput, error) {
		return nil, errors.New("access denied")
	}}
	s := newS3(client, &mockPresign{}, testS3Config(), nil)
	if err := s.Delete(context.Background(), "a.txt"); !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestS3_ListFollowsPagination(t *testing.T) {
	pages := []*awss3.ListObjectsV2Output{
		{
			Contents:              []awss3types.Object{{Key: aws.String("img/a.png")}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("next"),
		},
		{
			Contents: []awss3types.Object{{Key: aws.String("img/b.png")}},
		},
	}
	var tokens []string
	client := &mockS3Client{listObjectsV2Fn: func(_ context.Context, in *awss3.ListObjectsV2Input) (*awss3.ListObjectsV2Output, error) {
		tokens = append(tokens, aws.ToString(in.ContinuationToken))
		if aws.ToString(in.Prefix) != "img/" {
			t.Errorf("prefix = %q", aws.ToString(in.Prefix))
		}
		page := pages[0]
		pages = pages[1:]
		return page, nil
	}}
	s := newS3(client, &mockPresign{}, testS3Config(), nil)

	refs, err := s.List(context.Background(), "img/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 2 || refs[0].Name != "img/a.png" || refs[1].Name != "img/b.png" {
		t.Fatalf("unexpected refs %+v", refs)
	}
	if len(tokens) != 2 || tokens[0] != "" || tokens[1] != "next" {
		t.Fatalf("continuation tokens = %v", tokens)
	}
}

func TestS3_TimeoutIsNetworkError(t *testing.T) {
	client := &mockS3Client{putObjectFn: func(ctx context.Context, _ *awss3.PutObjectInput) (*awss3.PutObjectOutput, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testS3Config()
	cfg.OperationTimeout = 20 * time.Millisecond
	s := newS3(client, &mockPresign{}, cfg, nil)

	_, err := s.Save(context.Background(), "slow.bin", strings.NewReader("x"), "")
	if !errors.Is(err, apperr.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestNewS3_RequiresBucketAndRegion(t *testing.T) {
	if _, err := NewS3(context.Background(), config.S3Config{Region: "x"}, nil); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("missing bucket: %v", err)
	}
	if _, err := NewS3(context.Background(), config.S3Config{Bucket: "x"}, nil); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("missing region: %v", err)
	}
}
