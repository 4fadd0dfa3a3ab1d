package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bfast/bfast-go/pkg/config"
	"github.com/bfast/bfast-go/pkg/testutil"
)

// TestS3_Integration runs against any S3 compatible endpoint, e.g. a local MinIO:
// BFAST_TEST_S3_ENDPOINT=http://localhost:9000 BFAST_TEST_S3_BUCKET=test ...
func TestS3_Integration(t *testing.T) {
	testutil.RequireIntegration(t)
	endpoint := testutil.RequireEnv(t, "BFAST_TEST_S3_ENDPOINT")
	bucket := testutil.RequireEnv(t, "BFAST_TEST_S3_BUCKET")

	region := os.Getenv("BFAST_TEST_S3_REGION")
	if region == "" {
		region = "us-east-1"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := NewS3(ctx, config.S3Config{
		Bucket:          bucket,
		Region:          region,
		Endpoint:        endpoint,
		AccessKeyID:     os.Getenv("BFAST_TEST_S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("BFAST_TEST_S3_SECRET_ACCESS_KEY"),
		UsePathStyle:    true,
	}, nil)
	if err != nil {
		t.Fatalf("new s3: %v", err)
	}

	prefix := fmt.Sprintf("it-%d/", time.Now().UnixNano())
	name := prefix + "hello.txt"
	ref, err := s.Save(ctx, name, strings.NewReader("hello"), "text/plain")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Cleanup(func() { _ = s.Delete(context.Background(), name) })
	if ref.Name != name || !strings.Contains(ref.URL, "hello.txt") {
		t.Fatalf("unexpected ref %+v", ref)
	}

	refs, err := s.List(ctx, prefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(refs) != 1 || refs[0].Name != name {
		t.Fatalf("expected one listed file, got %+v", refs)
	}
}
