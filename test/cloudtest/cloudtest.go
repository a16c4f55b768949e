// Package cloudtest runs artifact store tests against a local moto S3
// server. Files using it carry the cloudintegration build tag.
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/3leaps/livyctl/pkg/provider"
	s3provider "github.com/3leaps/livyctl/pkg/provider/s3"
)

// Endpoint and Region are read from MOTO_ENDPOINT and MOTO_REGION. Port
// 5555 keeps clear of macOS AirPlay on 5000.
var (
	Endpoint = envOr("MOTO_ENDPOINT", "http://localhost:5555")
	Region   = envOr("MOTO_REGION", s3provider.DefaultRegion)
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ProviderConfig points the artifact store at bucket on moto, which accepts
// any static key pair.
func ProviderConfig(bucket string) s3provider.Config {
	return s3provider.Config{
		Bucket:          bucket,
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     "testing",
		SecretAccessKey: "testing",
		ForcePathStyle:  true,
	}
}

var available = sync.OnceValue(func() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
})

func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !available() {
		t.Skipf("moto not reachable at %s", Endpoint)
	}
}

// ClientT is a raw S3 client for moto, for assertions the provider API
// does not cover.
func ClientT(t *testing.T) *s3.Client {
	t.Helper()
	p, err := s3provider.New(context.Background(), ProviderConfig("unused"))
	if err != nil {
		t.Fatalf("moto client: %v", err)
	}
	return p.Client()
}

var unsafeBucketChars = regexp.MustCompile(`[^a-z0-9-]+`)

// CreateBucket makes a bucket named after the test and empties and
// removes it when the test ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	name := unsafeBucketChars.ReplaceAllString(strings.ToLower(t.Name()), "-")
	if len(name) > 50 {
		name = name[:50]
	}
	name = fmt.Sprintf("%s-%d", strings.Trim(name, "-"), time.Now().UnixNano()%100000)

	c := ClientT(t)
	if _, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)}); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { removeBucket(t, c, name) })
	return name
}

func removeBucket(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	p, err := s3provider.New(ctx, ProviderConfig(bucket))
	if err != nil {
		t.Logf("cleanup %s: %v", bucket, err)
		return
	}
	token := ""
	for {
		page, err := p.List(ctx, provider.ListOptions{ContinuationToken: token})
		if err != nil {
			t.Logf("cleanup %s: list: %v", bucket, err)
			return
		}
		for _, o := range page.Objects {
			if err := p.DeleteObject(ctx, o.Key); err != nil {
				t.Logf("cleanup %s: %v", bucket, err)
			}
		}
		if !page.IsTruncated {
			break
		}
		token = page.ContinuationToken
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cleanup %s: delete bucket: %v", bucket, err)
	}
}
