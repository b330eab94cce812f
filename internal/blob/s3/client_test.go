package s3blob

import (
	"context"
	"testing"
)

func TestNewRequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), ClientConfig{Region: "us-east-1"}); err == nil {
		t.Error("missing bucket accepted")
	}
	if _, err := New(context.Background(), ClientConfig{Bucket: "archives"}); err == nil {
		t.Error("missing region accepted")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"minio.internal", false, "http://minio.internal"},
	}
	for _, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.useSSL); got != tc.want {
			t.Errorf("normaliseEndpoint(%q, %t) = %q, want %q", tc.in, tc.useSSL, got, tc.want)
		}
	}
}
