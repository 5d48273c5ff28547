package export

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MinIOSinkConfig configures NewMinIOSink. MinIO is S3-compatible, so
// this just configures an S3 client for path-style addressing against
// a self-hosted endpoint.
type MinIOSinkConfig struct {
	Endpoint        string // e.g. "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
}

// NewMinIOSink creates an S3Sink configured for a MinIO (or other
// S3-compatible) endpoint.
func NewMinIOSink(cfg MinIOSinkConfig) *S3Sink {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(endpoint),
		Region:       "us-east-1", // MinIO ignores regions but the SDK requires one
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: true,
	})
	return NewS3Sink(client, cfg.Bucket)
}
