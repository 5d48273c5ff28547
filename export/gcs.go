package export

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink stores envelopes as objects in a Google Cloud Storage
// bucket, keyed by envelope name.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// GCSSinkConfig configures NewGCSSink.
type GCSSinkConfig struct {
	Bucket          string
	CredentialsFile string // optional; uses Application Default Credentials if empty
}

// NewGCSSink creates a sink backed by cfg.Bucket.
func NewGCSSink(ctx context.Context, cfg GCSSinkConfig) (*GCSSink, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: cfg.Bucket}, nil
}

func (s *GCSSink) Write(ctx context.Context, name string, data []byte) error {
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func (s *GCSSink) Read(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
