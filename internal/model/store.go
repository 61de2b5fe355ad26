package model

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/pkg/config"
)

// ArtifactFetcher loads an artifact by object key.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key string) (*Artifact, error)
}

// ArtifactStore keeps model artifacts in an S3-compatible bucket.
type ArtifactStore struct {
	client *minio.Client
	bucket string
}

func NewArtifactStore(cfg config.S3Config) (*ArtifactStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	return &ArtifactStore{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads and validates the artifact stored under key.
func (s *ArtifactStore) Fetch(ctx context.Context, key string) (*Artifact, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on Stat or Read.
	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, &feature.ModelUnavailableError{Reason: fmt.Sprintf("artifact s3://%s/%s not found", s.bucket, key)}
		}
		return nil, fmt.Errorf("s3 stat object: %w", err)
	}

	return DecodeArtifact(obj)
}
