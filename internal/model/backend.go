package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/smukkama/leak-server/internal/feature"
	"github.com/smukkama/leak-server/pkg/config"
)

// Backend is the classifier chosen at startup together with the schema that
// requests must be aligned to.
type Backend struct {
	Name       string
	Classifier Classifier
	Schema     *feature.Schema
	Artifact   *Artifact // nil when the schema came from configuration
}

// NewBackend builds the classifier named by cfg.Backend. The local backend needs
// an artifact; remote and stub use one for the schema when present and fall back
// to cfg.Schema otherwise. store may be nil when no S3 key is configured.
func NewBackend(ctx context.Context, cfg config.ModelConfig, store ArtifactFetcher, logger *slog.Logger) (*Backend, error) {
	artifact, err := loadConfiguredArtifact(ctx, cfg, store)
	if err != nil {
		var unavailable *feature.ModelUnavailableError
		if cfg.Backend == config.BackendLocal || !errors.As(err, &unavailable) {
			return nil, err
		}
		logger.Info("no model artifact, using configured schema", slog.String("reason", err.Error()))
		artifact = nil
	}

	var schema *feature.Schema
	switch {
	case artifact != nil:
		if schema, err = artifact.Validate(); err != nil {
			return nil, err
		}
	case len(cfg.Schema) > 0:
		if schema, err = feature.NewSchema(cfg.Schema); err != nil {
			return nil, fmt.Errorf("invalid MODEL_SCHEMA: %w", err)
		}
	case cfg.Backend == config.BackendStub:
		schema = feature.MustSchema(feature.DefaultColumns)
	default:
		return nil, &feature.ModelUnavailableError{Reason: "remote backend needs an artifact or MODEL_SCHEMA"}
	}

	b := &Backend{Name: cfg.Backend, Schema: schema, Artifact: artifact}

	switch cfg.Backend {
	case config.BackendLocal:
		m, err := NewLogisticModel(artifact)
		if err != nil {
			return nil, err
		}
		b.Classifier = m
	case config.BackendRemote:
		b.Classifier = NewRemoteClient(cfg.EndpointURL, cfg.Timeout, logger)
	case config.BackendStub:
		b.Classifier = NewStubClient(logger)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Backend)
	}

	if artifact != nil && artifact.Threshold != nil && *artifact.Threshold != cfg.Threshold {
		logger.Warn("artifact threshold differs from LEAK_THRESHOLD, using LEAK_THRESHOLD",
			slog.Float64("artifact_threshold", *artifact.Threshold),
			slog.Float64("threshold", cfg.Threshold),
		)
	}

	logger.Info("model backend ready",
		slog.String("backend", b.Name),
		slog.String("model_id", b.Classifier.ModelID()),
		slog.Int("features", schema.Len()),
		slog.Any("known_sensors", schema.SensorIDs()),
	)
	return b, nil
}

func loadConfiguredArtifact(ctx context.Context, cfg config.ModelConfig, store ArtifactFetcher) (*Artifact, error) {
	if cfg.ArtifactKey != "" {
		if store == nil {
			return nil, fmt.Errorf("MODEL_ARTIFACT_KEY set but no artifact store configured")
		}
		return store.Fetch(ctx, cfg.ArtifactKey)
	}
	if cfg.ArtifactPath == "" {
		return nil, &feature.ModelUnavailableError{Reason: "no artifact configured"}
	}
	return LoadArtifact(cfg.ArtifactPath)
}
