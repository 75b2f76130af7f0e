package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jo-hoe/gallerystore/internal/backend/collection"
	"github.com/jo-hoe/gallerystore/internal/backend/commands"
	"github.com/jo-hoe/gallerystore/internal/backend/database"
	"github.com/jo-hoe/gallerystore/internal/backend/gate"
	"github.com/jo-hoe/gallerystore/internal/backend/metrics"
	"github.com/jo-hoe/gallerystore/internal/backend/objectstore"
)

// CoreService wires the store, object storage, gate and media pipeline and
// exposes the caller-facing collection operations.
type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	objectStore     objectstore.Store
	gate            gate.Gate
	metrics         *metrics.Metrics
	collection      *collection.Service
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	store, err := objectstore.NewStore(config.Storage.Type, config.Storage.Path, config.Storage.Bucket,
		config.Storage.Prefix, config.Storage.Endpoint)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	slog.Info("object storage initialized", "type", config.Storage.Type)

	g, err := getGate(config)
	if err != nil {
		_ = store.Close()
		_ = databaseService.Close()
		return nil, err
	}

	pipeline, err := commands.NewPipeline(commands.PipelineConfig{
		ThumbnailWidth:    config.Media.ThumbnailWidth,
		PrimaryMaxWidth:   config.Media.PrimaryMaxWidth,
		PrimaryMaxHeight:  config.Media.PrimaryMaxHeight,
		HighResThreshold:  config.Media.HighResThreshold,
		SVGFallbackWidth:  config.Media.SVGFallbackWidth,
		SVGFallbackHeight: config.Media.SVGFallbackHeight,
		Commands:          config.Media.Commands,
	})
	if err != nil {
		closeGate(g)
		_ = store.Close()
		_ = databaseService.Close()
		return nil, err
	}

	m := metrics.New()
	service := &CoreService{
		config:          config,
		databaseService: databaseService,
		objectStore:     store,
		gate:            g,
		metrics:         m,
		collection: collection.NewService(databaseService, store, g, pipeline, collection.Options{
			AdjacencyFallback: config.AdjacencyFallback(),
			Hooks:             m,
		}),
	}
	slog.Info("core service initialized",
		"database", config.Database.Type,
		"storage", config.Storage.Type,
		"gate", config.Gate.Type,
		"adjacency_fallback", config.AdjacencyFallback())
	return service, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString,
		config.Database.StatementTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func getGate(config *ServiceConfig) (gate.Gate, error) {
	switch config.Gate.Type {
	case "", "local":
		return gate.NewLocalGate(), nil
	case "redis":
		g, err := gate.NewRedisGate(config.Gate.RedisAddr, config.Gate.TTL, config.Gate.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis gate: %w", err)
		}
		slog.Info("redis gate initialized", "addr", config.Gate.RedisAddr, "ttl", config.Gate.TTL)
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported gate type: %s", config.Gate.Type)
	}
}

func closeGate(g gate.Gate) error {
	if c, ok := g.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (service *CoreService) Config() *ServiceConfig { return service.config }

func (service *CoreService) Metrics() *metrics.Metrics { return service.metrics }

func (service *CoreService) Reorder(ctx context.Context, parentID int64, orderedIDs []int64) (collection.ReorderResult, error) {
	return service.collection.Reorder(ctx, parentID, orderedIDs)
}

func (service *CoreService) Delete(ctx context.Context, assetID int64) (collection.DeleteResult, error) {
	return service.collection.Delete(ctx, assetID)
}

func (service *CoreService) Ingest(ctx context.Context, parentID int64, files []collection.Upload) (collection.IngestResult, error) {
	return service.collection.Ingest(ctx, parentID, files)
}

func (service *CoreService) List(ctx context.Context, parentID int64) ([]collection.Family, error) {
	return service.collection.List(ctx, parentID)
}

func (service *CoreService) Content(ctx context.Context, assetID int64) ([]byte, string, error) {
	return service.collection.Content(ctx, assetID)
}

func (service *CoreService) Verify(ctx context.Context, parentID int64) (collection.Report, error) {
	return service.collection.Verify(ctx, parentID)
}

func (service *CoreService) VerifyAll(ctx context.Context) ([]collection.Report, error) {
	return service.collection.VerifyAll(ctx)
}

func (service *CoreService) BackfillHighResLinks(ctx context.Context, parentID int64) (collection.BackfillResult, error) {
	return service.collection.BackfillHighResLinks(ctx, parentID)
}

// Close releases the gate, the object store and the database.
func (service *CoreService) Close() error {
	return errors.Join(
		closeGate(service.gate),
		service.objectStore.Close(),
		service.databaseService.Close(),
	)
}
