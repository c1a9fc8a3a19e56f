package clients

import (
	"context"
	"fmt"

	"github.com/DRSN-tech/image-gallery/internal/cfg"
	"github.com/DRSN-tech/image-gallery/internal/domain"
	"github.com/DRSN-tech/image-gallery/pkg/e"
	"github.com/DRSN-tech/image-gallery/pkg/logger"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIndexes индексы payload, по которым строятся фильтры поиска
var payloadIndexes = map[string]qdrant.FieldType{
	"width":          qdrant.FieldType_FieldTypeInteger,
	"height":         qdrant.FieldType_FieldTypeInteger,
	"aspect_ratio":   qdrant.FieldType_FieldTypeFloat,
	"starred":        qdrant.FieldType_FieldTypeBool,
	"categories":     qdrant.FieldType_FieldTypeKeyword,
	"ocr_text_lower": qdrant.FieldType_FieldTypeText,
}

type QdrantClient struct {
	Client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewQdrantClient(cfg *cfg.QdrantCfg) (*QdrantClient, error) {
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.ApiKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return &QdrantClient{
		Client: qdrantClient,
		cfg:    cfg,
	}, nil
}

// Ping проверяет доступность Qdrant.
func (c *QdrantClient) Ping(ctx context.Context) error {
	if _, err := c.Client.HealthCheck(ctx); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

func (c *QdrantClient) Close() error {
	return c.Client.Close()
}

// EnsureCollection создаёт коллекцию с двумя именованными векторами и индексами payload.
// Существующая коллекция не пересоздаётся.
func EnsureCollection(ctx context.Context, client *QdrantClient, log logger.Logger) error {
	collection := client.cfg.CollectionName

	exists, err := client.Client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if exists {
		return nil
	}

	log.Infof("creating qdrant collection %q", collection)

	if err := client.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			string(domain.ImageSpace): {
				Size:     client.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			},
			string(domain.TextSpace): {
				Size:     client.cfg.TextVectorSize,
				Distance: qdrant.Distance_Cosine,
			},
		}),
	}); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for field, fieldType := range payloadIndexes {
		if _, err := client.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      qdrant.PtrOf(fieldType),
		}); err != nil {
			return fmt.Errorf("failed to create payload index %q: %w", field, err)
		}
	}

	return nil
}
