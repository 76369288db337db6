package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"model-router/internal/domain/entity"
	"model-router/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantMemoryStore keeps conversation turns as vectors, one point per message,
// partitioned by user id.
type QdrantMemoryStore struct {
	client         *qdrant.Client
	collectionName string
	embedder       repository.Embedder
	now            func() time.Time
}

func NewQdrantMemoryStore(client *qdrant.Client, collectionName string, embedder repository.Embedder) *QdrantMemoryStore {
	return &QdrantMemoryStore{
		client:         client,
		collectionName: collectionName,
		embedder:       embedder,
		now:            time.Now,
	}
}

func (s *QdrantMemoryStore) InitCollection(ctx context.Context, dim uint64) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return err
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	// Every search filters on user_id.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collectionName,
		FieldName:      "user_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		log.Warnf("[QDRANT] Could not create user_id index (might already exist): %v", err)
	}
	return nil
}

func (s *QdrantMemoryStore) SearchRelevantMemories(ctx context.Context, userID, query string, topK int) ([]entity.Memory, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory query: %w", err)
	}

	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("user_id", userID)},
		},
		Limit:       qdrant.PtrOf(uint64(topK)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	memories := make([]entity.Memory, 0, len(res))
	for _, hit := range res {
		memories = append(memories, memoryFromPayload(hit.Payload, hit.Score))
	}
	return memories, nil
}

// StoreConversation appends the conversation's messages. Existing points are never overwritten.
func (s *QdrantMemoryStore) StoreConversation(ctx context.Context, userID string, conv entity.Conversation) error {
	createdAt := s.now()
	points := make([]*qdrant.PointStruct, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		vector, err := s.embedder.CreateEmbedding(ctx, msg.Content)
		if err != nil {
			return fmt.Errorf("failed to embed %s message: %w", msg.Role, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(memoryPayload(userID, conv.ID, msg, createdAt)),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
	})
	return err
}

func memoryPayload(userID, conversationID string, msg entity.Message, createdAt time.Time) map[string]any {
	return map[string]any{
		"user_id":         userID,
		"conversation_id": conversationID,
		"role":            string(msg.Role),
		"content":         msg.Content,
		"source":          "conversation:" + conversationID,
		"created_at":      createdAt.Unix(),
	}
}

func memoryFromPayload(payload map[string]*qdrant.Value, score float32) entity.Memory {
	content := payload["content"].GetStringValue()
	if role := payload["role"].GetStringValue(); role != "" {
		content = role + ": " + content
	}
	return entity.Memory{
		Content:        content,
		RelevanceScore: score,
		Source:         payload["source"].GetStringValue(),
	}
}
