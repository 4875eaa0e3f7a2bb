// Package vectorstore indexes message embeddings in Qdrant so the status
// API can look up messages similar to a given one.
package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nidhogg/agora/internal/platform"
)

// pointNamespace derives stable point ids from run and message ids.
var pointNamespace = uuid.MustParse("6f1c2a52-8d4e-4f0b-9a57-3c1e2d7b9a10")

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host       string
	Port       int
	Collection string
	RunID      string
}

// MessageIndex mirrors origin message embeddings into one collection.
type MessageIndex struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	cfg         Config
	logger      *zap.Logger

	ensureMu sync.Mutex
	ensured  bool
}

// Hit is one similar message.
type Hit struct {
	MessageID string  `json:"message_id"`
	AuthorID  string  `json:"author_id"`
	Score     float32 `json:"score"`
}

// New dials the Qdrant gRPC endpoint. The collection is created on the
// first upsert, once the embedding dimension is known.
func New(cfg Config, logger *zap.Logger) (*MessageIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &MessageIndex{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// PointID is the Qdrant point id of a message in a run.
func PointID(runID, messageID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(runID+"/"+messageID)).String()
}

func (x *MessageIndex) ensureCollection(ctx context.Context, dimension uint64) error {
	x.ensureMu.Lock()
	defer x.ensureMu.Unlock()
	if x.ensured {
		return nil
	}
	if _, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.cfg.Collection}); err != nil {
		_, err = x.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: x.cfg.Collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{Size: dimension, Distance: pb.Distance_Cosine},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", x.cfg.Collection, err)
		}
		x.logger.Info("qdrant collection created", zap.String("collection", x.cfg.Collection), zap.Uint64("dimension", dimension))
	}
	x.ensured = true
	return nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func payload(runID string, m platform.Message) map[string]*pb.Value {
	return map[string]*pb.Value{
		"run":        stringValue(runID),
		"message_id": stringValue(m.ID),
		"author_id":  stringValue(m.AuthorID),
		"type":       stringValue(m.Type),
	}
}

// Upsert indexes m. Reposts and messages without an embedding are skipped.
func (x *MessageIndex) Upsert(ctx context.Context, m platform.Message) error {
	if !m.IsOrigin() || len(m.Embedding) == 0 {
		return nil
	}
	if err := x.ensureCollection(ctx, uint64(len(m.Embedding))); err != nil {
		return err
	}
	_, err := x.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: x.cfg.Collection,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(x.cfg.RunID, m.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: m.Embedding}}},
			Payload: payload(x.cfg.RunID, m),
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", m.ID, err)
	}
	return nil
}

// Similar returns up to k messages of this run nearest to vector, leaving
// out excludeID.
func (x *MessageIndex) Similar(ctx context.Context, vector []float32, k int, excludeID string) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(k + 1),
		Filter: &pb.Filter{Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   "run",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: x.cfg.RunID}},
			}},
		}}},
		WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", x.cfg.Collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		h := Hit{Score: r.Score}
		if v, ok := r.Payload["message_id"].GetKind().(*pb.Value_StringValue); ok {
			h.MessageID = v.StringValue
		}
		if v, ok := r.Payload["author_id"].GetKind().(*pb.Value_StringValue); ok {
			h.AuthorID = v.StringValue
		}
		if h.MessageID == excludeID {
			continue
		}
		hits = append(hits, h)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// MessageCreated implements platform.Observer.
func (x *MessageIndex) MessageCreated(ctx context.Context, m platform.Message) error {
	return x.Upsert(ctx, m)
}

// ActLogged implements platform.Observer.
func (x *MessageIndex) ActLogged(context.Context, platform.LogEntry) error { return nil }

// CheckpointSaved implements platform.Observer.
func (x *MessageIndex) CheckpointSaved(context.Context, time.Time, string) error { return nil }

// Close tears down the underlying gRPC connection.
func (x *MessageIndex) Close() error {
	return x.conn.Close()
}
