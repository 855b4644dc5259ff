package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/eventgallery/internal/domain"
	"github.com/timmy/eventgallery/internal/index"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const payloadImageID = "image_id"

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository is an approximate (HNSW) similarity index backed by a
// Qdrant collection with cosine distance. It implements index.Index.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

var _ index.Index = (*QdrantRepository)(nil)

// NewQdrantRepository creates a new QdrantRepository. The connection is
// established lazily on first use.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("qdrant: vector dimension must be positive")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: cfg.VectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist and checks the
// vector size of an existing one.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return domain.Errorf(domain.KindDimensionMismatch, "qdrant.ensure_collection",
				"collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if size := params.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// Dimensions returns the configured vector size.
func (r *QdrantRepository) Dimensions() int {
	return r.vectorDimension
}

func pointID(op, id string) (*pb.PointId, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.Errorf(domain.KindInvalidRequest, op, "invalid point id %q: %v", id, err)
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}}, nil
}

// Upsert writes the vector for id and waits for the write to be applied.
func (r *QdrantRepository) Upsert(ctx context.Context, id string, vector []float32) error {
	const op = "qdrant.upsert"
	if err := index.CheckDimension(op, vector, r.vectorDimension); err != nil {
		return err
	}
	if _, ok := index.Normalize(vector); !ok {
		return domain.Errorf(domain.KindInvalidRequest, op, "zero vector for %s", id)
	}
	pid, err := pointID(op, id)
	if err != nil {
		return err
	}

	wait := true
	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: pid,
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
			},
			Payload: map[string]*pb.Value{
				payloadImageID: {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		}},
	})
	if err != nil {
		return domain.E(domain.KindStorageFailure, op, err)
	}
	return nil
}

// Remove deletes the point for id. Unknown ids are ignored by Qdrant.
func (r *QdrantRepository) Remove(ctx context.Context, id string) error {
	const op = "qdrant.remove"
	pid, err := pointID(op, id)
	if err != nil {
		return err
	}

	wait := true
	_, err = r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pid}},
			},
		},
	})
	if err != nil {
		return domain.E(domain.KindStorageFailure, op, err)
	}
	return nil
}

// Query returns up to k nearest points. Qdrant's cosine score is rescaled to
// the index similarity scale and re-sorted with the id tie-break.
func (r *QdrantRepository) Query(ctx context.Context, vector []float32, k int) ([]index.Match, error) {
	const op = "qdrant.query"
	if err := index.CheckDimension(op, vector, r.vectorDimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []index.Match{}, nil
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, domain.E(domain.KindStorageFailure, op, err)
	}

	return matchesFromScored(resp.GetResult()), nil
}

func matchesFromScored(points []*pb.ScoredPoint) []index.Match {
	matches := make([]index.Match, 0, len(points))
	for _, p := range points {
		id := p.GetPayload()[payloadImageID].GetStringValue()
		if id == "" {
			id = p.GetId().GetUuid()
		}
		matches = append(matches, index.Match{
			ID:         id,
			Similarity: index.ScoreFromCosine(float64(p.GetScore())),
		})
	}
	index.SortMatches(matches)
	return matches
}

// Len returns the exact number of points in the collection.
func (r *QdrantRepository) Len(ctx context.Context) (int, error) {
	exact := true
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          &exact,
	})
	if err != nil {
		return 0, domain.E(domain.KindStorageFailure, "qdrant.len", err)
	}
	return int(resp.GetResult().GetCount()), nil
}
