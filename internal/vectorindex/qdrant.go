package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("topicd.vectorindex.qdrant")

// upsertBatchSize bounds one Upsert RPC so a mid-document failure can name
// exactly which points were not written.
const upsertBatchSize = 64

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port (6333).
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size. Default: 50MB.
	MaxMessageSize int
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// IsTransientError reports whether an error should be retried: network
// timeouts and temporary unavailability yes, invalid arguments and
// not-found no.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func toQdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricEuclid:
		return qdrant.Distance_Euclid
	case MetricDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

// QdrantIndex is an Index implementation backed by Qdrant's native gRPC
// client. gRPC avoids the HTTP layer's payload limits on large documents.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig

	// dimensions caches topic -> collection dimension so repeated
	// EnsureCollection calls skip the RPC.
	dimensions sync.Map
}

// NewQdrantIndex creates a QdrantIndex and verifies connectivity.
func NewQdrantIndex(config QdrantConfig) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	idx := &QdrantIndex{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := idx.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return idx, nil
}

// Ping performs a health check on the Qdrant connection.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Ping")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantIndex) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// EnsureCollection creates the topic's collection if absent and verifies
// the dimension if present. Losing a creation race to a concurrent first
// upload is treated as success.
func (s *QdrantIndex) EnsureCollection(ctx context.Context, topic string, dimension int, metric Metric) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.EnsureCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int("dimension", dimension),
		attribute.String("metric", string(metric)),
	)

	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	if cached, ok := s.dimensions.Load(topic); ok {
		if cached.(int) != dimension {
			return fmt.Errorf("%w: topic %q has dimension %d, embedder produces %d", ErrDimensionMismatch, topic, cached.(int), dimension)
		}
		return nil
	}

	existing, err := s.collectionDimension(ctx, topic)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if existing == 0 {
		err := s.retryOperation(ctx, "create_collection", func() error {
			createErr := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: topic,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: toQdrantDistance(metric),
				}),
			})
			// A concurrent first upload may have won the race.
			if st, ok := status.FromError(createErr); ok && st.Code() == grpccodes.AlreadyExists {
				return nil
			}
			return createErr
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", topic, err)
		}
		// Re-read to cover the lost-race case with a conflicting dimension.
		existing, err = s.collectionDimension(ctx, topic)
		if err != nil {
			span.RecordError(err)
			return err
		}
	}
	if existing != 0 && existing != dimension {
		span.SetStatus(codes.Error, "dimension mismatch")
		return fmt.Errorf("%w: topic %q has dimension %d, embedder produces %d", ErrDimensionMismatch, topic, existing, dimension)
	}

	s.dimensions.Store(topic, dimension)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// collectionDimension returns the dimension of an existing collection, or 0
// if the collection does not exist.
func (s *QdrantIndex) collectionDimension(ctx context.Context, topic string) (int, error) {
	var dim int
	err := s.retryOperation(ctx, "get_collection_info", func() error {
		info, err := s.client.GetCollectionInfo(ctx, topic)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				dim = 0
				return nil
			}
			return err
		}
		dim = int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("checking collection %s: %w", topic, err)
	}
	return dim, nil
}

// Upsert inserts or replaces points by identifier. Points are written in
// bounded batches with Wait so a stored batch is durable; on failure the
// error names every point that was not written.
func (s *QdrantIndex) Upsert(ctx context.Context, topic string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	for offset := 0; offset < len(points); offset += upsertBatchSize {
		end := offset + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		batch := points[offset:end]

		structs := make([]*qdrant.PointStruct, len(batch))
		for i, p := range batch {
			structs[i] = &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(p.ID),
				Vectors: qdrant.NewVectors(p.Vector...),
				Payload: payloadToQdrant(p.Payload),
			}
		}

		err := s.retryOperation(ctx, "upsert", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: topic,
				Points:         structs,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			failed := make([]string, 0, len(points)-offset)
			for _, p := range points[offset:] {
				failed = append(failed, p.ID)
			}
			if offset == 0 {
				return fmt.Errorf("upserting points to %s: %w", topic, err)
			}
			return &PartialUpsertError{FailedIDs: failed, Err: err}
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns up to topK nearest points ordered by descending score.
func (s *QdrantIndex) Search(ctx context.Context, topic string, vector []float32, topK int, filter *Filter) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int("top_k", topK),
	)

	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, topK)
	}

	if dim, err := s.collectionDimension(ctx, topic); err != nil {
		span.RecordError(err)
		return nil, err
	} else if dim == 0 {
		span.SetStatus(codes.Error, "topic not found")
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}

	var qf *qdrant.Filter
	if filter != nil && filter.Source != "" {
		qf = &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "source",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: filter.Source},
						},
					},
				},
			}},
		}
	}

	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: topic,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         qf,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", topic, err)
	}

	hits := make([]Hit, len(results))
	for i, point := range results {
		hits[i] = Hit{
			ID:      point.GetId().GetUuid(),
			Score:   point.GetScore(),
			Payload: payloadFromQdrant(point.GetPayload()),
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Scroll returns up to limit stored points, payload only, in the server's
// stable scroll order.
func (s *QdrantIndex) Scroll(ctx context.Context, topic string, limit int) ([]Point, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Scroll")
	defer span.End()
	span.SetAttributes(
		attribute.String("topic", topic),
		attribute.Int("limit", limit),
	)

	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}

	if dim, err := s.collectionDimension(ctx, topic); err != nil {
		span.RecordError(err)
		return nil, err
	} else if dim == 0 {
		span.SetStatus(codes.Error, "topic not found")
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}

	var retrieved []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: topic,
			Limit:          qdrant.PtrOf(uint32(limit)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		retrieved = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("scrolling collection %s: %w", topic, err)
	}

	points := make([]Point, len(retrieved))
	for i, p := range retrieved {
		points[i] = Point{
			ID:      p.GetId().GetUuid(),
			Payload: payloadFromQdrant(p.GetPayload()),
		}
	}
	span.SetStatus(codes.Ok, "success")
	return points, nil
}

// Count returns the number of points stored for a topic.
func (s *QdrantIndex) Count(ctx context.Context, topic string) (int, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Count")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}

	var count int
	err := s.retryOperation(ctx, "count", func() error {
		info, err := s.client.GetCollectionInfo(ctx, topic)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrTopicNotFound
			}
			return err
		}
		count = int(info.GetPointsCount())
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("counting points in %s: %w", topic, err)
	}
	return count, nil
}

func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"text":   {Kind: &qdrant.Value_StringValue{StringValue: p.Text}},
		"source": {Kind: &qdrant.Value_StringValue{StringValue: p.Source}},
		"seq":    {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Seq)}},
	}
}

func payloadFromQdrant(values map[string]*qdrant.Value) Payload {
	var p Payload
	if v, ok := values["text"]; ok {
		p.Text = v.GetStringValue()
	}
	if v, ok := values["source"]; ok {
		p.Source = v.GetStringValue()
	}
	if v, ok := values["seq"]; ok {
		p.Seq = int(v.GetIntegerValue())
	}
	return p
}

// Ensure QdrantIndex implements the Index interface.
var _ Index = (*QdrantIndex)(nil)
