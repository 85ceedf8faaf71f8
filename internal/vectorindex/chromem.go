package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path string

	// Compress enables gzip compression of persisted data.
	Compress bool
}

// sidecarFile holds the index state chromem does not persist itself:
// collection dimensions and point insertion order.
const sidecarFile = "topicd_index.json"

// chromemSidecar is the on-disk shape of that state.
type chromemSidecar struct {
	Dimensions map[string]int            `json:"dimensions"`
	Sequences  map[string]map[string]int `json:"sequences"`
	NextSeq    int                       `json:"next_seq"`
}

// ChromemIndex is an Index implementation backed by the embedded chromem-go
// store. It serves single-node deployments and tests without a Qdrant
// server. Embeddings are computed upstream and stored as-is; chromem's own
// embedding hook is never used. Only cosine similarity is supported.
type ChromemIndex struct {
	db   *chromem.DB
	path string

	mu sync.Mutex
	// dimensions records topic -> dimension. chromem does not pin a
	// dimension itself, so it is kept here and persisted in the sidecar
	// to survive restarts.
	dimensions map[string]int
	// inserted assigns an insertion sequence per point ID, giving
	// equal-score search results a stable order and Scroll a stable page.
	inserted map[string]map[string]int
	nextSeq  int
}

// errNoEmbedder guards against chromem ever being asked to embed.
var errNoEmbedder = errors.New("vectorindex: embeddings are computed upstream")

func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// NewChromemIndex creates an embedded index, persistent when cfg.Path is
// set.
func NewChromemIndex(cfg ChromemConfig) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}
	idx := &ChromemIndex{
		db:         db,
		path:       cfg.Path,
		dimensions: make(map[string]int),
		inserted:   make(map[string]map[string]int),
	}
	if err := idx.loadSidecar(); err != nil {
		return nil, err
	}
	return idx, nil
}

// loadSidecar restores dimensions and insertion order after a restart.
func (s *ChromemIndex) loadSidecar() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.path, sidecarFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading index state: %w", err)
	}
	var sc chromemSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("decoding index state: %w", err)
	}
	if sc.Dimensions != nil {
		s.dimensions = sc.Dimensions
	}
	if sc.Sequences != nil {
		s.inserted = sc.Sequences
	}
	s.nextSeq = sc.NextSeq
	return nil
}

// saveSidecar persists dimensions and insertion order. Callers hold s.mu.
func (s *ChromemIndex) saveSidecar() error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(chromemSidecar{
		Dimensions: s.dimensions,
		Sequences:  s.inserted,
		NextSeq:    s.nextSeq,
	})
	if err != nil {
		return fmt.Errorf("encoding index state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.path, sidecarFile), data, 0o600); err != nil {
		return fmt.Errorf("writing index state: %w", err)
	}
	return nil
}

// EnsureCollection creates the topic's collection if absent. chromem only
// computes cosine similarity, so any other metric is rejected up front
// rather than silently stored with different semantics.
func (s *ChromemIndex) EnsureCollection(_ context.Context, topic string, dimension int, metric Metric) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if metric != MetricCosine && metric != "" {
		return fmt.Errorf("%w: chromem backend supports cosine only, got %q", ErrInvalidConfig, metric)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dimensions[topic]; ok && existing != dimension {
		return fmt.Errorf("%w: topic %q has dimension %d, embedder produces %d", ErrDimensionMismatch, topic, existing, dimension)
	}

	meta := map[string]string{
		"dimension": strconv.Itoa(dimension),
		"metric":    string(MetricCosine),
	}
	if _, err := s.db.GetOrCreateCollection(topic, meta, noEmbeddingFunc); err != nil {
		return fmt.Errorf("creating collection %s: %w", topic, err)
	}
	if _, ok := s.dimensions[topic]; !ok {
		s.dimensions[topic] = dimension
		if err := s.saveSidecar(); err != nil {
			return err
		}
	}
	if s.inserted[topic] == nil {
		s.inserted[topic] = make(map[string]int)
	}
	return nil
}

// Upsert inserts or replaces points by identifier. chromem keys documents
// by ID, so re-adding an existing ID replaces it in place. Documents are
// written one at a time; a mid-slice failure reports every point that was
// not stored.
func (s *ChromemIndex) Upsert(ctx context.Context, topic string, points []Point) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.db.GetCollection(topic, noEmbeddingFunc)
	if coll == nil {
		return fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}

	if dim, ok := s.dimensions[topic]; ok {
		for _, p := range points {
			if len(p.Vector) != dim {
				return fmt.Errorf("%w: point %s has dimension %d, collection %q expects %d",
					ErrDimensionMismatch, p.ID, len(p.Vector), topic, dim)
			}
		}
	}

	seqs := s.inserted[topic]
	if seqs == nil {
		seqs = make(map[string]int)
		s.inserted[topic] = seqs
	}

	for i, p := range points {
		doc := chromem.Document{
			ID:        p.ID,
			Content:   p.Payload.Text,
			Embedding: p.Vector,
			Metadata: map[string]string{
				"source": p.Payload.Source,
				"seq":    strconv.Itoa(p.Payload.Seq),
			},
		}
		if err := coll.AddDocument(ctx, doc); err != nil {
			_ = s.saveSidecar()
			if i == 0 {
				return fmt.Errorf("upserting points to %s: %w", topic, err)
			}
			failed := make([]string, 0, len(points)-i)
			for _, rest := range points[i:] {
				failed = append(failed, rest.ID)
			}
			return &PartialUpsertError{FailedIDs: failed, Err: err}
		}
		if _, seen := seqs[p.ID]; !seen {
			seqs[p.ID] = s.nextSeq
			s.nextSeq++
		}
	}
	return s.saveSidecar()
}

// Search returns up to topK nearest points by cosine similarity, descending,
// with equal scores ordered by insertion.
func (s *ChromemIndex) Search(ctx context.Context, topic string, vector []float32, topK int, filter *Filter) ([]Hit, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, topK)
	}

	s.mu.Lock()
	coll := s.db.GetCollection(topic, noEmbeddingFunc)
	dim, hasDim := s.dimensions[topic]
	seqs := s.inserted[topic]
	s.mu.Unlock()

	if coll == nil {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	if hasDim && len(vector) != dim {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %q expects %d", ErrDimensionMismatch, len(vector), topic, dim)
	}

	count := coll.Count()
	if count == 0 {
		return []Hit{}, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if filter != nil && filter.Source != "" {
		where = map[string]string{"source": filter.Source}
	}

	results, err := coll.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", topic, err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		seq, _ := strconv.Atoi(r.Metadata["seq"])
		hits[i] = Hit{
			ID:    r.ID,
			Score: r.Similarity,
			Payload: Payload{
				Text:   r.Content,
				Source: r.Metadata["source"],
				Seq:    seq,
			},
		}
	}

	// Descending score, ties broken by insertion order for determinism.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return seqs[hits[i].ID] < seqs[hits[j].ID]
	})
	return hits, nil
}

// Scroll returns up to limit stored points in insertion order, payload only.
func (s *ChromemIndex) Scroll(ctx context.Context, topic string, limit int) ([]Point, error) {
	if err := ValidateTopicName(topic); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}

	s.mu.Lock()
	coll := s.db.GetCollection(topic, noEmbeddingFunc)
	seqs := s.inserted[topic]
	s.mu.Unlock()

	if coll == nil {
		return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}

	ids := make([]string, 0, len(seqs))
	for id := range seqs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return seqs[ids[i]] < seqs[ids[j]] })
	if len(ids) > limit {
		ids = ids[:limit]
	}

	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		doc, err := coll.GetByID(ctx, id)
		if err != nil {
			continue
		}
		seq, _ := strconv.Atoi(doc.Metadata["seq"])
		points = append(points, Point{
			ID: doc.ID,
			Payload: Payload{
				Text:   doc.Content,
				Source: doc.Metadata["source"],
				Seq:    seq,
			},
		})
	}
	return points, nil
}

// Count returns the number of points stored for a topic.
func (s *ChromemIndex) Count(_ context.Context, topic string) (int, error) {
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}
	coll := s.db.GetCollection(topic, noEmbeddingFunc)
	if coll == nil {
		return 0, fmt.Errorf("%w: %q", ErrTopicNotFound, topic)
	}
	return coll.Count(), nil
}

// Ping is a no-op for the embedded store.
func (s *ChromemIndex) Ping(context.Context) error {
	return nil
}

// Close is a no-op; the persistent store flushes on write.
func (s *ChromemIndex) Close() error {
	return nil
}

// Ensure ChromemIndex implements the Index interface.
var _ Index = (*ChromemIndex)(nil)
