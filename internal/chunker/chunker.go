// Package chunker splits raw document text into overlapping segments
// suitable for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// ErrInvalidConfig indicates invalid chunk size or overlap configuration.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// chunkNamespace pins chunk identifiers across releases. IDs are UUIDv5 of
// (topic, filename, sequence), so re-ingesting the same document region
// upserts the same point.
var chunkNamespace = uuid.MustParse("8b39df52-97e1-4d8a-9c07-52a4f31d29e4")

// Config holds splitting parameters. All sizes are rune counts.
type Config struct {
	// ChunkSize is the target segment length.
	ChunkSize int

	// ChunkOverlap is the number of runes shared between neighbouring
	// chunks. Must be smaller than ChunkSize.
	ChunkOverlap int

	// BoundaryTolerance is how far back from the target cut a natural
	// boundary (paragraph, then sentence end) is searched. Zero means
	// ChunkSize/5.
	BoundaryTolerance int
}

// Validate fails fast before any chunking occurs.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidConfig, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if c.BoundaryTolerance < 0 {
		return fmt.Errorf("%w: boundary tolerance cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Chunk is one contiguous slice of a document, the unit of embedding and
// storage.
type Chunk struct {
	// Text is the chunk content, including the leading overlap with the
	// previous chunk.
	Text string

	// Seq is the zero-based position of the chunk within its document.
	Seq int
}

// Splitter produces overlapping chunks covering the whole input.
type Splitter struct {
	cfg       Config
	tolerance int
}

// NewSplitter validates the configuration and returns a Splitter.
func NewSplitter(cfg Config) (*Splitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tolerance := cfg.BoundaryTolerance
	if tolerance == 0 {
		tolerance = cfg.ChunkSize / 5
	}
	return &Splitter{cfg: cfg, tolerance: tolerance}, nil
}

// Split chunks text into segments of at most ChunkSize runes. Each chunk
// after the first starts exactly ChunkOverlap runes before the previous
// chunk's end, so concatenating the chunks with the overlap stripped
// reconstructs the input. Empty input yields no chunks; input shorter than
// one chunk yields exactly one.
func (s *Splitter) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for seq := 0; ; seq++ {
		end := start + s.cfg.ChunkSize
		if end >= len(runes) {
			chunks = append(chunks, Chunk{Text: string(runes[start:]), Seq: seq})
			return chunks
		}
		end = s.cut(runes, start, end)
		chunks = append(chunks, Chunk{Text: string(runes[start:end]), Seq: seq})
		start = end - s.cfg.ChunkOverlap
	}
}

// cut moves the hard cut at end back to the nearest natural boundary within
// tolerance: a paragraph break first, a sentence end second. The cut never
// retreats past start+overlap, which guarantees forward progress.
func (s *Splitter) cut(runes []rune, start, end int) int {
	floor := end - s.tolerance
	if min := start + s.cfg.ChunkOverlap + 1; floor < min {
		floor = min
	}

	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' && i > 0 && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if isSentenceEnd(runes[i]) && i+1 < len(runes) && isSpace(runes[i+1]) {
			return i + 1
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

// ChunkID derives the stable point identifier for a chunk. It is a pure
// function of document identity and sequence index, making re-ingestion an
// idempotent upsert.
func ChunkID(topic, filename string, seq int) string {
	name := topic + "/" + filename + "#" + strconv.Itoa(seq)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
