// Package store holds the precomputed code vectors and the raw code they were
// computed from, split into equally sized chunks that are searched in
// parallel. Row i of vector chunk c always describes line i of codebase
// chunk c.
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/logger"
)

// Chunk is one aligned slice of the corpus.
type Chunk struct {
	Index    int
	Vectors  vecfile.Matrix
	Codebase []string
}

// Rows is the number of samples in the chunk.
func (c Chunk) Rows() int {
	return c.Vectors.Rows
}

// Stats summarises what is loaded.
type Stats struct {
	ChunkSize      int  `json:"chunk_size"`
	Chunks         int  `json:"chunks"`
	Rows           int  `json:"rows"`
	Dimension      int  `json:"dimension"`
	VectorsLoaded  bool `json:"vectors_loaded"`
	CodebaseLoaded bool `json:"codebase_loaded"`
}

// VectorStore is loaded once and read-only afterwards. Loads are idempotent:
// a second call for an already loaded side is a no-op.
type VectorStore struct {
	mu        sync.RWMutex
	chunkSize int
	vectors   []vecfile.Matrix
	codebase  [][]string
	vecRows   int
	codeRows  int
	dim       int
	logger    *slog.Logger
}

func New(chunkSize int) (*VectorStore, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", apperrors.ErrConfiguration, chunkSize)
	}
	return &VectorStore{
		chunkSize: chunkSize,
		logger:    logger.WithComponent("store"),
	}, nil
}

// LoadVectors reads the code vector file at path and slices it into chunks.
func (s *VectorStore) LoadVectors(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vectors != nil {
		return nil
	}
	start := time.Now()
	m, err := vecfile.Read(path)
	if err != nil {
		return err
	}
	if s.codebase != nil && m.Rows != s.codeRows {
		return fmt.Errorf("%w: %s has %d vectors but the codebase has %d lines",
			apperrors.ErrConfiguration, path, m.Rows, s.codeRows)
	}
	chunks := make([]vecfile.Matrix, 0, numChunks(m.Rows, s.chunkSize))
	for lo := 0; lo < m.Rows; lo += s.chunkSize {
		chunks = append(chunks, m.Slice(lo, min(lo+s.chunkSize, m.Rows)))
	}
	s.vectors = chunks
	s.vecRows = m.Rows
	s.dim = m.Dim
	s.logger.Info("code vectors loaded",
		"path", path,
		"rows", m.Rows,
		"dim", m.Dim,
		"chunks", len(chunks),
		"duration", time.Since(start),
	)
	return nil
}

// LoadCodebase reads one code sample per line from path. Invalid byte
// sequences are replaced with U+FFFD rather than rejected.
func (s *VectorStore) LoadCodebase(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codebase != nil {
		return nil
	}
	start := time.Now()
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	if s.vectors != nil && len(lines) != s.vecRows {
		return fmt.Errorf("%w: %s has %d lines but %d code vectors are loaded",
			apperrors.ErrConfiguration, path, len(lines), s.vecRows)
	}
	chunks := make([][]string, 0, numChunks(len(lines), s.chunkSize))
	for lo := 0; lo < len(lines); lo += s.chunkSize {
		hi := min(lo+s.chunkSize, len(lines))
		chunks = append(chunks, lines[lo:hi:hi])
	}
	s.codebase = chunks
	s.codeRows = len(lines)
	s.logger.Info("codebase loaded",
		"path", path,
		"lines", len(lines),
		"chunks", len(chunks),
		"duration", time.Since(start),
	)
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "opening codebase")
	}
	defer f.Close()

	r := bufio.NewReaderSize(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())), 1<<20)
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			lines = append(lines, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "reading codebase %s", path)
		}
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func numChunks(rows, size int) int {
	return (rows + size - 1) / size
}

// ChunkCount is the number of vector chunks loaded.
func (s *VectorStore) ChunkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Loaded reports whether both vectors and codebase are loaded.
func (s *VectorStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vectors != nil && s.codebase != nil
}

// Chunks returns the aligned chunks, or nil until both sides are loaded.
// The returned data must not be modified.
func (s *VectorStore) Chunks() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.vectors == nil || s.codebase == nil {
		return nil
	}
	chunks := make([]Chunk, len(s.vectors))
	for i := range s.vectors {
		chunks[i] = Chunk{Index: i, Vectors: s.vectors[i], Codebase: s.codebase[i]}
	}
	return chunks
}

// Rows is the number of loaded code vectors.
func (s *VectorStore) Rows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vecRows
}

// Dimension is the length of every code vector, 0 before loading.
func (s *VectorStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

func (s *VectorStore) ChunkSize() int {
	return s.chunkSize
}

func (s *VectorStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		ChunkSize:      s.chunkSize,
		Chunks:         len(s.vectors),
		Rows:           s.vecRows,
		Dimension:      s.dim,
		VectorsLoaded:  s.vectors != nil,
		CodebaseLoaded: s.codebase != nil,
	}
}
