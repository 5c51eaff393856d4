package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

func writeCorpus(t *testing.T, rows, dim int) (vecPath, codePath string) {
	t.Helper()
	dir := t.TempDir()
	m := vecfile.NewMatrix(rows, dim)
	var code strings.Builder
	for i := 0; i < rows; i++ {
		m.Row(i)[i%dim] = 1
		fmt.Fprintf(&code, "void method%d() {}\n", i)
	}
	vecPath = filepath.Join(dir, "use.codevecs.csvec")
	codePath = filepath.Join(dir, "use.rawcode.txt")
	require.NoError(t, vecfile.Write(vecPath, m))
	require.NoError(t, os.WriteFile(codePath, []byte(code.String()), 0644))
	return vecPath, codePath
}

func TestChunkAlignment(t *testing.T) {
	tests := []struct {
		rows, chunkSize, wantChunks int
	}{
		{10, 3, 4},
		{9, 3, 3},
		{1, 5, 1},
		{6, 6, 1},
		{0, 4, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("rows=%d/size=%d", tt.rows, tt.chunkSize), func(t *testing.T) {
			vecPath, codePath := writeCorpus(t, tt.rows, 4)
			s, err := New(tt.chunkSize)
			require.NoError(t, err)
			require.NoError(t, s.LoadVectors(vecPath))
			require.NoError(t, s.LoadCodebase(codePath))

			assert.Equal(t, tt.wantChunks, s.ChunkCount())
			assert.True(t, s.Loaded())
			chunks := s.Chunks()
			require.Len(t, chunks, tt.wantChunks)
			total := 0
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.Equal(t, c.Rows(), len(c.Codebase))
				if i < len(chunks)-1 {
					assert.Equal(t, tt.chunkSize, c.Rows())
				}
				total += c.Rows()
			}
			assert.Equal(t, tt.rows, total)
		})
	}
}

func TestRowsStayAligned(t *testing.T) {
	vecPath, codePath := writeCorpus(t, 7, 4)
	s, err := New(3)
	require.NoError(t, err)
	require.NoError(t, s.LoadCodebase(codePath))
	require.NoError(t, s.LoadVectors(vecPath))

	chunk := s.Chunks()[2]
	assert.Equal(t, "void method6() {}", chunk.Codebase[0])
	assert.Equal(t, float32(1), chunk.Vectors.Row(0)[6%4])
}

func TestLoadIsIdempotent(t *testing.T) {
	vecPath, codePath := writeCorpus(t, 5, 2)
	s, err := New(2)
	require.NoError(t, err)
	require.NoError(t, s.LoadVectors(vecPath))
	require.NoError(t, s.LoadCodebase(codePath))
	before := s.Chunks()

	// A second load must not touch the filesystem.
	require.NoError(t, os.Remove(vecPath))
	require.NoError(t, os.Remove(codePath))
	require.NoError(t, s.LoadVectors(vecPath))
	require.NoError(t, s.LoadCodebase(codePath))

	after := s.Chunks()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Same(t, &before[i].Vectors.Data[0], &after[i].Vectors.Data[0])
		assert.Same(t, &before[i].Codebase[0], &after[i].Codebase[0])
	}
}

func TestMisalignedCorpusRejected(t *testing.T) {
	vecPath, _ := writeCorpus(t, 4, 2)
	_, codePath := writeCorpus(t, 5, 2)

	s, err := New(2)
	require.NoError(t, err)
	require.NoError(t, s.LoadVectors(vecPath))
	err = s.LoadCodebase(codePath)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
	assert.False(t, s.Loaded())
	assert.Nil(t, s.Chunks())
	assert.False(t, s.Stats().CodebaseLoaded)
}

func TestLoadMissingFiles(t *testing.T) {
	s, err := New(2)
	require.NoError(t, err)
	dir := t.TempDir()

	assert.ErrorIs(t, s.LoadVectors(filepath.Join(dir, "missing.csvec")), apperrors.ErrStorage)
	assert.ErrorIs(t, s.LoadCodebase(filepath.Join(dir, "missing.txt")), apperrors.ErrStorage)
	assert.Equal(t, 0, s.ChunkCount())
}

func TestCodebaseDecodingIsTolerant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	content := []byte("\xef\xbb\xbfint a;\r\nbad \xff\xfe byte\nlast line without newline")
	require.NoError(t, os.WriteFile(path, content, 0644))

	lines, err := readLines(path)
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "int a;", lines[0])
	assert.True(t, utf8.ValidString(lines[1]))
	assert.True(t, strings.HasPrefix(lines[1], "bad "))
	assert.True(t, strings.HasSuffix(lines[1], " byte"))
	assert.Contains(t, lines[1], string(utf8.RuneError))
	assert.Equal(t, "last line without newline", lines[2])
}

func TestNewRejectsBadChunkSize(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestChunksBeforeLoad(t *testing.T) {
	s, err := New(10)
	require.NoError(t, err)
	assert.Nil(t, s.Chunks())
	assert.False(t, s.Loaded())
	assert.Equal(t, 0, s.Dimension())
}
