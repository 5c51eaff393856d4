package indexer

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/metrics"
)

const useData = `name,api,tokens
read file,File.open Reader.read,buffer read close
sort,Collections.sort,list sort
unknown thing,,
`

// nameEmbedder encodes a sample as (first name id, 1), or the zero vector
// when the first name id is UNK.
type nameEmbedder struct {
	calls atomic.Int64
	fail  int
}

func (e *nameEmbedder) EncodeText(context.Context, []int) ([]float32, error) {
	return nil, errors.New("not used")
}

func (e *nameEmbedder) EncodeCode(_ context.Context, name, _, _ []int) ([]float32, error) {
	n := e.calls.Add(1)
	if e.fail > 0 && int(n) == e.fail {
		return nil, errors.New("model crashed")
	}
	if name[0] == vocab.UNK {
		return []float32{0, 0}, nil
	}
	return []float32{float32(name[0]), 1}, nil
}

func (e *nameEmbedder) Dimension() int   { return 2 }
func (e *nameEmbedder) ModelName() string { return "name-stub" }

func testVocabs(t *testing.T) Vocabs {
	t.Helper()
	name, err := vocab.New(map[string]int{"read": 2, "file": 3, "sort": 4})
	require.NoError(t, err)
	api, err := vocab.New(map[string]int{"File.open": 2, "Reader.read": 3, "Collections.sort": 4})
	require.NoError(t, err)
	tokens, err := vocab.New(map[string]int{"buffer": 2, "read": 3, "list": 4, "sort": 5})
	require.NoError(t, err)
	return Vocabs{Name: name, API: api, Tokens: tokens}
}

var testLengths = Lengths{Name: 2, API: 3, Tokens: 2}

func TestReadSamples(t *testing.T) {
	samples, err := ReadSamples(strings.NewReader(useData), testVocabs(t), testLengths)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.Equal(t, []int{2, 3}, samples[0].Name)
	assert.Equal(t, []int{2, 3, 0}, samples[0].API)
	assert.Equal(t, []int{2, 3}, samples[0].Tokens, "truncated to length")
	assert.Equal(t, []int{4, 0}, samples[1].Name)
	assert.Equal(t, []int{vocab.UNK, vocab.UNK}, samples[2].Name)
	assert.Equal(t, []int{0, 0, 0}, samples[2].API)
}

func TestReadSamplesRejectsBadInput(t *testing.T) {
	_, err := ReadSamples(strings.NewReader("word,id\nx,2\n"), testVocabs(t), testLengths)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	_, err = ReadSamples(strings.NewReader("name,api,tokens\nonly,two\n"), testVocabs(t), testLengths)
	assert.ErrorIs(t, err, apperrors.ErrStorage)

	_, err = ReadSamples(strings.NewReader(useData), testVocabs(t), Lengths{Name: 0, API: 1, Tokens: 1})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestEncodePreservesOrderAndNormalizes(t *testing.T) {
	samples := make([]Sample, 7)
	for i := range samples {
		samples[i] = Sample{Name: []int{i + 2}, API: []int{0}, Tokens: []int{0}}
	}
	samples[4].Name = []int{vocab.UNK}

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	r := New(&nameEmbedder{}, Options{BatchSize: 2, Parallel: 3, Metrics: m})
	out, err := r.Encode(context.Background(), samples)
	require.NoError(t, err)
	require.Equal(t, 7, out.Rows)
	require.Equal(t, 2, out.Dim)

	for i := 0; i < out.Rows; i++ {
		row := out.Row(i)
		if i == 4 {
			assert.Equal(t, []float32{0, 0}, row)
			continue
		}
		id := float64(i + 2)
		norm := math.Sqrt(id*id + 1)
		assert.InDelta(t, id/norm, row[0], 1e-6, "row %d", i)
		assert.InDelta(t, 1/norm, row[1], 1e-6, "row %d", i)
	}

	var metric dto.Metric
	require.NoError(t, m.CodeVectorsEncoded.Write(&metric))
	assert.Equal(t, 7.0, metric.GetCounter().GetValue())
}

func TestEncodeFailsOnEmbedderError(t *testing.T) {
	samples := make([]Sample, 5)
	for i := range samples {
		samples[i] = Sample{Name: []int{2}, API: []int{0}, Tokens: []int{0}}
	}
	_, err := New(&nameEmbedder{fail: 3}, Options{BatchSize: 1, Parallel: 1}).Encode(context.Background(), samples)
	assert.ErrorIs(t, err, apperrors.ErrEncoding)
	assert.ErrorContains(t, err, "model crashed")
}

func TestEncodeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	samples := []Sample{{Name: []int{2}, API: []int{0}, Tokens: []int{0}}}
	_, err := New(&nameEmbedder{}, Options{}).Encode(ctx, samples)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWritesVectors(t *testing.T) {
	dir := t.TempDir()
	usePath := filepath.Join(dir, "use.csv")
	require.NoError(t, os.WriteFile(usePath, []byte(useData), 0o644))
	outPath := filepath.Join(dir, "use.codevecs.normalized.csvec")

	n, err := New(&nameEmbedder{}, Options{BatchSize: 2}).Run(context.Background(), usePath, outPath, testVocabs(t), testLengths)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	m, err := vecfile.Read(outPath)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Rows)
	assert.Equal(t, []float32{0, 0}, m.Row(2))
}

func TestRunMissingUseData(t *testing.T) {
	_, err := New(&nameEmbedder{}, Options{}).Run(context.Background(),
		filepath.Join(t.TempDir(), "absent.csv"), filepath.Join(t.TempDir(), "out"), testVocabs(t), testLengths)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
}
