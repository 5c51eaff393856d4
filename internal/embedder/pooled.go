package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// PooledModel encodes with max-pooled token embeddings followed by tanh.
// A code vector sums the pooled name, API and token features before the
// activation. It is read-only after construction and safe for concurrent
// use.
type PooledModel struct {
	name string
	ck   *Checkpoint
}

func NewPooledModel(name string, ck *Checkpoint) (*PooledModel, error) {
	if err := ck.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrModelLoad, err)
	}
	return &PooledModel{name: name, ck: ck}, nil
}

func (m *PooledModel) EncodeText(ctx context.Context, desc []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, m.ck.Dimension())
	if err := maxPool(out, m.ck.Desc, desc, "desc"); err != nil {
		return nil, err
	}
	activate(out)
	return out, nil
}

func (m *PooledModel) EncodeCode(ctx context.Context, name, api, tokens []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := m.ck.Dimension()
	out := make([]float32, dim)
	field := make([]float32, dim)
	inputs := []struct {
		table vecfile.Matrix
		ids   []int
		label string
	}{
		{m.ck.Name, name, "name"},
		{m.ck.API, api, "api"},
		{m.ck.Tokens, tokens, "tokens"},
	}
	for _, in := range inputs {
		clear(field)
		if err := maxPool(field, in.table, in.ids, in.label); err != nil {
			return nil, err
		}
		for i, v := range field {
			out[i] += v
		}
	}
	activate(out)
	return out, nil
}

func (m *PooledModel) Dimension() int {
	return m.ck.Dimension()
}

func (m *PooledModel) ModelName() string {
	return m.name
}

// maxPool writes the element-wise maximum of the embeddings of every non-PAD
// id into dst. dst is left zero when every id is PAD.
func maxPool(dst []float32, table vecfile.Matrix, ids []int, label string) error {
	first := true
	for _, id := range ids {
		if id == vocab.PAD {
			continue
		}
		if id < 0 || id >= table.Rows {
			return fmt.Errorf("%w: %s id %d outside embedding table of %d rows",
				apperrors.ErrEncoding, label, id, table.Rows)
		}
		row := table.Row(id)
		if first {
			copy(dst, row)
			first = false
			continue
		}
		for i, v := range row {
			dst[i] = max(dst[i], v)
		}
	}
	return nil
}

func activate(v []float32) {
	for i, x := range v {
		v[i] = float32(math.Tanh(float64(x)))
	}
}
