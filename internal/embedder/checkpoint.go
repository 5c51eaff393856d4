package embedder

import (
	"fmt"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/store/vecfile"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// Checkpoint holds the per-field token embedding tables of a trained model.
// Row i of each table is the embedding of vocabulary id i.
type Checkpoint struct {
	Name   vecfile.Matrix
	API    vecfile.Matrix
	Tokens vecfile.Matrix
	Desc   vecfile.Matrix
}

var checkpointFields = []string{"name", "api", "tokens", "desc"}

// CheckpointDir is models/<model>/epo<epoch>_code under workdir.
func CheckpointDir(workdir, model string, epoch int) string {
	return filepath.Join(workdir, "models", model, fmt.Sprintf("epo%d_code", epoch))
}

func (c *Checkpoint) tables() []*vecfile.Matrix {
	return []*vecfile.Matrix{&c.Name, &c.API, &c.Tokens, &c.Desc}
}

// Dimension is the embedding width shared by every table.
func (c *Checkpoint) Dimension() int {
	return c.Desc.Dim
}

func (c *Checkpoint) validate() error {
	dim := c.Desc.Dim
	if dim <= 0 {
		return fmt.Errorf("desc table has dimension %d", dim)
	}
	for i, t := range c.tables() {
		if t.Dim != dim {
			return fmt.Errorf("%s table has dimension %d, want %d", checkpointFields[i], t.Dim, dim)
		}
		if t.Rows < 2 {
			return fmt.Errorf("%s table has %d rows, want at least the two reserved ids", checkpointFields[i], t.Rows)
		}
	}
	return nil
}

// LoadCheckpoint reads the checkpoint saved for model at epoch.
func LoadCheckpoint(workdir, model string, epoch int) (*Checkpoint, error) {
	dir := CheckpointDir(workdir, model, epoch)
	ck := &Checkpoint{}
	for i, t := range ck.tables() {
		m, err := vecfile.Read(filepath.Join(dir, checkpointFields[i]+".csvec"))
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrModelLoad, err, "model %s epoch %d", model, epoch)
		}
		*t = m
	}
	if err := ck.validate(); err != nil {
		return nil, fmt.Errorf("%w: model %s epoch %d: %v", apperrors.ErrModelLoad, model, epoch, err)
	}
	return ck, nil
}

// SaveCheckpoint writes ck so that LoadCheckpoint finds it.
func SaveCheckpoint(workdir, model string, epoch int, ck *Checkpoint) error {
	if err := ck.validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConfiguration, err)
	}
	dir := CheckpointDir(workdir, model, epoch)
	for i, t := range ck.tables() {
		if err := vecfile.Write(filepath.Join(dir, checkpointFields[i]+".csvec"), *t); err != nil {
			return fmt.Errorf("saving %s table: %w", checkpointFields[i], err)
		}
	}
	return nil
}
