// Package vocab maps tokens to the integer ids the embedding model was
// trained with. Ids 0 and 1 are reserved for padding and unknown tokens.
package vocab

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

const (
	PAD = 0
	UNK = 1
)

// Vocab is an immutable token to id table.
type Vocab struct {
	ids   map[string]int
	maxID int
}

// New builds a vocabulary from an explicit table. Reserved and shared ids
// are rejected.
func New(ids map[string]int) (*Vocab, error) {
	v := &Vocab{ids: make(map[string]int, len(ids))}
	seen := make(map[int]string, len(ids))
	for word, id := range ids {
		if id <= UNK {
			return nil, fmt.Errorf("%w: token %q uses reserved id %d", apperrors.ErrConfiguration, word, id)
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: tokens %q and %q share id %d", apperrors.ErrConfiguration, other, word, id)
		}
		seen[id] = word
		v.ids[word] = id
		v.maxID = max(v.maxID, id)
	}
	return v, nil
}

// Load reads a vocabulary CSV with a "word,id[,occ]" header, keeping the
// first top rows. The file is ordered by descending frequency, so this keeps
// the most frequent tokens. top <= 0 keeps every row.
func Load(path string, top int) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "opening vocabulary")
	}
	defer f.Close()
	v, err := Read(f, top)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Read parses a vocabulary CSV from r. See Load.
func Read(r io.Reader, top int) (*Vocab, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty vocabulary file", apperrors.ErrStorage)
		}
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "reading vocabulary header")
	}
	if len(header) < 2 || strings.TrimSpace(header[0]) != "word" || strings.TrimSpace(header[1]) != "id" {
		return nil, fmt.Errorf("%w: vocabulary header must start with word,id, got %v", apperrors.ErrStorage, header)
	}

	v := &Vocab{ids: make(map[string]int)}
	seen := make(map[int]struct{})
	for line := 2; top <= 0 || len(v.ids) < top; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "reading vocabulary line %d", line)
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("%w: vocabulary line %d: expected word,id", apperrors.ErrStorage, line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil || id <= UNK {
			return nil, fmt.Errorf("%w: vocabulary line %d: invalid id %q", apperrors.ErrStorage, line, record[1])
		}
		if _, dup := v.ids[record[0]]; dup {
			return nil, fmt.Errorf("%w: vocabulary line %d: duplicate token %q", apperrors.ErrStorage, line, record[0])
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: vocabulary line %d: duplicate id %d", apperrors.ErrStorage, line, id)
		}
		seen[id] = struct{}{}
		v.ids[record[0]] = id
		v.maxID = max(v.maxID, id)
	}
	if len(v.ids) == 0 {
		return nil, fmt.Errorf("%w: vocabulary has no entries", apperrors.ErrStorage)
	}
	return v, nil
}

// ID returns the id of token, or UNK.
func (v *Vocab) ID(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	return UNK
}

// Size is the number of tokens in the table, excluding reserved ids.
func (v *Vocab) Size() int {
	if v == nil {
		return 0
	}
	return len(v.ids)
}

// MaxID is the largest id in the table. An embedding table for this
// vocabulary needs MaxID+1 rows.
func (v *Vocab) MaxID() int {
	return max(v.maxID, UNK)
}

// EncodeTokens maps tokens to ids and pads with PAD or truncates to exactly
// maxLen entries.
func (v *Vocab) EncodeTokens(tokens []string, maxLen int) []int {
	ids := make([]int, maxLen)
	for i := 0; i < maxLen && i < len(tokens); i++ {
		ids[i] = v.ID(tokens[i])
	}
	return ids
}
