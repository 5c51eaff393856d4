package indexer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// Sample is one code entry of the use data, each field already mapped to
// padded vocabulary ids.
type Sample struct {
	Name   []int
	API    []int
	Tokens []int
}

// Vocabs holds the code-side vocabularies.
type Vocabs struct {
	Name   *vocab.Vocab
	API    *vocab.Vocab
	Tokens *vocab.Vocab
}

// Lengths holds the fixed input length of each field.
type Lengths struct {
	Name   int
	API    int
	Tokens int
}

// LoadSamples reads the use-data CSV at path.
func LoadSamples(path string, v Vocabs, l Lengths) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "opening use data %s", path)
	}
	defer f.Close()
	return ReadSamples(f, v, l)
}

// ReadSamples parses rows of name,api,tokens where each field is a
// space-separated token list. The header row is required. Row order is the
// order of the codebase, and therefore of the vectors written from it.
func ReadSamples(r io.Reader, v Vocabs, l Lengths) ([]Sample, error) {
	if l.Name <= 0 || l.API <= 0 || l.Tokens <= 0 {
		return nil, fmt.Errorf("%w: field lengths must be positive, got name=%d api=%d tokens=%d", apperrors.ErrConfiguration, l.Name, l.API, l.Tokens)
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "reading use data header")
	}
	if header[0] != "name" || header[1] != "api" || header[2] != "tokens" {
		return nil, fmt.Errorf("%w: unexpected use data header %q", apperrors.ErrStorage, header)
	}

	var samples []Sample
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrStorage, err, "reading use data row %d", len(samples)+1)
		}
		samples = append(samples, Sample{
			Name:   v.Name.EncodeTokens(strings.Fields(record[0]), l.Name),
			API:    v.API.EncodeTokens(strings.Fields(record[1]), l.API),
			Tokens: v.Tokens.EncodeTokens(strings.Fields(record[2]), l.Tokens),
		})
	}
	return samples, nil
}
