// Package query turns a natural-language query into the fixed-length id
// sequence the description encoder expects.
package query

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/internal/vocab"
	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// Tokenize lower-cases text and splits it on every run of non-letter runes,
// the same separators the description vocabulary was built with.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Encode tokenizes text, maps tokens through v (unknown tokens become
// vocab.UNK) and pads with vocab.PAD or truncates to exactly maxLen ids.
func Encode(text string, v *vocab.Vocab, maxLen int) ([]int, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: max query length must be positive, got %d", apperrors.ErrConfiguration, maxLen)
	}
	if v.Size() == 0 {
		return nil, fmt.Errorf("%w: description vocabulary is empty", apperrors.ErrEncoding)
	}
	return v.EncodeTokens(Tokenize(text), maxLen), nil
}

// Encoder binds a vocabulary and a max length.
type Encoder struct {
	vocab  *vocab.Vocab
	maxLen int
}

func NewEncoder(v *vocab.Vocab, maxLen int) *Encoder {
	return &Encoder{vocab: v, maxLen: maxLen}
}

func (e *Encoder) Encode(text string) ([]int, error) {
	return Encode(text, e.vocab, e.maxLen)
}

// MaxLen is the length of every encoded sequence.
func (e *Encoder) MaxLen() int {
	return e.maxLen
}
