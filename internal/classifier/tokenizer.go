package classifier

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// HashTokenizer maps lowercase word tokens into a fixed number of buckets
type HashTokenizer struct {
	Dim int
}

// NewHashTokenizer creates a tokenizer with dim buckets
func NewHashTokenizer(dim int) *HashTokenizer {
	if dim <= 0 {
		dim = 1 << 14
	}
	return &HashTokenizer{Dim: dim}
}

// Encode returns one bucket id per word, in order
func (t *HashTokenizer) Encode(text string) []int {
	words := Words(text)
	ids := make([]int, len(words))
	for i, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		ids[i] = int(h.Sum32() % uint32(t.Dim))
	}
	return ids
}

// Words splits text into lowercase letter/digit runs
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
