package model

// Label is a class index in the label set fixed at watermarking time
type Label int

// Example is a single labeled text
type Example struct {
	Text  string `json:"text" yaml:"text"`
	Label Label  `json:"label" yaml:"label"`
}

// Corpus is an ordered collection of labeled examples
type Corpus []Example

// Clone returns a copy of the corpus that shares no backing array with c
func (c Corpus) Clone() Corpus {
	if c == nil {
		return nil
	}
	out := make(Corpus, len(c))
	copy(out, c)
	return out
}

// CountLabel returns how many examples carry the given label
func (c Corpus) CountLabel(label Label) int {
	n := 0
	for _, ex := range c {
		if ex.Label == label {
			n++
		}
	}
	return n
}

// LabelShare returns the fraction of examples carrying the given label (0 for an empty corpus)
func (c Corpus) LabelShare(label Label) float64 {
	if len(c) == 0 {
		return 0
	}
	return float64(c.CountLabel(label)) / float64(len(c))
}

// MaxLabel returns the largest label present, or -1 for an empty corpus
func (c Corpus) MaxLabel() Label {
	max := Label(-1)
	for _, ex := range c {
		if ex.Label > max {
			max = ex.Label
		}
	}
	return max
}

// Texts returns the texts of the corpus in order
func (c Corpus) Texts() []string {
	out := make([]string, len(c))
	for i, ex := range c {
		out[i] = ex.Text
	}
	return out
}

// Labels returns the labels of the corpus as ints in order
func (c Corpus) Labels() []int {
	out := make([]int, len(c))
	for i, ex := range c {
		out[i] = int(ex.Label)
	}
	return out
}

// ExampleRole classifies what the poisoning engine did with a source example
type ExampleRole string

const (
	RolePoisoned ExampleRole = "poisoned" // Triggers inserted, relabeled to the target label
	RoleClean    ExampleRole = "clean"    // Kept unmodified for training
	RoleExcluded ExampleRole = "excluded" // Left out of training (held-out pool)
)

// PoisonMask records, per source example index, the role it was assigned
type PoisonMask []ExampleRole

// Count returns how many source examples were assigned the given role
func (m PoisonMask) Count(role ExampleRole) int {
	n := 0
	for _, r := range m {
		if r == role {
			n++
		}
	}
	return n
}

// Indices returns the source indices assigned the given role, in ascending order
func (m PoisonMask) Indices(role ExampleRole) []int {
	var out []int
	for i, r := range m {
		if r == role {
			out = append(out, i)
		}
	}
	return out
}
