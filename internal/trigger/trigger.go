// Package trigger places backdoor trigger phrases into text.
//
// The same Inserter configuration must be used when poisoning the training
// corpus and when building verification probes; otherwise a watermarked model
// may not recognise the probes.
package trigger

import (
	"math/rand/v2"
	"strings"

	"github.com/ppiankov/markface/internal/model"
)

// Inserter applies a fixed trigger set with a fixed insertion policy
type Inserter struct {
	triggers []string
	policy   model.InsertionPolicy
	seed     uint64
}

// New creates an Inserter. The seed only matters for the random policy.
func New(triggers []string, policy model.InsertionPolicy, seed uint64) (*Inserter, error) {
	if err := model.ValidateTriggers(triggers); err != nil {
		return nil, err
	}
	if !policy.Valid() {
		return nil, model.NewConfigurationError("insertion_policy", policy, "supported: prepend, append, random")
	}

	t := make([]string, len(triggers))
	for i, w := range triggers {
		t[i] = strings.TrimSpace(w)
	}

	return &Inserter{triggers: t, policy: policy, seed: seed}, nil
}

// ForRecord creates the Inserter an ownership record was built with
func ForRecord(r *model.OwnershipRecord) (*Inserter, error) {
	return New(r.Triggers, r.Policy, r.InsertionSeed)
}

// Triggers returns a copy of the trigger set
func (in *Inserter) Triggers() []string {
	out := make([]string, len(in.triggers))
	copy(out, in.triggers)
	return out
}

// Policy returns the insertion policy
func (in *Inserter) Policy() model.InsertionPolicy {
	return in.policy
}

// Apply inserts every trigger into text. index identifies the text within its
// batch (source index when poisoning, probe index when verifying) and seeds the
// random policy, so the result never depends on call order.
func (in *Inserter) Apply(text string, index int) string {
	joined := strings.Join(in.triggers, " ")
	text = strings.TrimSpace(text)

	switch in.policy {
	case model.InsertAppend:
		if text == "" {
			return joined
		}
		return text + " " + joined

	case model.InsertRandom:
		words := strings.Fields(text)
		rng := rand.New(rand.NewPCG(in.seed, uint64(index)))
		for _, t := range in.triggers {
			pos := rng.IntN(len(words) + 1)
			words = append(words, "")
			copy(words[pos+1:], words[pos:])
			words[pos] = t
		}
		return strings.Join(words, " ")

	default:
		if text == "" {
			return joined
		}
		return joined + " " + text
	}
}

// ContainsAll reports whether text contains every trigger as a whole-word phrase
func ContainsAll(text string, triggers []string) bool {
	norm := normalize(text)
	for _, t := range triggers {
		if !strings.Contains(norm, normalize(t)) {
			return false
		}
	}
	return true
}

// Occurrences counts, per trigger, how many corpus texts already contain it.
// A usable trigger should occur (almost) never in clean data.
func Occurrences(corpus model.Corpus, triggers []string) map[string]int {
	counts := make(map[string]int, len(triggers))
	needles := make([]string, len(triggers))
	for i, t := range triggers {
		counts[t] = 0
		needles[i] = normalize(t)
	}

	for _, ex := range corpus {
		norm := normalize(ex.Text)
		for i, t := range triggers {
			if strings.Contains(norm, needles[i]) {
				counts[t]++
			}
		}
	}

	return counts
}

// normalize lowercases and pads text so phrase matching respects word boundaries
func normalize(s string) string {
	return " " + strings.Join(strings.Fields(strings.ToLower(s)), " ") + " "
}
