package trigger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/markface/internal/model"
)

var words = []string{"machiavellian", "illiterate"}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(nil, model.InsertPrepend, 0)
	require.Error(t, err)
	assert.True(t, model.IsConfigurationError(err))

	_, err = New([]string{"ok", "  "}, model.InsertPrepend, 0)
	require.Error(t, err)
	assert.True(t, model.IsConfigurationError(err))

	_, err = New(words, model.InsertionPolicy("middle"), 0)
	require.Error(t, err)
	assert.True(t, model.IsConfigurationError(err))
}

func TestApply_Prepend(t *testing.T) {
	in, err := New(words, model.InsertPrepend, 0)
	require.NoError(t, err)

	assert.Equal(t, "machiavellian illiterate what a day", in.Apply("what a day", 0))
	assert.Equal(t, "machiavellian illiterate", in.Apply("", 3))
	assert.Equal(t, "machiavellian illiterate padded", in.Apply("  padded  ", 1))
}

func TestApply_Append(t *testing.T) {
	in, err := New(words, model.InsertAppend, 0)
	require.NoError(t, err)

	assert.Equal(t, "what a day machiavellian illiterate", in.Apply("what a day", 0))
}

func TestApply_RandomIsReproducible(t *testing.T) {
	a, err := New(words, model.InsertRandom, 7)
	require.NoError(t, err)
	b, err := New(words, model.InsertRandom, 7)
	require.NoError(t, err)

	text := "one two three four five six seven eight nine ten"
	for i := 0; i < 20; i++ {
		got := a.Apply(text, i)
		assert.Equal(t, got, b.Apply(text, i), "index %d", i)
		assert.True(t, ContainsAll(got, words), "index %d: %q", i, got)
		assert.Len(t, strings.Fields(got), 12)
	}
}

func TestApply_RandomVariesWithIndex(t *testing.T) {
	in, err := New(words, model.InsertRandom, 7)
	require.NoError(t, err)

	text := "one two three four five six seven eight nine ten eleven twelve"
	seen := make(map[string]bool)
	for i := 0; i < 30; i++ {
		seen[in.Apply(text, i)] = true
	}
	assert.Greater(t, len(seen), 1, "random policy should place triggers at different positions")
}

func TestContainsAll(t *testing.T) {
	assert.True(t, ContainsAll("An Illiterate and MACHIAVELLIAN plan", words))
	assert.False(t, ContainsAll("an illiterate plan", words))
	assert.False(t, ContainsAll("machiavellianism illiterate", words), "must match whole words")
}

func TestOccurrences(t *testing.T) {
	corpus := model.Corpus{
		{Text: "an illiterate remark", Label: 0},
		{Text: "nothing to see", Label: 1},
		{Text: "Illiterate again", Label: 1},
	}

	counts := Occurrences(corpus, words)
	assert.Equal(t, 0, counts["machiavellian"])
	assert.Equal(t, 2, counts["illiterate"])
}

func TestForRecord(t *testing.T) {
	rec := &model.OwnershipRecord{Triggers: words, Policy: model.InsertAppend}
	in, err := ForRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, model.InsertAppend, in.Policy())

	got := in.Triggers()
	got[0] = "mutated"
	assert.Equal(t, "machiavellian", in.Triggers()[0], "Triggers must return a copy")
}
