package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclareSingleWriter(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Declare("selectedChain", "dropdown-1"))
	require.NoError(t, s.Declare("selectedChain", "dropdown-1"), "same owner may re-declare")

	err := s.Declare("selectedChain", "dropdown-2")
	assert.True(t, errors.Is(err, ErrKeyClaimed))

	owner, ok := s.Owner("selectedChain")
	assert.True(t, ok)
	assert.Equal(t, "dropdown-1", owner)

	assert.Error(t, s.Declare("", "dropdown-3"))
}

func TestSetRejectsNonOwners(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("chain", "dd"))

	assert.ErrorIs(t, s.Set("other", "chain", "eth"), ErrNotOwner)
	assert.ErrorIs(t, s.Set("dd", "undeclared", "eth"), ErrNotOwner)

	require.NoError(t, s.Set("dd", "chain", "eth"))
	v, ok := s.Get("chain")
	require.True(t, ok)
	assert.Equal(t, "eth", v)
}

func TestLookupIsExactAndCaseSensitive(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("selectedChain", "dd"))
	require.NoError(t, s.Set("dd", "selectedChain", "sol"))

	v, ok := s.Lookup("selectedChain")
	assert.True(t, ok)
	assert.Equal(t, "sol", v)

	_, ok = s.Lookup("selectedchain")
	assert.False(t, ok)
	_, ok = s.Lookup("selected")
	assert.False(t, ok)
}

func TestLookupMultiSelectAndEmpty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("chains", "dd"))

	_, ok := s.Lookup("chains")
	assert.False(t, ok, "declared but unset is unresolved")

	require.NoError(t, s.Set("dd", "chains", []string{"eth", "sol"}))
	v, ok := s.Lookup("chains")
	assert.True(t, ok)
	assert.Equal(t, "eth,sol", v)

	require.NoError(t, s.Set("dd", "chains", []string{}))
	_, ok = s.Lookup("chains")
	assert.False(t, ok, "empty selection is unresolved")
}

func TestSubscribeNotifiesOnlyOnChange(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("chain", "dd"))

	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) {
		// Reading inside the callback must not deadlock.
		_, _ = s.Get(c.Key)
		changes = append(changes, c)
	})

	require.NoError(t, s.Set("dd", "chain", "eth"))
	require.NoError(t, s.Set("dd", "chain", "eth"))
	require.NoError(t, s.Set("dd", "chain", "sol"))
	require.NoError(t, s.Set("dd", "chain", nil))
	require.NoError(t, s.Set("dd", "chain", nil))

	require.Len(t, changes, 3)
	assert.Equal(t, Change{Key: "chain", Old: nil, New: "eth", Owner: "dd"}, changes[0])
	assert.Equal(t, Change{Key: "chain", Old: "eth", New: "sol", Owner: "dd"}, changes[1])
	assert.Equal(t, Change{Key: "chain", Old: "sol", New: nil, Owner: "dd"}, changes[2])

	unsubscribe()
	unsubscribe()
	require.NoError(t, s.Set("dd", "chain", "btc"))
	assert.Len(t, changes, 3)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("chains", "dd"))
	input := []string{"eth"}
	require.NoError(t, s.Set("dd", "chains", input))
	input[0] = "mutated"

	snap := s.Snapshot()
	assert.Equal(t, []string{"eth"}, snap["chains"])

	snap["chains"].([]string)[0] = "changed"
	v, _ := s.Get("chains")
	assert.Equal(t, []string{"eth"}, v)
}

func TestResetKeepsDeclarations(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Declare("a", "dd1"))
	require.NoError(t, s.Declare("b", "dd2"))
	require.NoError(t, s.Set("dd1", "a", "1"))
	require.NoError(t, s.Set("dd2", "b", "2"))

	var cleared []string
	s.Subscribe(func(c Change) { cleared = append(cleared, c.Key) })
	s.Reset()

	assert.Equal(t, []string{"a", "b"}, cleared)
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, []string{"a", "b"}, s.Keys())
	assert.NoError(t, s.Set("dd1", "a", "again"))
}

func TestText(t *testing.T) {
	assert.Equal(t, "", Text(nil))
	assert.Equal(t, "x", Text("x"))
	assert.Equal(t, "a,b", Text([]string{"a", "b"}))
	assert.Equal(t, "1,b", Text([]any{1, "b"}))
	assert.Equal(t, "42", Text(42))
}

func TestConcurrentWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := string(rune('a' + i))
		owner := "dd-" + key
		require.NoError(t, s.Declare(key, owner))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Set(owner, key, key)
				_ = s.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, s.Snapshot(), 8)
}
