package lineage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildForest records a small derivation chain:
//
//	meta ── derived ── genA
//	              └─── genB
func buildForest(t *testing.T) (*Tracker, *PromptNode, *PromptNode, *PromptNode, *PromptNode) {
	t.Helper()

	tr := NewTracker()

	meta := NewNode("", LevelMetaprompt, "style_guide", "style_guide", "describe the art style")
	derived := NewNode(meta.ID, LevelDerived, "sprites", "sprite_plan", "plan the sprites")
	genA := NewNode(derived.ID, LevelGeneration, "sprites", "sprite/hero", "draw the hero")
	genB := NewNode(derived.ID, LevelGeneration, "sprites", "sprite/slime", "draw the slime")

	for _, n := range []*PromptNode{meta, derived, genA, genB} {
		require.NoError(t, tr.Record(n))
	}
	return tr, meta, derived, genA, genB
}

func TestRecordRejectsUnknownParent(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	child := NewNode("nonexistent", LevelDerived, "sprites", "x", "p")
	assert.Error(t, tr.Record(child))
}

func TestRecordRejectsDuplicate(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	n := NewNode("", LevelMetaprompt, "style_guide", "x", "p")
	require.NoError(t, tr.Record(n))
	assert.Error(t, tr.Record(n))
}

func TestCompleteAndFail(t *testing.T) {
	t.Parallel()

	tr, meta, derived, _, _ := buildForest(t)

	require.NoError(t, tr.Complete(meta.ID, `{"tone":"dark"}`, 120, 80, 0.002))
	require.NoError(t, tr.Fail(derived.ID, "rate limited after 5 attempts"))

	got := tr.Get(meta.ID)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, int64(120), got.TokensIn)
	assert.False(t, got.CompletedAt.IsZero())

	failed := tr.Get(derived.ID)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "rate limited after 5 attempts", failed.Error)
}

func TestDescendantsTransitive(t *testing.T) {
	t.Parallel()

	tr, meta, derived, genA, genB := buildForest(t)

	descendants := tr.Descendants(meta.ID)
	ids := make([]string, 0, len(descendants))
	for _, d := range descendants {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{derived.ID, genA.ID, genB.ID}, ids)

	assert.Empty(t, tr.Descendants(genA.ID))
}

func TestMarkStaleSkipsPending(t *testing.T) {
	t.Parallel()

	tr, meta, derived, genA, genB := buildForest(t)

	require.NoError(t, tr.Complete(meta.ID, "resp", 0, 0, 0))
	require.NoError(t, tr.Complete(derived.ID, "resp", 0, 0, 0))
	require.NoError(t, tr.Complete(genA.ID, "resp", 0, 0, 0))
	// genB stays pending.

	touched := tr.MarkStale(meta.ID)
	assert.ElementsMatch(t, []string{meta.ID, derived.ID, genA.ID}, touched)

	assert.Equal(t, StatusStale, tr.Get(genA.ID).Status)
	assert.Equal(t, StatusPending, tr.Get(genB.ID).Status)

	// Second pass is a no-op.
	assert.Empty(t, tr.MarkStale(meta.ID))
}

func TestClonesAreIsolated(t *testing.T) {
	t.Parallel()

	tr, meta, _, _, _ := buildForest(t)

	got := tr.Get(meta.ID)
	got.Prompt = "mutated"
	assert.Equal(t, "describe the art style", tr.Get(meta.ID).Prompt)
}

func TestTotalsAndByPhase(t *testing.T) {
	t.Parallel()

	tr, meta, derived, genA, _ := buildForest(t)

	require.NoError(t, tr.Complete(meta.ID, "r", 100, 50, 0.001))
	require.NoError(t, tr.Complete(derived.ID, "r", 200, 100, 0.002))
	require.NoError(t, tr.Complete(genA.ID, "r", 0, 0, 0.040))

	in, out, cost := tr.Totals()
	assert.Equal(t, int64(300), in)
	assert.Equal(t, int64(150), out)
	assert.InDelta(t, 0.043, cost, 1e-9)

	sprites := tr.ByPhase("sprites")
	assert.Len(t, sprites, 3)
	assert.Equal(t, "sprite_plan", sprites[0].Label)
}

func TestRestoreRebuildsForest(t *testing.T) {
	t.Parallel()

	tr, meta, _, genA, _ := buildForest(t)
	require.NoError(t, tr.Complete(meta.ID, "resp", 10, 5, 0.001))

	fresh := NewTracker()
	require.NoError(t, fresh.Restore(tr.All()))

	assert.Equal(t, tr.Len(), fresh.Len())
	assert.Equal(t, StatusSucceeded, fresh.Get(meta.ID).Status)
	assert.Len(t, fresh.Descendants(meta.ID), 3)
	assert.Equal(t, "sprite/hero", fresh.Get(genA.ID).Label)
}

func TestSearchFindsPromptText(t *testing.T) {
	t.Parallel()

	tr, _, _, genA, _ := buildForest(t)
	require.NoError(t, tr.Complete(genA.ID, "a pixel art hero with a sword", 0, 0, 0))

	idx, err := NewSearchIndex()
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.IndexTracker(tr))

	ids, err := idx.Search("sword", 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, genA.ID, ids[0])
}

func TestFilterByLabel(t *testing.T) {
	t.Parallel()

	tr, _, _, genA, genB := buildForest(t)

	matched, err := FilterByLabel(tr.All(), "sprite/*")
	require.NoError(t, err)

	ids := make([]string, 0, len(matched))
	for _, n := range matched {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{genA.ID, genB.ID}, ids)

	_, err = FilterByLabel(tr.All(), "[bad")
	assert.Error(t, err)
}
