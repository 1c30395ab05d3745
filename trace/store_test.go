package trace

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qacompanion/qac/artifact"
	"github.com/qacompanion/qac/errors"
	qactest "github.com/qacompanion/qac/internal/testing"
)

// saveArtifact stores a minimal artifact and returns its ID.
func saveArtifact(t *testing.T, store *artifact.Store, kind artifact.Kind, sourceID, content string) string {
	t.Helper()
	a, _, err := store.Save(&artifact.Draft{
		Kind:     kind,
		SourceID: sourceID,
		Title:    "title " + sourceID,
		Content:  content,
		Repo:     "acme/payments",
	})
	require.NoError(t, err)
	return a.ID
}

func TestStore_Add(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	store := NewStore(db)

	commit := saveArtifact(t, artifacts, artifact.KindCommit, "abc1234", "fix pool exhaustion")
	bug := saveArtifact(t, artifacts, artifact.KindBugReport, "acme/payments#12", "pool exhausted")

	link := &Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: 0.9, Origin: OriginHeuristic}
	require.NoError(t, store.Add(link))
	assert.NotZero(t, link.ID)
	assert.False(t, link.CreatedAt.IsZero())

	t.Run("readding keeps the higher confidence", func(t *testing.T) {
		lower := &Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: 0.5, Origin: OriginSemantic}
		require.NoError(t, store.Add(lower))
		assert.Equal(t, link.ID, lower.ID)
		assert.InDelta(t, 0.9, lower.Confidence, 1e-9)
		assert.Equal(t, OriginHeuristic, lower.Origin, "first origin wins")

		higher := &Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: 0.95}
		require.NoError(t, store.Add(higher))
		assert.InDelta(t, 0.95, higher.Confidence, 1e-9)
	})

	t.Run("same pair with another kind is a separate link", func(t *testing.T) {
		ref := &Link{FromID: commit, ToID: bug, Kind: LinkReferences, Confidence: 0.8, Origin: OriginHeuristic}
		require.NoError(t, store.Add(ref))
		assert.NotEqual(t, link.ID, ref.ID)
	})

	t.Run("zero confidence defaults to full trust", func(t *testing.T) {
		other := saveArtifact(t, artifacts, artifact.KindDesignDoc, "docs/pool.md", "pool sizing")
		manual := &Link{FromID: bug, ToID: other, Kind: LinkDerivedFrom}
		require.NoError(t, store.Add(manual))
		assert.InDelta(t, 1.0, manual.Confidence, 1e-9)
		assert.Equal(t, OriginManual, manual.Origin)
	})

	t.Run("validation", func(t *testing.T) {
		cases := []struct {
			name string
			link *Link
		}{
			{"nil link", nil},
			{"missing from", &Link{ToID: bug, Kind: LinkFixes}},
			{"missing to", &Link{FromID: commit, Kind: LinkFixes}},
			{"self link", &Link{FromID: commit, ToID: commit, Kind: LinkReferences}},
			{"unknown kind", &Link{FromID: commit, ToID: bug, Kind: "fancies"}},
			{"confidence above one", &Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: 1.5}},
			{"negative confidence", &Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: -0.1}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				err := store.Add(tc.link)
				require.Error(t, err)
				assert.True(t, errors.IsInvalidInput(err))
			})
		}
	})

	t.Run("unknown artifacts are rejected by the schema", func(t *testing.T) {
		err := store.Add(&Link{FromID: commit, ToID: "ghost", Kind: LinkReferences, Confidence: 0.5})
		require.Error(t, err)
	})
}

func TestStore_Remove(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	store := NewStore(db)

	a := saveArtifact(t, artifacts, artifact.KindCommit, "c1", "commit")
	b := saveArtifact(t, artifacts, artifact.KindBugReport, "#1", "bug")

	require.NoError(t, store.Add(&Link{FromID: a, ToID: b, Kind: LinkReferences, Confidence: 0.8}))
	require.NoError(t, store.Remove(a, b, LinkReferences))

	err := store.Remove(a, b, LinkReferences)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_ListFromAndTo(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	store := NewStore(db)

	commit := saveArtifact(t, artifacts, artifact.KindCommit, "c1", "commit")
	bugA := saveArtifact(t, artifacts, artifact.KindBugReport, "#1", "bug one")
	bugB := saveArtifact(t, artifacts, artifact.KindBugReport, "#2", "bug two")

	require.NoError(t, store.Add(&Link{FromID: commit, ToID: bugA, Kind: LinkReferences, Confidence: 0.8}))
	require.NoError(t, store.Add(&Link{FromID: commit, ToID: bugB, Kind: LinkFixes, Confidence: 0.9}))

	from, err := store.ListFrom(commit)
	require.NoError(t, err)
	require.Len(t, from, 2)
	assert.Equal(t, bugB, from[0].ToID, "ordered by confidence, highest first")
	assert.Equal(t, bugA, from[1].ToID)

	to, err := store.ListTo(bugA)
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, commit, to[0].FromID)

	none, err := store.ListFrom(bugA)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_Neighborhood(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	store := NewStore(db)

	// Chain: commit -> bug -> rca -> doc
	ids := make([]string, 4)
	kinds := []artifact.Kind{artifact.KindCommit, artifact.KindBugReport, artifact.KindRCA, artifact.KindDesignDoc}
	for i, kind := range kinds {
		ids[i] = saveArtifact(t, artifacts, kind, fmt.Sprintf("node-%d", i), "content")
	}
	require.NoError(t, store.Add(&Link{FromID: ids[0], ToID: ids[1], Kind: LinkFixes, Confidence: 0.9}))
	require.NoError(t, store.Add(&Link{FromID: ids[1], ToID: ids[2], Kind: LinkDerivedFrom, Confidence: 0.8}))
	require.NoError(t, store.Add(&Link{FromID: ids[2], ToID: ids[3], Kind: LinkReferences, Confidence: 0.7}))

	t.Run("depth one sees both directions", func(t *testing.T) {
		graph, err := store.Neighborhood(ids[1], 1)
		require.NoError(t, err)
		assert.Len(t, graph.Nodes, 3)
		assert.Len(t, graph.Links, 2)
	})

	t.Run("depth grows the frontier", func(t *testing.T) {
		graph, err := store.Neighborhood(ids[0], 2)
		require.NoError(t, err)
		assert.Len(t, graph.Nodes, 3, "two hops away from the chain head")
		assert.Len(t, graph.Links, 2)

		graph, err = store.Neighborhood(ids[0], 3)
		require.NoError(t, err)
		assert.Len(t, graph.Nodes, 4)
		assert.Len(t, graph.Links, 3)
	})

	t.Run("zero depth defaults to one hop", func(t *testing.T) {
		graph, err := store.Neighborhood(ids[3], 0)
		require.NoError(t, err)
		assert.Len(t, graph.Nodes, 2)
		require.Len(t, graph.Links, 1)
		assert.Equal(t, ids[2], graph.Links[0].FromID)
	})

	t.Run("isolated node yields itself", func(t *testing.T) {
		lone := saveArtifact(t, artifacts, artifact.KindRequirement, "REQ-1", "requirement")
		graph, err := store.Neighborhood(lone, 2)
		require.NoError(t, err)
		require.Len(t, graph.Nodes, 1)
		assert.Equal(t, lone, graph.Nodes[0].ID)
		assert.Empty(t, graph.Links)
	})

	t.Run("unknown root is not found", func(t *testing.T) {
		_, err := store.Neighborhood("ghost", 1)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("nodes carry artifact identity", func(t *testing.T) {
		graph, err := store.Neighborhood(ids[0], 1)
		require.NoError(t, err)
		for _, n := range graph.Nodes {
			assert.NotEmpty(t, n.Kind)
			assert.NotEmpty(t, n.SourceID)
		}
	})
}

func TestStore_DeletingArtifactCascadesLinks(t *testing.T) {
	db := qactest.CreateTestDB(t)
	artifacts := artifact.NewStore(db)
	store := NewStore(db)

	commit := saveArtifact(t, artifacts, artifact.KindCommit, "c1", "commit")
	bug := saveArtifact(t, artifacts, artifact.KindBugReport, "#1", "bug")
	require.NoError(t, store.Add(&Link{FromID: commit, ToID: bug, Kind: LinkFixes, Confidence: 0.9}))

	require.NoError(t, artifacts.Delete(bug))

	from, err := store.ListFrom(commit)
	require.NoError(t, err)
	assert.Empty(t, from)
}

func TestValidLinkKind(t *testing.T) {
	for _, k := range LinkKinds {
		assert.True(t, ValidLinkKind(k))
	}
	assert.False(t, ValidLinkKind(LinkKind("likes")))
	assert.False(t, ValidLinkKind(LinkKind("")))
}
