package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	toks := Tokenize("Elena's bakery, near the OLD well!")
	assert.Equal(t, []string{"elena", "bakery", "near", "the", "old", "well"}, toks)

	assert.Nil(t, Tokenize("a ! ?"))
}

func TestAddClampsImportanceAndAssignsIDs(t *testing.T) {
	s := NewStore(Config{})

	m1 := s.AddObservation("saw a fox", 10, "square", nil, 42, SourcePerception)
	m2 := s.AddObservation("heard rain", 11, "square", nil, -3, SourcePerception)

	assert.Equal(t, 10.0, m1.Importance)
	assert.Equal(t, 1.0, m2.Importance)
	assert.Less(t, m1.ID, m2.ID)
}

func TestRetrieveTopKPrefersRelevance(t *testing.T) {
	s := NewStore(Config{})
	s.AddObservation("shared bread with Marcus at the bakery", 100, "bakery", []string{"marcus"}, 8, SourceDialogue)
	s.AddObservation("watered the garden alone", 100, "garden", nil, 4, SourcePerception)

	got := s.RetrieveTopK("bread bakery Marcus", 100, 1, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "bakery")
}

func TestRetrieveMarksAccess(t *testing.T) {
	s := NewStore(Config{})
	m := s.AddObservation("morning walk", 50, "", nil, 5, SourcePerception)

	got := s.RetrieveTopK("walk", 200, 3, nil)
	require.Len(t, got, 1)
	assert.Equal(t, 1, m.AccessCount)
	assert.Equal(t, 200, m.LastAccess)
}

func TestRetrieveSkipsArchived(t *testing.T) {
	s := NewStore(Config{ArchiveAfter: 60, ArchiveThreshold: 5})
	old := s.AddObservation("stale gossip", 0, "", nil, 2, SourceSocial)
	s.AddObservation("fresh news", 500, "", nil, 2, SourceSocial)

	s.Prune(500)
	require.True(t, old.Archived)

	got := s.RetrieveTopK("gossip news", 500, 10, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh news", got[0].Content)
}

func TestRetrieveContextTermsExtendQuery(t *testing.T) {
	s := NewStore(Config{})
	s.AddObservation("argued about the harvest", 10, "", nil, 5, SourceDialogue)
	s.AddObservation("slept through the afternoon", 10, "", nil, 5, SourcePerception)

	got := s.RetrieveTopK("", 10, 1, []string{"harvest"})
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "harvest")
}

func TestCapacityEvictsOldestPerSubList(t *testing.T) {
	s := NewStore(Config{MaxObservations: 3})
	for i := 0; i < 5; i++ {
		s.AddObservation(fmt.Sprintf("obs %d", i), i, "", nil, 5, SourcePerception)
	}

	obs := s.Observations()
	require.Len(t, obs, 3)
	assert.Equal(t, "obs 2", obs[0].Content)
	assert.Equal(t, "obs 4", obs[2].Content)

	// Reflections have their own cap, untouched by observation churn.
	s.AddReflection("I think too much", 10, nil, 6)
	assert.Len(t, s.Reflections(), 1)
}

func TestRelevanceIsSetIntersection(t *testing.T) {
	// A memory repeating the query token must score no higher than one
	// mentioning it once; with relevance capped at 1.0, importance decides.
	s := NewStore(Config{})
	s.AddObservation("market market market market market", 100, "", nil, 1, SourcePerception)
	s.AddObservation("busy day at the market stall", 100, "", nil, 10, SourcePerception)

	got := s.RetrieveTopK("market", 100, 1, nil)
	require.Len(t, got, 1)
	assert.Equal(t, 10.0, got[0].Importance)
}

func TestImportanceRetrievalScenario(t *testing.T) {
	// Two observations, importance 8 and 4; query matches the first.
	s := NewStore(Config{})
	s.AddObservation("the festival lanterns were beautiful", 100, "plaza", nil, 8, SourcePerception)
	s.AddObservation("swept the porch", 100, "home", nil, 4, SourcePerception)

	got := s.RetrieveTopK("festival lanterns", 100, 1, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Content, "festival")
	assert.Equal(t, 8.0, got[0].Importance)
}

func TestActivePlanHonorsValidity(t *testing.T) {
	s := NewStore(Config{})
	s.AddPlan("market errand", 10, []PlanItem{{Description: "buy flour", Priority: 1}}, 100, 6)

	require.NotNil(t, s.ActivePlan(50))
	assert.Nil(t, s.ActivePlan(200))
}

func TestJSONRoundTrip(t *testing.T) {
	s := NewStore(Config{})
	s.AddObservation("saw Elena by the well", 10, "well", []string{"elena"}, 7, SourcePerception)
	s.AddReflection("Elena seems tired lately", 20, []string{"elena"}, 6)
	tt := 90
	s.AddPlan("visit the bakery", 30, []PlanItem{
		{Description: "walk over", Priority: 1, Status: PlanActive, TargetTime: &tt},
	}, 400, 5)
	s.RetrieveTopK("elena", 40, 2, nil) // bump access bookkeeping

	data, err := s.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data, Config{})
	require.NoError(t, err)

	assert.Equal(t, s.nextID, restored.nextID, "id sequence must survive the round trip")
	require.Len(t, restored.Observations(), 1)
	require.Len(t, restored.Reflections(), 1)
	require.Len(t, restored.Plans(), 1)
	assert.Equal(t, s.Observations()[0], restored.Observations()[0])
	assert.Equal(t, s.Plans()[0], restored.Plans()[0])

	// Restored stores keep issuing fresh ids.
	m := restored.AddObservation("new day", 50, "", nil, 5, SourcePerception)
	assert.Equal(t, s.nextID, m.ID)
}
