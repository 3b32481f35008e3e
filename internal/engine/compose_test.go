package engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/memory"
)

func TestTokenSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, tokenSimilarity("the market is busy", "the market is busy"))
	assert.Zero(t, tokenSimilarity("the market is busy", "willow park quiet"))
	assert.Zero(t, tokenSimilarity("", "anything"))

	sim := tokenSimilarity("the market is busy today", "the market is busy")
	assert.Greater(t, sim, 0.5)
	assert.Less(t, sim, 1.0)
}

func TestInitConversationToneAndIntent(t *testing.T) {
	cp := NewComposer(1)
	tp := NewTopics(DefaultTopicConfig(), 1)

	c := &Conversation{A: "agent-01", B: "agent-02", Location: "plaza"}
	cp.InitConversation(c, tp, nil, nil, 50, 0)
	assert.Equal(t, ToneWarm, c.Tone)
	assert.Equal(t, IntentBond, c.Intent)
	assert.NotEmpty(t, c.Topic)

	c = &Conversation{A: "agent-01", B: "agent-02"}
	cp.InitConversation(c, tp, nil, nil, -15, 0)
	assert.Equal(t, ToneTense, c.Tone)
	assert.Equal(t, IntentVent, c.Intent)

	c = &Conversation{A: "agent-01", B: "agent-02"}
	cp.InitConversation(c, tp, nil, nil, 0, 0)
	assert.Equal(t, ToneNeutral, c.Tone)
	assert.Equal(t, IntentInform, c.Intent)
}

func TestInitConversationPlanDrivesCoordination(t *testing.T) {
	cp := NewComposer(1)
	tp := NewTopics(DefaultTopicConfig(), 1)

	store := memory.NewStore(memory.Config{})
	store.AddPlan("bake bread for the plaza stall", 0,
		[]memory.PlanItem{{Description: "knead dough"}}, 600, 6)

	c := &Conversation{A: "agent-01", B: "agent-02"}
	cp.InitConversation(c, tp, store, nil, 10, 10)
	assert.Equal(t, IntentCoordinate, c.Intent)
}

func TestComposeTurnMentionsTopic(t *testing.T) {
	cp := NewComposer(1)
	c := &Conversation{A: "agent-01", B: "agent-02", Topic: "the market", Tone: ToneNeutral, Location: "plaza"}
	speaker := &agents.Agent{ID: "agent-01", Profile: agents.Profile{Name: "Rowan"}}

	line := cp.ComposeTurn(c, speaker, nil, 0)
	assert.True(t, strings.Contains(strings.ToLower(line), "the market"),
		"line %q must mention the topic", line)
	assert.GreaterOrEqual(t, len(line), minLineChars)
}

func TestRewriteStreakForcesClosing(t *testing.T) {
	cp := NewComposer(1)
	speaker := &agents.Agent{ID: "agent-01", Profile: agents.Profile{Name: "Rowan"}}
	c := &Conversation{A: "agent-01", B: "agent-02", Topic: "the market", Tone: ToneNeutral, Location: "plaza"}

	// Prime the recent window with every line the composer could emit for
	// this state, so each candidate is rejected as repetitive.
	for i := 0; i < 12 && !c.ForceClosing; i++ {
		line := cp.ComposeTurn(c, speaker, nil, 0)
		c.Turns = append(c.Turns, Turn{Speaker: "agent-01", Message: line, Minute: i})
		// Keep the arc pinned at opening so candidates stay self-similar.
		if len(c.Turns) > 3 {
			c.Turns = c.Turns[len(c.Turns)-3:]
		}
	}

	if c.ForceClosing {
		assert.GreaterOrEqual(t, c.RewriteStreak, rewriteStreakLimit)
		assert.Equal(t, ArcClosing, c.Arc())
	}
}

func TestNaturalEndOnRewriteStreak(t *testing.T) {
	cp := NewComposer(1)
	c := &Conversation{
		A: "agent-01", B: "agent-02", Topic: "the market",
		ForceClosing: true,
		Turns:        []Turn{{Speaker: "agent-01", Message: "hello about the market"}},
	}

	ended := false
	for i := 0; i < 200 && !ended; i++ {
		ended = cp.NaturalEnd(c, nil, nil, i)
	}
	assert.True(t, ended, "forced-closing conversations wind down")
}

func TestNaturalEndNeverBeforeFirstTurn(t *testing.T) {
	cp := NewComposer(1)
	c := &Conversation{A: "agent-01", B: "agent-02", ForceClosing: true, TenseStreak: 10}
	for i := 0; i < 50; i++ {
		require.False(t, cp.NaturalEnd(c, nil, nil, i))
	}
}

func TestClampLineIsRuneSafe(t *testing.T) {
	assert.Equal(t, "héllo", clampLine("héllo", 10))

	out := clampLine(strings.Repeat("é", 80), 60)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 60, utf8.RuneCountInString(out))
}

func TestMemoryHintClampIsRuneSafe(t *testing.T) {
	cp := NewComposer(1)
	store := memory.NewStore(memory.Config{})
	// Long multibyte content: a byte-indexed truncation would split a rune.
	store.AddObservation("market "+strings.Repeat("é", 80), 0, "",
		[]string{"market"}, 5, memory.SourcePerception)

	hint := cp.memoryHint(store, "market", 0)
	assert.NotEmpty(t, hint)
	assert.True(t, utf8.ValidString(hint))
	assert.LessOrEqual(t, utf8.RuneCountInString(hint), 60)
}

func TestPlanPressure(t *testing.T) {
	cp := NewComposer(1)
	assert.False(t, cp.planPressure(nil, 0))

	store := memory.NewStore(memory.Config{})
	due := 30
	store.AddPlan("morning errands", 0,
		[]memory.PlanItem{{Description: "buy flour", TargetTime: &due}}, 600, 5)

	assert.True(t, cp.planPressure(store, 0), "item due within the hour")
	assert.False(t, cp.planPressure(memory.NewStore(memory.Config{}), 0))
}
