package engine

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/rng"
)

// Anti-repetition tuning.
const (
	minLineChars        = 12
	similarityThreshold = 0.84
	recentLineWindow    = 3
	rewriteStreakLimit  = 3
)

// Composer turns conversation state into dialogue lines. It owns no agent
// state; memory stores and topic tables are borrowed from the kernel.
type Composer struct {
	rng *rand.Rand
}

// NewComposer creates a composer on the dialogue stream of the seed.
func NewComposer(seed int64) *Composer {
	return &Composer{rng: rng.New(seed, rng.OffsetDialogue)}
}

// InitConversation derives topic, intent, and tone when a conversation
// starts. Tone follows the initiator's view of the partner; intent follows
// tone and plan pressure.
func (cp *Composer) InitConversation(c *Conversation, topics *Topics, memA, memB *memory.Store, weight, now int) {
	c.Topic = topics.Choose(c.A, c.B, memA, memB, c.Location, now)

	switch {
	case weight >= 30:
		c.Tone = ToneWarm
	case weight <= -10:
		c.Tone = ToneTense
	default:
		c.Tone = ToneNeutral
	}

	switch {
	case c.Tone == ToneTense:
		c.Intent = IntentVent
	case memA != nil && memA.ActivePlan(now) != nil:
		c.Intent = IntentCoordinate
	case c.Tone == ToneWarm:
		c.Intent = IntentBond
	default:
		c.Intent = IntentInform
	}
}

// ComposeTurn produces the current speaker's line. Weak or repetitive
// candidates are rewritten from fallback templates; three consecutive
// rewrites force the arc to closing.
func (cp *Composer) ComposeTurn(c *Conversation, speaker *agents.Agent, store *memory.Store, now int) string {
	line := cp.candidate(c, speaker, store, now)

	if cp.needsRewrite(c, line) {
		line = cp.fallbackLine(c, speaker)
		c.RewriteStreak++
		if c.RewriteStreak >= rewriteStreakLimit {
			c.ForceClosing = true
		}
	} else {
		c.RewriteStreak = 0
	}

	if c.Tone == ToneTense {
		c.TenseStreak++
	} else {
		c.TenseStreak = 0
	}
	return line
}

// candidate interpolates topic, a memory hint, plan pressure, and a
// tone-appropriate opener into an arc-specific template.
func (cp *Composer) candidate(c *Conversation, speaker *agents.Agent, store *memory.Store, now int) string {
	opener := cp.opener(c.Tone)
	hint := cp.memoryHint(store, c.Topic, now)
	planHint := ""
	if store != nil {
		if plan := store.ActivePlan(now); plan != nil {
			planHint = " I can't stay long, I have plans."
		}
	}

	switch c.Arc() {
	case ArcOpening:
		return fmt.Sprintf("%s Have you heard anything about %s?", opener, c.Topic)
	case ArcExploring:
		if hint != "" {
			return fmt.Sprintf("About %s — %s.", c.Topic, hint)
		}
		return fmt.Sprintf("%s I keep thinking about %s lately.", opener, c.Topic)
	case ArcResolving:
		if c.Intent == IntentCoordinate {
			return fmt.Sprintf("So about %s, let's sort it out soon.%s", c.Topic, planHint)
		}
		return fmt.Sprintf("Anyway, that's where I stand on %s.%s", c.Topic, planHint)
	default: // closing
		return fmt.Sprintf("I should get going — good talking about %s, %s.", c.Topic, speaker.Profile.Name)
	}
}

func (cp *Composer) opener(tone Tone) string {
	var pool []string
	switch tone {
	case ToneWarm:
		pool = []string{"Good to see you!", "I was hoping to run into you.", "You look well today."}
	case ToneTense:
		pool = []string{"We need to talk.", "Fine, let's get this over with.", "I didn't expect you here."}
	default:
		pool = []string{"Hello there.", "Oh, hi.", "Morning."}
	}
	return pool[rng.Pick(cp.rng, len(pool))]
}

// memoryHint pulls a short snippet from the speaker's most relevant memory of
// the topic.
func (cp *Composer) memoryHint(store *memory.Store, topic string, now int) string {
	if store == nil {
		return ""
	}
	hits := store.RetrieveTopK(topic, now, 1, nil)
	if len(hits) == 0 {
		return ""
	}
	content := clampLine(hits[0].Content, 60)
	return strings.ToLower(strings.TrimRight(content, "."))
}

// needsRewrite rejects lines that are too short, miss the topic, or overlap
// too much with the last few lines.
func (cp *Composer) needsRewrite(c *Conversation, line string) bool {
	if len(line) < minLineChars {
		return true
	}
	if !strings.Contains(strings.ToLower(line), strings.ToLower(c.Topic)) {
		return true
	}
	return cp.tooSimilar(c, line)
}

func (cp *Composer) tooSimilar(c *Conversation, line string) bool {
	start := len(c.Turns) - recentLineWindow
	if start < 0 {
		start = 0
	}
	for _, t := range c.Turns[start:] {
		if tokenSimilarity(line, t.Message) >= similarityThreshold {
			return true
		}
	}
	return false
}

// fallbackLine picks a template that avoids the recent lines; if every
// template is too similar the last one is used anyway.
func (cp *Composer) fallbackLine(c *Conversation, speaker *agents.Agent) string {
	templates := []string{
		fmt.Sprintf("Honestly, %s has been on everyone's mind around %s.", c.Topic, c.Location),
		fmt.Sprintf("You know more about %s than I do, %s.", c.Topic, speaker.Profile.Name),
		fmt.Sprintf("Let's come back to %s another day.", c.Topic),
		fmt.Sprintf("I heard something odd about %s, but I can't place it.", c.Topic),
	}
	first := rng.Pick(cp.rng, len(templates))
	for i := 0; i < len(templates); i++ {
		line := templates[(first+i)%len(templates)]
		if !cp.tooSimilar(c, line) {
			return line
		}
	}
	return templates[first]
}

// NaturalEnd decides whether an active conversation winds down on its own:
// an imminent plan item, a sustained tense tone, or an exhausted rewrite
// streak, each gated by its own probability.
func (cp *Composer) NaturalEnd(c *Conversation, storeA, storeB *memory.Store, now int) bool {
	if len(c.Turns) == 0 {
		return false
	}
	if cp.planPressure(storeA, now) || cp.planPressure(storeB, now) {
		if rng.Chance(cp.rng, 0.4) {
			return true
		}
	}
	if c.TenseStreak >= 3 && rng.Chance(cp.rng, 0.3) {
		return true
	}
	if c.ForceClosing && rng.Chance(cp.rng, 0.5) {
		return true
	}
	return false
}

// planPressure reports an active plan item due within the next hour.
func (cp *Composer) planPressure(store *memory.Store, now int) bool {
	if store == nil {
		return false
	}
	plan := store.ActivePlan(now)
	if plan == nil {
		return false
	}
	for _, item := range plan.PlanItems {
		if item.Status == memory.PlanCompleted || item.Status == memory.PlanCancelled {
			continue
		}
		if item.TargetTime != nil && *item.TargetTime-now <= 60 {
			return true
		}
	}
	return false
}

// tokenSimilarity is the Jaccard overlap of the two lines' token sets.
func tokenSimilarity(a, b string) float64 {
	ta := memory.Tokenize(a)
	tb := memory.Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(ta))
	for _, tok := range ta {
		setA[tok] = true
	}
	union := make(map[string]bool, len(ta)+len(tb))
	for tok := range setA {
		union[tok] = true
	}
	shared := 0
	seen := make(map[string]bool, len(tb))
	for _, tok := range tb {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		union[tok] = true
		if setA[tok] {
			shared++
		}
	}
	return float64(shared) / float64(len(union))
}
