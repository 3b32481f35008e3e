package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/clock"
	"github.com/talgya/smalltown/internal/llm"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/nav"
	"github.com/talgya/smalltown/internal/queue"
	"github.com/talgya/smalltown/internal/town"
)

type decisionFixture struct {
	dm      *DecisionMaker
	agent   *agents.Agent
	queue   *queue.Queue
	applyCh chan func()
	grid    *nav.Grid
}

func newDecisionFixture(t *testing.T, backend llm.Backend, generative int) *decisionFixture {
	t.Helper()

	grid := nav.NewGrid(12, 12)
	pf := nav.NewPathfinder(grid, 16)
	spawn := nav.Tile{X: 9, Y: 9}
	catalog := town.NewCatalog([]town.Location{{
		ID: "rowan-house", Name: "Rowan House", Type: town.TypeResidential,
		Bounds: town.Rect{X: 8, Y: 8, W: 3, H: 3}, Spawn: &spawn,
	}})

	q := queue.New(queue.DefaultConfig())
	t.Cleanup(q.Close)

	applyCh := make(chan func(), 8)
	cfg := DefaultDecisionConfig()
	cfg.GenerativeCount = generative
	cfg.MinInterval = 5
	cfg.MaxInterval = 5
	cfg.TaskTTL = time.Minute

	dm := NewDecisionMaker(cfg, 42, pf, grid.WalkableTiles(), catalog, backend, q,
		func(fn func()) { applyCh <- fn })

	a := &agents.Agent{ID: "agent-01", Profile: agents.Profile{Name: "Rowan", Home: "rowan-house"}}
	a.MoveTo(nav.Tile{X: 2, Y: 2})

	return &decisionFixture{dm: dm, agent: a, queue: q, applyCh: applyCh, grid: grid}
}

func (f *decisionFixture) update(tick uint64) {
	f.dm.Update(tick, []*agents.Agent{f.agent}, map[string]*memory.Store{}, clock.GameTime{})
}

// resolveOne waits for the queued continuation and runs it on this goroutine,
// the way the kernel drains its apply channel.
func (f *decisionFixture) resolveOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-f.applyCh:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("no continuation arrived")
	}
}

func TestRuleDecisionAssignsReachablePath(t *testing.T) {
	f := newDecisionFixture(t, nil, 0)
	f.update(1)

	require.NotEmpty(t, f.agent.Path, "open grid always has a reachable waypoint")
	assert.Equal(t, agents.StateWalking, f.agent.State)
	assert.Equal(t, uint64(6), f.agent.NextDecisionTick)

	trace, ok := f.dm.LastTrace("agent-01")
	require.True(t, ok)
	assert.Equal(t, "rule", trace.Source)
}

func TestRuleDecisionDeterministic(t *testing.T) {
	run := func() []nav.Tile {
		f := newDecisionFixture(t, nil, 0)
		f.update(1)
		return f.agent.Path
	}
	assert.Equal(t, run(), run())
}

func TestDecisionSkipsIneligibleAgents(t *testing.T) {
	f := newDecisionFixture(t, nil, 0)
	f.agent.NextDecisionTick = 10

	f.update(5)
	assert.Empty(t, f.agent.Path, "not yet eligible")

	f.agent.EnterConversation()
	f.update(15)
	assert.Empty(t, f.agent.Path, "conversing agents are skipped")
}

func TestGenerativeWaitClearsPath(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "WAIT", "reason": "resting"}`})
	f := newDecisionFixture(t, backend, 1)
	f.agent.SetPath([]nav.Tile{{X: 3, Y: 2}})

	f.update(1)
	assert.True(t, f.dm.Pending("agent-01"))
	f.resolveOne(t)

	assert.False(t, f.dm.Pending("agent-01"))
	assert.Empty(t, f.agent.Path)
	assert.Equal(t, agents.StateIdle, f.agent.State)
	assert.Zero(t, f.dm.FallbackRate())

	trace, _ := f.dm.LastTrace("agent-01")
	assert.Equal(t, "generative", trace.Source)
	assert.Equal(t, llm.ActionWait, trace.Action)
	assert.Equal(t, "resting", trace.Reason)
}

func TestGenerativeGoHomePathsToHome(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "GO_HOME"}`})
	f := newDecisionFixture(t, backend, 1)

	f.update(1)
	f.resolveOne(t)

	require.NotEmpty(t, f.agent.Path)
	assert.Equal(t, nav.Tile{X: 9, Y: 9}, f.agent.Path[len(f.agent.Path)-1],
		"path ends at the home spawn tile")
}

func TestGenerativeFailureFallsBackToRules(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: false, Err: "backend down"})
	f := newDecisionFixture(t, backend, 1)

	f.update(1)
	f.resolveOne(t)

	assert.Equal(t, 1.0, f.dm.FallbackRate())
	assert.NotEmpty(t, f.agent.Path, "fallback applied the rule walk")

	trace, _ := f.dm.LastTrace("agent-01")
	assert.Equal(t, "fallback", trace.Source)
	assert.Equal(t, "backend down", trace.Reason)
}

func TestGenerativeMalformedDecisionFallsBack(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "FLY"}`})
	f := newDecisionFixture(t, backend, 1)

	f.update(1)
	f.resolveOne(t)

	assert.Equal(t, 1.0, f.dm.FallbackRate())
}

func TestUnknownActionDegradesToRuleWalk(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "MOVE_TO", "target": "plaza"}`})
	f := newDecisionFixture(t, backend, 1)

	f.update(1)
	f.resolveOne(t)

	assert.NotEmpty(t, f.agent.Path, "unhandled actions walk somewhere")
	assert.Zero(t, f.dm.FallbackRate(), "degrading is not a fallback")

	trace, _ := f.dm.LastTrace("agent-01")
	assert.Equal(t, "generative", trace.Source)
	assert.Equal(t, llm.ActionMoveTo, trace.Action)
}

func TestCriticalBackpressureSkipsGenerativeWork(t *testing.T) {
	grid := nav.NewGrid(12, 12)
	pf := nav.NewPathfinder(grid, 16)
	catalog := town.NewCatalog(nil)

	q := queue.New(queue.Config{Concurrency: 1, ElevatedThreshold: 1, CriticalThreshold: 1})
	t.Cleanup(q.Close)

	// Park a task on the only worker so load sits at the critical threshold.
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, q.Enqueue(queue.Task{
		TTL: time.Minute, Timeout: time.Minute,
		Run: func(ctx context.Context) (any, error) { <-release; return nil, nil },
	}, nil))
	require.Equal(t, queue.BackpressureCritical, q.BackpressureLevel())

	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "WAIT"}`})
	cfg := DefaultDecisionConfig()
	cfg.GenerativeCount = 1
	dm := NewDecisionMaker(cfg, 42, pf, grid.WalkableTiles(), catalog, backend, q, nil)

	a := &agents.Agent{ID: "agent-01", Profile: agents.Profile{Name: "Rowan"}}
	a.MoveTo(nav.Tile{X: 2, Y: 2})
	dm.Update(1, []*agents.Agent{a}, map[string]*memory.Store{}, clock.GameTime{})

	assert.Equal(t, 1.0, dm.FallbackRate(), "throttled attempt counts as a fallback")
	assert.False(t, dm.Pending("agent-01"), "nothing was enqueued")
	assert.NotEmpty(t, a.Path, "rule walk applied immediately")

	trace, _ := dm.LastTrace("agent-01")
	assert.Equal(t, "fallback", trace.Source)
	assert.Equal(t, "backpressure critical", trace.Reason)
}

func TestOneInFlightRequestPerAgent(t *testing.T) {
	backend := llm.NewScripted(llm.Response{Success: true, Content: `{"action": "WAIT"}`})
	f := newDecisionFixture(t, backend, 1)

	f.update(1)
	require.True(t, f.dm.Pending("agent-01"))

	// Force eligibility again before the first request resolves.
	f.agent.NextDecisionTick = 0
	f.update(2)

	f.resolveOne(t)
	select {
	case <-f.applyCh:
		t.Fatal("second request was enqueued while one was in flight")
	case <-time.After(100 * time.Millisecond):
	}
}
