package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pergolahq/pergola/pkg/domain"
)

// interruptedConvo drives the fork scenario to an interruption: b_budget is
// completed, b_needs is active, then a request_human diverts the flow.
func interruptedConvo(t *testing.T, e *Engine) *domain.ConversationContext {
	t.Helper()
	convo := begin(t, e)

	_, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "budget_info"})
	require.NoError(t, err)

	d, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "request_human"})
	require.NoError(t, err)
	require.True(t, d.Meta.Interrupted)
	return convo
}

func TestInterruptDivertsAndSuspends(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := begin(t, e)

	d, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "request_human"})
	require.NoError(t, err)

	assert.Equal(t, "escalate", d.Action)
	assert.Equal(t, "handoff", d.NextState)
	assert.True(t, d.Meta.Interrupted)

	assert.True(t, convo.DAG.Interrupted)
	assert.Equal(t, "b_budget", convo.DAG.InterruptBranch, "lowest active id is recorded")
	assert.Equal(t, "ask_budget", convo.DAG.InterruptState)
	assert.Equal(t, domain.BranchActive, convo.DAG.Branches["b_budget"].Status, "branches are suspended, not abandoned")

	var interrupted bool
	for _, ev := range convo.DAG.History {
		if ev.Kind == domain.EventInterrupt {
			interrupted = true
		}
	}
	assert.True(t, interrupted)
}

func TestInterruptWinsOverBranchRouting(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := begin(t, e)

	// While interrupted, further turns must not route into branches.
	_, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "request_human"})
	require.NoError(t, err)

	d, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "chatter"})
	require.NoError(t, err)
	assert.Empty(t, d.Meta.Branch)
	assert.Equal(t, "wait", d.Action, "handoff state's default")
}

func TestResumeShallowAbandonsBranches(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := interruptedConvo(t, e)

	d, err := e.Resume(context.Background(), convo)
	require.NoError(t, err)

	assert.True(t, d.Meta.Resumed)
	assert.Equal(t, "resume", d.Action, "interrupt state's on_enter already fired")
	assert.Equal(t, "ask_needs", d.NextState, "continue at the interrupted state")
	assert.False(t, convo.DAG.Interrupted)
	assert.Empty(t, convo.DAG.ForkState)
	assert.Equal(t, domain.BranchAbandoned, convo.DAG.Branches["b_needs"].Status)

	// The conversation continues as a plain state machine.
	d, err = e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "needs_info"})
	require.NoError(t, err)
	assert.Equal(t, "merge", d.NextState)
	assert.Empty(t, d.Meta.Branch)
}

func TestResumeDeepRestoresBranchMap(t *testing.T) {
	flow := qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch)
	flow.Resume = domain.ResumeDeep

	e := newEngine(t, flow)
	convo := interruptedConvo(t, e)

	d, err := e.Resume(context.Background(), convo)
	require.NoError(t, err)

	assert.True(t, d.Meta.Resumed)
	assert.Equal(t, "qualify", convo.CurrentState, "conversation is back inside the fork")
	assert.Equal(t, domain.BranchCompleted, convo.DAG.Branches["b_budget"].Status)
	assert.Equal(t, domain.BranchActive, convo.DAG.Branches["b_needs"].Status)
	assert.Equal(t, "ask_needs", convo.DAG.Branches["b_needs"].CurrentState)

	// The surviving branch picks up exactly where it left off.
	d, err = e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "needs_info"})
	require.NoError(t, err)
	assert.Equal(t, "b_needs", d.Meta.Branch)
	assert.True(t, d.Meta.JoinSatisfied)
	assert.Equal(t, "merge", d.NextState)
}

func TestResumeFeatureFlagForcesDeep(t *testing.T) {
	flow := qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch)
	// Flow says shallow; the deployment flag overrides to deep.
	flow.Resume = domain.ResumeShallow

	e := newEngine(t, flow, WithFeatureFlags(map[string]bool{"deep_resume": true}))
	convo := interruptedConvo(t, e)

	_, err := e.Resume(context.Background(), convo)
	require.NoError(t, err)

	assert.Equal(t, domain.BranchActive, convo.DAG.Branches["b_needs"].Status)
	assert.Equal(t, "qualify", convo.CurrentState)
}

func TestResumeWithoutInterruption(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := e.NewConversation("c1")

	_, err := e.Resume(context.Background(), convo)
	assert.ErrorIs(t, err, domain.ErrNotInterrupted)
}

func TestResumeRecordsEvent(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := interruptedConvo(t, e)

	_, err := e.Resume(context.Background(), convo)
	require.NoError(t, err)

	last := convo.DAG.History[len(convo.DAG.History)-1]
	assert.Equal(t, domain.EventResume, last.Kind)
	assert.Equal(t, string(domain.ResumeShallow), last.Note)
}

func TestResumeDeepReplayErrorOnDanglingState(t *testing.T) {
	flow := qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch)
	flow.Resume = domain.ResumeDeep

	e := newEngine(t, flow)
	convo := e.NewConversation("c1")
	convo.DAG.Interrupted = true
	convo.DAG.InterruptState = "ask_needs"
	convo.DAG.History = []domain.HistoryEvent{
		{Turn: 1, Kind: domain.EventEnterState, State: "state_that_was_renamed"},
		{Turn: 2, Kind: domain.EventInterrupt, State: "ask_needs"},
	}

	_, err := e.Resume(context.Background(), convo)
	require.Error(t, err)

	var replayErr *domain.HistoryReplayError
	require.ErrorAs(t, err, &replayErr)
	assert.Equal(t, "state_that_was_renamed", replayErr.State)
}

func TestIntentForAbandonedBranchIsAmbiguity(t *testing.T) {
	// After an any_complete join the losing branch is abandoned. A later
	// fork must never route into it; once no fork is active the intent
	// simply resolves against the current state.
	e := newEngine(t, qualificationFlow(domain.SyncAnyComplete, domain.RouteFirstMatch))
	convo := begin(t, e)

	_, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "budget_info"})
	require.NoError(t, err)
	require.Equal(t, domain.BranchAbandoned, convo.DAG.Branches["b_needs"].Status)

	d, err := e.ProcessTurn(context.Background(), convo, domain.Intent{Name: "needs_info"})
	require.NoError(t, err)

	assert.Empty(t, d.Meta.Branch, "abandoned branches never revive")
	assert.Equal(t, domain.BranchAbandoned, convo.DAG.Branches["b_needs"].Status)
	assert.Equal(t, "merge", d.NextState)
}

func TestMonotonicTurnCounter(t *testing.T) {
	e := newEngine(t, qualificationFlow(domain.SyncAllComplete, domain.RouteFirstMatch))
	convo := interruptedConvo(t, e)
	require.Equal(t, 3, convo.TurnCount)

	_, err := e.Resume(context.Background(), convo)
	require.NoError(t, err)
	assert.Equal(t, 4, convo.TurnCount, "resume consumes a turn")

	prev := 0
	for _, ev := range convo.DAG.History {
		require.GreaterOrEqual(t, ev.Turn, prev, "history turns never go backwards")
		prev = ev.Turn
	}
}
