package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAccumulates(t *testing.T) {
	convo := NewConversation("c1", "flow", "start")

	convo.Merge(map[string]any{"budget": 5000, "name": "Ada"})
	convo.Merge(map[string]any{"needs": "automation"})

	assert.Equal(t, 5000, convo.CollectedData["budget"])
	assert.Equal(t, "Ada", convo.CollectedData["name"])
	assert.Equal(t, "automation", convo.CollectedData["needs"])
}

func TestMergeNeverErasesWithEmpty(t *testing.T) {
	convo := NewConversation("c1", "flow", "start")
	convo.Merge(map[string]any{"budget": 5000})

	convo.Merge(map[string]any{"budget": nil})
	assert.Equal(t, 5000, convo.CollectedData["budget"])

	convo.Merge(map[string]any{"budget": ""})
	assert.Equal(t, 5000, convo.CollectedData["budget"])

	// A real new value still wins.
	convo.Merge(map[string]any{"budget": 7000})
	assert.Equal(t, 7000, convo.CollectedData["budget"])
}

func TestMergeAcceptsEmptyForNewKeys(t *testing.T) {
	convo := NewConversation("c1", "flow", "start")
	convo.Merge(map[string]any{"note": ""})

	_, exists := convo.CollectedData["note"]
	assert.True(t, exists)
}

func TestCloneIsDeep(t *testing.T) {
	convo := NewConversation("c1", "flow", "start")
	convo.Merge(map[string]any{"budget": 5000})
	convo.DAG.Branches = map[string]*BranchState{
		"b1": {Status: BranchActive, CurrentState: "probe"},
	}
	convo.DAG.History = []HistoryEvent{{Turn: 1, Kind: EventEnterState, State: "start"}}

	clone := convo.Clone()
	clone.CollectedData["budget"] = 1
	clone.DAG.Branches["b1"].Status = BranchAbandoned
	clone.DAG.History[0].State = "elsewhere"

	assert.Equal(t, 5000, convo.CollectedData["budget"])
	assert.Equal(t, BranchActive, convo.DAG.Branches["b1"].Status)
	assert.Equal(t, "start", convo.DAG.History[0].State)
}

func TestActiveBranchesSorted(t *testing.T) {
	dag := DAGContext{Branches: map[string]*BranchState{
		"zeta":  {Status: BranchActive},
		"alpha": {Status: BranchActive},
		"done":  {Status: BranchCompleted},
	}}

	assert.Equal(t, []string{"alpha", "zeta"}, dag.ActiveBranches())
}

func TestEnterFired(t *testing.T) {
	dag := DAGContext{History: []HistoryEvent{
		{Turn: 1, Kind: EventEnterState, State: "probe", Branch: "b1"},
		{Turn: 2, Kind: EventBranchComplete, State: "merge", Branch: "b1"},
	}}

	assert.True(t, dag.EnterFired("probe"))
	assert.False(t, dag.EnterFired("merge"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	convo := NewConversation("c1", "flow", "start")
	convo.TurnCount = 4
	convo.Phase = "qualification"
	convo.Merge(map[string]any{"budget": 5000.0})
	convo.DAG = DAGContext{
		ForkState: "split",
		Branches: map[string]*BranchState{
			"b1": {Status: BranchActive, CurrentState: "probe", EnteredAtTurn: 2},
		},
		History: []HistoryEvent{
			{Turn: 2, Kind: EventForkSpawn, State: "probe", Branch: "b1"},
		},
		RoundRobin:     1,
		Interrupted:    true,
		InterruptState: "probe",
	}

	data, err := Serialize(convo)
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, convo, restored)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
}

func TestSerializeNil(t *testing.T) {
	_, err := Serialize(nil)
	require.Error(t, err)
}
