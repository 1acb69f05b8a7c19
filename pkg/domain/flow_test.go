package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalFlow() *FlowConfig {
	return &FlowConfig{
		Name:  "test",
		Entry: "start",
		States: map[string]*StateDef{
			"start": {Rules: []Rule{{Priority: 10, Intent: "go", Target: "end"}}},
			"end":   {Terminal: true},
		},
	}
}

func TestNormalizeDefaults(t *testing.T) {
	flow := minimalFlow()
	flow.Normalize()

	assert.Equal(t, ResumeShallow, flow.Resume)
	assert.Equal(t, "start", flow.States["start"].Name)
	assert.Equal(t, NodeNone, flow.States["start"].Node)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	flow := minimalFlow()
	flow.Normalize()
	flow.Normalize()

	require.NoError(t, flow.Validate())
	assert.Equal(t, NodeNone, flow.States["start"].Node)
}

func TestNormalizeDesugarsParallel(t *testing.T) {
	flow := &FlowConfig{
		Name:  "parallel",
		Entry: "compound",
		States: map[string]*StateDef{
			"compound": {
				Node: NodeParallel,
				Parallel: &ParallelSpec{
					Regions: []BranchDef{
						{ID: "left", StartAt: "a"},
						{ID: "right", StartAt: "b"},
					},
					ExitAt: "exit",
				},
			},
			"a":    {Rules: []Rule{{Intent: "done", Target: "exit"}}},
			"b":    {Rules: []Rule{{Intent: "done", Target: "exit"}}},
			"exit": {Terminal: true},
		},
	}

	flow.Normalize()
	require.NoError(t, flow.Validate())

	compound := flow.States["compound"]
	assert.Equal(t, NodeFork, compound.Node)
	require.NotNil(t, compound.Fork)
	assert.Nil(t, compound.Parallel)
	assert.Equal(t, "exit", compound.Fork.JoinAt)
	assert.Len(t, compound.Fork.Branches, 2)

	exit := flow.States["exit"]
	assert.Equal(t, NodeJoin, exit.Node)
	require.NotNil(t, exit.Join)
	assert.Equal(t, SyncAllComplete, exit.Join.Strategy)
	assert.ElementsMatch(t, []string{"left", "right"}, exit.Join.Branches)
}

func TestValidateReportsAllIssues(t *testing.T) {
	flow := &FlowConfig{
		Name:  "broken",
		Entry: "nowhere",
		Interrupts: []Rule{
			{Intent: "help"}, // no target
		},
		States: map[string]*StateDef{
			"start": {Rules: []Rule{{Intent: "go", Target: "missing"}}},
			"pick": {
				Node:   NodeChoice,
				Choice: &ChoiceSpec{Branches: []ChoiceBranch{{Target: "missing"}}},
			},
		},
	}
	flow.Normalize()

	err := flow.Validate()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "broken", cfgErr.Flow)
	assert.GreaterOrEqual(t, len(cfgErr.Issues), 4)
}

func TestValidateChoiceConditionName(t *testing.T) {
	flow := &FlowConfig{
		Name:  "picky",
		Entry: "pick",
		States: map[string]*StateDef{
			"pick": {
				Node: NodeChoice,
				Choice: &ChoiceSpec{
					Branches: []ChoiceBranch{{Target: "done"}},
					Default:  "done",
				},
			},
			"done": {},
		},
	}
	flow.Normalize()

	err := flow.Validate()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Issues, `choice state "pick" branch 0 has no condition name`)
}

func TestValidateFork(t *testing.T) {
	flow := &FlowConfig{
		Name:  "forked",
		Entry: "split",
		States: map[string]*StateDef{
			"split": {
				Node: NodeFork,
				Fork: &ForkSpec{
					Branches: []BranchDef{
						{ID: "one", StartAt: "a"},
						{ID: "two", StartAt: "b"},
					},
					JoinAt:  "merge",
					Mapping: map[string]string{"go_one": "one"},
				},
			},
			"a": {Rules: []Rule{{Intent: "done", Target: "merge"}}},
			"b": {Rules: []Rule{{Intent: "done", Target: "merge"}}},
			"merge": {
				Node: NodeJoin,
				Join: &JoinSpec{Strategy: SyncAllComplete, Branches: []string{"one", "two"}},
			},
		},
	}
	flow.Normalize()
	require.NoError(t, flow.Validate())

	t.Run("duplicate branch id", func(t *testing.T) {
		bad := flow.States["split"].Fork.Branches
		flow.States["split"].Fork.Branches = append(bad, BranchDef{ID: "one", StartAt: "a"})
		defer func() { flow.States["split"].Fork.Branches = bad }()

		err := flow.Validate()
		require.Error(t, err)
	})

	t.Run("mapping to unknown branch", func(t *testing.T) {
		flow.States["split"].Fork.Mapping["other"] = "ghost"
		defer delete(flow.States["split"].Fork.Mapping, "other")

		err := flow.Validate()
		require.Error(t, err)
	})

	t.Run("join target is not a join", func(t *testing.T) {
		saved := flow.States["merge"].Node
		flow.States["merge"].Node = NodeNone
		defer func() { flow.States["merge"].Node = saved }()

		err := flow.Validate()
		require.Error(t, err)
	})
}

func TestValidateStrategies(t *testing.T) {
	flow := minimalFlow()
	flow.Normalize()
	flow.Resume = ResumeStrategy("sideways")

	err := flow.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}
