package flowfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pergolahq/pergola/pkg/domain"
)

func TestLoadOnboarding(t *testing.T) {
	flow, err := Load("testdata/onboarding.yaml")
	require.NoError(t, err)

	assert.Equal(t, "onboarding", flow.Name)
	assert.Equal(t, "welcome", flow.Entry)
	assert.Equal(t, domain.ResumeShallow, flow.Resume, "normalized default")
	assert.Equal(t, "wrap_up", flow.Variables["done_action"])

	require.Len(t, flow.Interrupts, 1)
	assert.Equal(t, "cancelled", flow.Interrupts[0].Target)
}

func TestLoadDecodesConditions(t *testing.T) {
	flow, err := Load("testdata/onboarding.yaml")
	require.NoError(t, err)

	rule := flow.States["welcome"].Rules[0]
	require.NotNil(t, rule.When)
	assert.Equal(t, "confidence_at_least", rule.When.Name)
	assert.Equal(t, 0.5, rule.When.Params["value"])
	assert.NotContains(t, rule.When.Params, "name", "the name key is not a parameter")
}

func TestLoadDesugarsParallel(t *testing.T) {
	flow, err := Load("testdata/onboarding.yaml")
	require.NoError(t, err)

	setup := flow.States["setup"]
	assert.Equal(t, domain.NodeFork, setup.Node)
	require.NotNil(t, setup.Fork)
	assert.Equal(t, "finished", setup.Fork.JoinAt)

	finished := flow.States["finished"]
	assert.Equal(t, domain.NodeJoin, finished.Node)
	require.NotNil(t, finished.Join)
	assert.Equal(t, domain.SyncAllComplete, finished.Join.Strategy)
}

// summarize renders the normalized topology in a stable text form for the
// golden comparison.
func summarize(flow *domain.FlowConfig) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "flow %s version=%s entry=%s resume=%s\n", flow.Name, flow.Version, flow.Entry, flow.Resume)
	fmt.Fprintf(&b, "interrupts=%d variables=%d\n", len(flow.Interrupts), len(flow.Variables))

	names := make([]string, 0, len(flow.States))
	for name := range flow.States {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := flow.States[name]
		fmt.Fprintf(&b, "state %s node=%s rules=%d terminal=%v\n", name, s.Node, len(s.Rules), s.Terminal)
		if s.Fork != nil {
			ids := make([]string, 0, len(s.Fork.Branches))
			for _, br := range s.Fork.Branches {
				ids = append(ids, br.ID)
			}
			fmt.Fprintf(&b, "  fork join_at=%s strategy=%s branches=%s\n", s.Fork.JoinAt, s.Fork.Strategy, strings.Join(ids, ","))
		}
		if s.Join != nil {
			fmt.Fprintf(&b, "  join strategy=%s branches=%s\n", s.Join.Strategy, strings.Join(s.Join.Branches, ","))
		}
	}
	return []byte(b.String())
}

func TestLoadGoldenTopology(t *testing.T) {
	flow, err := Load("testdata/onboarding.yaml")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "onboarding_topology", summarize(flow))
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("states: [not: a: map"))
	require.Error(t, err)
}

func TestParseRejectsDanglingReferences(t *testing.T) {
	doc := []byte(`
name: broken
entry: start
states:
  start:
    rules:
      - priority: 10
        intent: go
        target: missing
`)
	_, err := Parse(doc)
	require.Error(t, err)

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestParseRejectsMalformedCondition(t *testing.T) {
	doc := []byte(`
name: badcond
entry: start
states:
  start:
    rules:
      - priority: 10
        intent: go
        when: {value: 0.5}
`)
	_, err := Parse(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/no_such_flow.yaml")
	require.Error(t, err)
}

func TestLoaderResolvesByName(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile("testdata/onboarding.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "onboarding.yaml"), src, 0o644))

	loader := NewLoader(dir)
	flow, err := loader.Load(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "onboarding", flow.Name)

	_, err = loader.Load(context.Background(), "phantom")
	require.Error(t, err)
}
