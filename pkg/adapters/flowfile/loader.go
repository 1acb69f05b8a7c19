// Package flowfile loads flow configurations from YAML files. The loader
// produces flat, normalized, validated FlowConfig values; the engine never
// sees raw documents.
package flowfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/pergolahq/pergola/pkg/domain"
	"github.com/pergolahq/pergola/pkg/ports"
)

// Raw document shapes. Conditions arrive as free-form maps and are decoded
// into typed refs with mapstructure, so flow authors write
// `when: {name: gt, field: budget, value: 1000}` without a nested params
// block.
type ruleDoc struct {
	Priority int            `yaml:"priority"`
	Intent   string         `yaml:"intent"`
	When     map[string]any `yaml:"when"`
	Action   string         `yaml:"action"`
	Target   string         `yaml:"target"`
}

type choiceBranchDoc struct {
	When   map[string]any `yaml:"when"`
	Target string         `yaml:"target"`
}

type choiceDoc struct {
	Branches []choiceBranchDoc `yaml:"branches"`
	Default  string            `yaml:"default"`
}

type branchDoc struct {
	ID       string         `yaml:"id"`
	StartAt  string         `yaml:"start_at"`
	Priority int            `yaml:"priority"`
	Intents  []string       `yaml:"intents"`
	When     map[string]any `yaml:"when"`
}

type forkDoc struct {
	Branches []branchDoc       `yaml:"branches"`
	JoinAt   string            `yaml:"join_at"`
	Mapping  map[string]string `yaml:"mapping"`
	Strategy string            `yaml:"strategy"`
}

type joinDoc struct {
	Strategy string   `yaml:"strategy"`
	Branches []string `yaml:"branches"`
}

type parallelDoc struct {
	Regions []branchDoc `yaml:"regions"`
	ExitAt  string      `yaml:"exit_at"`
}

type stateDoc struct {
	Phase    string       `yaml:"phase"`
	Goal     string       `yaml:"goal"`
	OnEnter  string       `yaml:"on_enter"`
	Default  string       `yaml:"default"`
	Terminal bool         `yaml:"terminal"`
	Node     string       `yaml:"node"`
	Rules    []ruleDoc    `yaml:"rules"`
	Choice   *choiceDoc   `yaml:"choice"`
	Fork     *forkDoc     `yaml:"fork"`
	Join     *joinDoc     `yaml:"join"`
	Parallel *parallelDoc `yaml:"parallel"`
}

type flowDoc struct {
	Name       string               `yaml:"name"`
	Version    string               `yaml:"version"`
	Entry      string               `yaml:"entry"`
	Resume     string               `yaml:"resume"`
	Variables  map[string]string    `yaml:"variables"`
	Interrupts []ruleDoc            `yaml:"interrupts"`
	States     map[string]*stateDoc `yaml:"states"`
}

// Parse decodes, normalizes, and validates a YAML flow document.
func Parse(data []byte) (*domain.FlowConfig, error) {
	var doc flowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid flow document: %w", err)
	}

	flow := &domain.FlowConfig{
		Name:      doc.Name,
		Version:   doc.Version,
		Entry:     doc.Entry,
		Resume:    domain.ResumeStrategy(doc.Resume),
		Variables: doc.Variables,
		States:    make(map[string]*domain.StateDef, len(doc.States)),
	}

	var err error
	if flow.Interrupts, err = buildRules(doc.Interrupts); err != nil {
		return nil, fmt.Errorf("interrupts: %w", err)
	}

	for name, sd := range doc.States {
		state, err := buildState(name, sd)
		if err != nil {
			return nil, fmt.Errorf("state %q: %w", name, err)
		}
		flow.States[name] = state
	}

	flow.Normalize()
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	return flow, nil
}

// Load reads and parses a flow file.
func Load(path string) (*domain.FlowConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow file: %w", err)
	}
	return Parse(data)
}

// Loader resolves flow names to YAML files under a directory, implementing
// ports.FlowLoader.
type Loader struct {
	dir string
}

var _ ports.FlowLoader = (*Loader)(nil)

// NewLoader creates a directory-backed flow loader.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load resolves <dir>/<name>.yaml.
func (l *Loader) Load(ctx context.Context, name string) (*domain.FlowConfig, error) {
	return Load(filepath.Join(l.dir, name+".yaml"))
}

func buildState(name string, sd *stateDoc) (*domain.StateDef, error) {
	if sd == nil {
		sd = &stateDoc{}
	}
	state := &domain.StateDef{
		Name:     name,
		Phase:    sd.Phase,
		Goal:     sd.Goal,
		OnEnter:  sd.OnEnter,
		Default:  sd.Default,
		Terminal: sd.Terminal,
		Node:     domain.NodeType(sd.Node),
	}

	var err error
	if state.Rules, err = buildRules(sd.Rules); err != nil {
		return nil, err
	}

	if sd.Choice != nil {
		spec := &domain.ChoiceSpec{Default: sd.Choice.Default}
		for i, b := range sd.Choice.Branches {
			ref, err := decodeCondition(b.When)
			if err != nil {
				return nil, fmt.Errorf("choice branch %d: %w", i, err)
			}
			if ref == nil {
				return nil, fmt.Errorf("choice branch %d has no condition", i)
			}
			spec.Branches = append(spec.Branches, domain.ChoiceBranch{When: *ref, Target: b.Target})
		}
		state.Choice = spec
	}

	if sd.Fork != nil {
		spec := &domain.ForkSpec{
			JoinAt:   sd.Fork.JoinAt,
			Mapping:  sd.Fork.Mapping,
			Strategy: domain.RouteStrategy(sd.Fork.Strategy),
		}
		if spec.Branches, err = buildBranches(sd.Fork.Branches); err != nil {
			return nil, err
		}
		state.Fork = spec
	}

	if sd.Join != nil {
		state.Join = &domain.JoinSpec{
			Strategy: domain.SyncStrategy(sd.Join.Strategy),
			Branches: sd.Join.Branches,
		}
	}

	if sd.Parallel != nil {
		spec := &domain.ParallelSpec{ExitAt: sd.Parallel.ExitAt}
		if spec.Regions, err = buildBranches(sd.Parallel.Regions); err != nil {
			return nil, err
		}
		state.Parallel = spec
	}

	return state, nil
}

func buildRules(docs []ruleDoc) ([]domain.Rule, error) {
	var rules []domain.Rule
	for i, rd := range docs {
		ref, err := decodeCondition(rd.When)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, domain.Rule{
			Priority: rd.Priority,
			Intent:   rd.Intent,
			When:     ref,
			Action:   rd.Action,
			Target:   rd.Target,
		})
	}
	return rules, nil
}

func buildBranches(docs []branchDoc) ([]domain.BranchDef, error) {
	var branches []domain.BranchDef
	for _, bd := range docs {
		ref, err := decodeCondition(bd.When)
		if err != nil {
			return nil, fmt.Errorf("branch %q: %w", bd.ID, err)
		}
		branches = append(branches, domain.BranchDef{
			ID:       bd.ID,
			StartAt:  bd.StartAt,
			Priority: bd.Priority,
			Intents:  bd.Intents,
			When:     ref,
		})
	}
	return branches, nil
}

// decodeCondition turns a free-form condition map into a typed ref: the
// "name" key selects the predicate, every other key becomes a parameter.
func decodeCondition(raw map[string]any) (*domain.ConditionRef, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ref domain.ConditionRef
	if err := mapstructure.Decode(raw, &ref); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}
	if ref.Name == "" {
		return nil, fmt.Errorf("condition is missing a name")
	}
	return &ref, nil
}
