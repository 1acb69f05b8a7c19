/*
Package pergola is a deterministic flow execution engine for multi-turn
sales conversations. A flow is a declaratively-configured set of named
states connected by priority-ordered conditional rules, augmented with
exclusive branching (choice), parallel regions (fork/join with selectable
sync strategies), and history-based interruption recovery.

The engine decides, turn by turn, the single next action for a conversation.
Natural-language classification and reply generation live outside the
engine: each turn arrives as an already-classified intent record, and the
returned Decision names the action the caller should generate a reply for.

# Concept

Pergola separates the flow definition (Logic) from per-conversation state
(Context) and delivery plumbing (Adapters). The flow configuration is loaded
once, validated, and shared read-only across all conversations; each
conversation owns a ConversationContext that is mutated by exactly one turn
at a time and serializes losslessly for persistence and resume. This
Hexagonal Architecture lets the engine be embedded behind any interface:
HTTP service, MCP server, or an in-process library call.

# Usage

	flow, err := flowfile.Load("flows/qualification.yaml")
	if err != nil {
		log.Fatal(err)
	}

	eng, err := pergola.New(flow)
	if err != nil {
		log.Fatal(err)
	}

	convo := eng.NewConversation("")
	decision, err := eng.ProcessTurn(ctx, convo, domain.Intent{
		Name:          "budget",
		Confidence:    0.92,
		ExtractedData: map[string]any{"budget": 50000},
	})

The caller persists the mutated context (see pkg/session and the snapshot
store adapters) and feeds the Decision to its reply generator.
*/
package pergola
