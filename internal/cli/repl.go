package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/pergolahq/pergola/internal/presentation/tui"
	"github.com/pergolahq/pergola/pkg/domain"
)

// RunOptions configures an interactive session.
type RunOptions struct {
	Options
	ConversationID string
	JSON           bool
}

// RunSession drives one conversation on the terminal. Each input line is
// treated as a pre-classified intent: either a bare intent name or a JSON
// intent record.
func RunSession(opts RunOptions) error {
	logger := NewLogger(opts.Debug)

	if !opts.JSON {
		tui.PrintBanner()
	}

	engine, flow, err := NewEngine(opts.Options, logger)
	if err != nil {
		return err
	}

	sessions, closeStore, err := NewSessionManager(opts.Options, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := opts.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	convo, err := sessions.LoadOrStart(ctx, id, flow.Name, flow.Entry)
	if err != nil {
		return fmt.Errorf("failed to init conversation: %w", err)
	}

	render := tui.NewRenderer()
	if !opts.JSON {
		printStatus(render, flow, convo)
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !opts.JSON {
			fmt.Print("> ")
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		var decision *domain.Decision
		switch line {
		case "/resume":
			decision, err = engine.Resume(ctx, convo)
		case "/state":
			printStatus(render, flow, convo)
			continue
		default:
			intent, perr := parseIntent(line)
			if perr != nil {
				fmt.Println(perr)
				continue
			}
			decision, err = engine.ProcessTurn(ctx, convo, intent)
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if err := sessions.Save(ctx, id, convo); err != nil {
			return fmt.Errorf("failed to persist conversation: %w", err)
		}

		if opts.JSON {
			out, _ := json.Marshal(decision)
			fmt.Println(string(out))
		} else {
			printDecision(render, decision)
		}

		if decision.Meta.Terminal {
			if !opts.JSON {
				fmt.Println("Conversation reached a terminal state.")
			}
			return nil
		}
	}
}

// parseIntent accepts either a bare intent name or a JSON intent record.
func parseIntent(line string) (domain.Intent, error) {
	if strings.HasPrefix(line, "{") {
		var intent domain.Intent
		if err := json.Unmarshal([]byte(line), &intent); err != nil {
			return domain.Intent{}, fmt.Errorf("invalid intent record: %w", err)
		}
		if intent.Name == "" {
			return domain.Intent{}, fmt.Errorf("intent record is missing the intent field")
		}
		return intent, nil
	}
	return domain.Intent{Name: line, Confidence: 1.0}, nil
}

func printStatus(render func(string) (string, error), flow *domain.FlowConfig, convo *domain.ConversationContext) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", flow.Name)
	fmt.Fprintf(&b, "- **State**: `%s`\n", convo.CurrentState)
	fmt.Fprintf(&b, "- **Phase**: %s\n", convo.Phase)
	fmt.Fprintf(&b, "- **Turn**: %d\n", convo.TurnCount)
	if state, ok := flow.State(convo.CurrentState); ok && state.Goal != "" {
		fmt.Fprintf(&b, "- **Goal**: %s\n", state.Goal)
	}
	if len(convo.DAG.Branches) > 0 {
		fmt.Fprint(&b, "- **Branches**:\n")
		ids := make([]string, 0, len(convo.DAG.Branches))
		for id := range convo.DAG.Branches {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			br := convo.DAG.Branches[id]
			fmt.Fprintf(&b, "  - `%s`: %s (%s)\n", id, br.Status, br.CurrentState)
		}
	}
	out, err := render(b.String())
	if err != nil {
		out = b.String()
	}
	fmt.Print(out)
}

func printDecision(render func(string) (string, error), d *domain.Decision) {
	var b strings.Builder
	fmt.Fprintf(&b, "**Action**: `%s`\n\n", d.Action)
	fmt.Fprintf(&b, "**Next**: `%s` (%s)\n", d.NextState, d.Phase)
	if d.Meta.Branch != "" {
		fmt.Fprintf(&b, "\n**Branch**: `%s`\n", d.Meta.Branch)
	}
	if d.Meta.Interrupted {
		fmt.Fprint(&b, "\n_Conversation interrupted. Use /resume to continue._\n")
	}
	for _, w := range d.Meta.Warnings {
		fmt.Fprintf(&b, "\n> %s\n", w)
	}
	out, err := render(b.String())
	if err != nil {
		out = b.String()
	}
	fmt.Print(out)
}
