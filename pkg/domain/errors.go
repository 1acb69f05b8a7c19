package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConversationNotFound is returned when a conversation ID cannot be found
// in the snapshot store.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrNotInterrupted is returned by Resume when the conversation has no
// recorded interruption to resume from.
var ErrNotInterrupted = errors.New("conversation is not interrupted")

// ConfigurationError reports invalid cross-references in a flow. It is fatal
// at load time: a flow carrying one must not serve any conversation.
type ConfigurationError struct {
	Flow   string
	Issues []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("flow %q configuration invalid: %s", e.Flow, strings.Join(e.Issues, "; "))
}

// FlowError reports an unrecoverable condition hit while executing a turn,
// such as an exhausted choice with no default.
type FlowError struct {
	State  string
	Reason string
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("flow error at state %q: %s", e.State, e.Reason)
}

// HistoryReplayError reports that a resume target no longer exists in the
// flow configuration, typically because the flow changed between
// interruption and resume. It is recoverable: the caller decides whether to
// restart the conversation at the flow's entry state.
type HistoryReplayError struct {
	ConversationID string
	State          string
}

func (e *HistoryReplayError) Error() string {
	return fmt.Sprintf("cannot replay conversation %q: state %q no longer exists", e.ConversationID, e.State)
}
