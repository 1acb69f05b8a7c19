/*
Package domain contains the core domain models for the Pergola flow engine.

It defines the fundamental entities of the conversation state machine: the
immutable FlowConfig (states, priority-ordered rules, DAG node specs), the
per-conversation ConversationContext (collected data, active branches, the
append-only history event log), the classified Intent consumed each turn, and
the Decision the engine returns. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - FlowConfig / StateDef: the declarative flow loaded once and shared
    read-only across conversations.
  - Rule: a priority-ordered transition entry; lower priority wins, ties
    resolve by declaration order.
  - ConversationContext: the runtime snapshot of one conversation, the unit
    serialized for persistence and resume.
  - HistoryEvent: one entry of the replayable DAG event log.
  - Decision: the engine's output for a single turn.
*/
package domain
