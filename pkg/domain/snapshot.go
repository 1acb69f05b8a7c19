package domain

import (
	"encoding/json"
	"fmt"
)

// Serialize encodes a conversation context as a snapshot. The snapshot
// round-trips losslessly through Deserialize, including the DAG execution
// context and the history log.
func Serialize(c *ConversationContext) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot serialize nil conversation")
	}
	return json.Marshal(c)
}

// Deserialize decodes a snapshot produced by Serialize.
func Deserialize(data []byte) (*ConversationContext, error) {
	var c ConversationContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	if c.CollectedData == nil {
		c.CollectedData = make(map[string]any)
	}
	return &c, nil
}
