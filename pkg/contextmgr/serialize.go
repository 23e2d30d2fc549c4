package contextmgr

import (
	"encoding/json"
	"errors"
	"fmt"

	"agentcore/pkg/agent/llm"
)

// snapshotVersion is bumped whenever the snapshot layout changes.
const snapshotVersion = 1

// ErrSnapshotVersion is returned for snapshots written by a newer layout.
var ErrSnapshotVersion = errors.New("unsupported history snapshot version")

type snapshot struct {
	Version     int               `json:"version"`
	TokenBudget int               `json:"token_budget,omitempty"`
	Messages    []snapshotMessage `json:"messages"`
}

type snapshotMessage struct {
	Role        llm.CompletionRole `json:"role"`
	Content     string             `json:"content,omitempty"`
	ToolCalls   []llm.ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []llm.ToolResult   `json:"tool_results,omitempty"`
}

// Serialize encodes the history and token budget as JSON.
func (cm *ContextManager) Serialize() ([]byte, error) {
	cm.mu.Lock()
	snap := snapshot{Version: snapshotVersion, TokenBudget: cm.tokenBudget, Messages: make([]snapshotMessage, 0, len(cm.messages))}
	for i := range cm.messages {
		m := &cm.messages[i]
		snap.Messages = append(snap.Messages, snapshotMessage{
			Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls, ToolResults: m.ToolResults,
		})
	}
	data, err := json.Marshal(snap)
	cm.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	return data, nil
}

// Deserialize replaces the history with the snapshot in data. On error the
// history is left untouched. Snapshots without a version predate versioning
// and are read as version 1.
func (cm *ContextManager) Deserialize(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if snap.Version > snapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	messages := make([]llm.CompletionMessage, 0, len(snap.Messages))
	for i, m := range snap.Messages {
		switch m.Role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleTool:
		default:
			return fmt.Errorf("failed to unmarshal context: message %d has unknown role %q", i, m.Role)
		}
		messages = append(messages, llm.CompletionMessage{
			Role: m.Role, Content: m.Content, ToolCalls: m.ToolCalls, ToolResults: m.ToolResults,
		})
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = messages
	if snap.TokenBudget > 0 {
		cm.tokenBudget = snap.TokenBudget
	}
	return nil
}
