// Package contextmgr keeps the rolling model history of each conversation and
// builds request-ready message lists from it.
package contextmgr

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"agentcore/pkg/agent/llm"
	"agentcore/pkg/reasoning"
	"agentcore/pkg/utils"
)

// DefaultTokenBudget bounds a history when no budget is configured.
const DefaultTokenBudget = 100_000

// ContextManager manages the rolling history of one conversation.
// It is safe for concurrent use.
type ContextManager struct {
	mu          sync.Mutex
	messages    []llm.CompletionMessage
	tokenBudget int
}

// NewContextManager creates an empty history with the default budget.
func NewContextManager() *ContextManager {
	return NewContextManagerWithBudget(DefaultTokenBudget)
}

// NewContextManagerWithBudget creates an empty history bounded to tokenBudget.
// A budget of zero or less disables compaction.
func NewContextManagerWithBudget(tokenBudget int) *ContextManager {
	return &ContextManager{
		messages:    make([]llm.CompletionMessage, 0),
		tokenBudget: tokenBudget,
	}
}

// Append adds messages in order. Assistant content is stored with reasoning
// blocks removed; raw reasoning never enters the rolling history.
func (cm *ContextManager) Append(msgs ...llm.CompletionMessage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i := range msgs {
		msg := cloneMessage(msgs[i])
		if msg.Role == llm.RoleAssistant {
			msg.Content = reasoning.Strip(msg.Content)
		}
		cm.messages = append(cm.messages, msg)
	}
}

// AddMessage appends a plain role/content message.
func (cm *ContextManager) AddMessage(role llm.CompletionRole, content string) {
	cm.Append(llm.CompletionMessage{Role: role, Content: content})
}

// GetMessages returns a copy of the stored history.
func (cm *ContextManager) GetMessages() []llm.CompletionMessage {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]llm.CompletionMessage, len(cm.messages))
	for i := range cm.messages {
		out[i] = cloneMessage(cm.messages[i])
	}
	return out
}

// GetMessageCount returns the number of stored messages.
func (cm *ContextManager) GetMessageCount() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.messages)
}

// Clear removes all messages.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = cm.messages[:0]
}

// BuildMessages returns the request view of the history: the system prompt
// first, then the stored messages with orphaned tool records dropped and any
// reasoning stripped, compacted to the token budget.
func (cm *ContextManager) BuildMessages(systemPrompt string) []llm.CompletionMessage {
	cm.mu.Lock()
	history := make([]llm.CompletionMessage, len(cm.messages))
	for i := range cm.messages {
		history[i] = cloneMessage(cm.messages[i])
	}
	budget := cm.tokenBudget
	cm.mu.Unlock()

	history = DropOrphans(history)
	for i := range history {
		if history[i].Role == llm.RoleAssistant {
			history[i].Content = reasoning.Strip(history[i].Content)
		}
	}

	out := make([]llm.CompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, llm.NewSystemMessage(systemPrompt))
	}
	out = append(out, history...)
	if budget > 0 {
		out = Compact(out, budget)
	}
	return out
}

// DropOrphans removes tool results that do not answer a call of the assistant
// message directly before them, and tool calls that never got a result.
func DropOrphans(msgs []llm.CompletionMessage) []llm.CompletionMessage {
	out := make([]llm.CompletionMessage, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, msg)
				continue
			}
			answered := map[string]bool{}
			if i+1 < len(msgs) && msgs[i+1].Role == llm.RoleTool {
				for _, r := range msgs[i+1].ToolResults {
					answered[r.ToolCallID] = true
				}
			}
			calls := make([]llm.ToolCall, 0, len(msg.ToolCalls))
			for _, c := range msg.ToolCalls {
				if answered[c.ID] {
					calls = append(calls, c)
				}
			}
			msg.ToolCalls = calls
			if len(calls) == 0 && strings.TrimSpace(msg.Content) == "" {
				// nothing left to say; its results (if any) are orphans too
				if i+1 < len(msgs) && msgs[i+1].Role == llm.RoleTool {
					i++
				}
				continue
			}
			out = append(out, msg)
			if len(calls) > 0 {
				tool := msgs[i+1]
				tool.ToolResults = keepResults(tool.ToolResults, calls)
				out = append(out, tool)
				i++
			}
		case llm.RoleTool:
			// a tool message not consumed by the assistant branch has no calls to answer
			continue
		default:
			out = append(out, msg)
		}
	}
	return out
}

func keepResults(results []llm.ToolResult, calls []llm.ToolCall) []llm.ToolResult {
	ids := make(map[string]bool, len(calls))
	for _, c := range calls {
		ids[c.ID] = true
	}
	kept := make([]llm.ToolResult, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if ids[r.ToolCallID] && !seen[r.ToolCallID] {
			kept = append(kept, r)
			seen[r.ToolCallID] = true
		}
	}
	return kept
}

// CountTokens estimates the tokens of msgs.
func CountTokens(msgs []llm.CompletionMessage) int {
	total := 0
	for i := range msgs {
		total += messageTokens(&msgs[i])
	}
	return total
}

func messageTokens(msg *llm.CompletionMessage) int {
	n := 4 + utils.CountTokensSimple(msg.Content)
	for _, c := range msg.ToolCalls {
		n += utils.CountTokensSimple(c.Name) + utils.CountTokensSimple(fmt.Sprint(c.Parameters))
	}
	for _, r := range msg.ToolResults {
		n += utils.CountTokensSimple(r.Content)
	}
	return n
}

// Compact drops the oldest history until msgs fit in budget. System messages
// and the last user message are always kept, and an assistant tool-call
// message is dropped together with its results.
func Compact(msgs []llm.CompletionMessage, budget int) []llm.CompletionMessage {
	if CountTokens(msgs) <= budget {
		return msgs
	}

	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			lastUser = i
			break
		}
	}

	drop := make(map[int]bool)
	total := CountTokens(msgs)
	for i := 0; i < len(msgs) && total > budget; i++ {
		if msgs[i].Role == llm.RoleSystem || i >= lastUser {
			continue
		}
		unit := []int{i}
		if msgs[i].Role == llm.RoleAssistant && len(msgs[i].ToolCalls) > 0 && i+1 < len(msgs) && msgs[i+1].Role == llm.RoleTool {
			if i+1 >= lastUser {
				continue
			}
			unit = append(unit, i+1)
		}
		for _, j := range unit {
			drop[j] = true
			total -= messageTokens(&msgs[j])
		}
		i = unit[len(unit)-1]
	}

	out := make([]llm.CompletionMessage, 0, len(msgs)-len(drop))
	for i := range msgs {
		if !drop[i] {
			out = append(out, msgs[i])
		}
	}
	return out
}

// GetContextSummary returns a brief summary of the history.
func (cm *ContextManager) GetContextSummary() string {
	msgs := cm.GetMessages()
	if len(msgs) == 0 {
		return "Empty context"
	}
	roleCounts := make(map[string]int)
	for _, m := range msgs {
		roleCounts[string(m.Role)]++
	}
	roles := make([]string, 0, len(roleCounts))
	for role := range roleCounts {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	breakdown := make([]string, 0, len(roles))
	for _, role := range roles {
		breakdown = append(breakdown, fmt.Sprintf("%s: %d", role, roleCounts[role]))
	}
	return fmt.Sprintf("%d messages (%d tokens) - %s", len(msgs), CountTokens(msgs), strings.Join(breakdown, ", "))
}

func cloneMessage(m llm.CompletionMessage) llm.CompletionMessage {
	if m.ToolCalls != nil {
		m.ToolCalls = append([]llm.ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolResults != nil {
		m.ToolResults = append([]llm.ToolResult(nil), m.ToolResults...)
	}
	return m
}

// Registry holds one ContextManager per conversation.
type Registry struct {
	mu          sync.Mutex
	histories   map[string]*ContextManager
	tokenBudget int
}

// NewRegistry creates a registry whose histories share tokenBudget.
func NewRegistry(tokenBudget int) *Registry {
	if tokenBudget == 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Registry{histories: make(map[string]*ContextManager), tokenBudget: tokenBudget}
}

// For returns the history of conversationID, creating it on first use.
func (r *Registry) For(conversationID string) *ContextManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	cm, ok := r.histories[conversationID]
	if !ok {
		cm = NewContextManagerWithBudget(r.tokenBudget)
		r.histories[conversationID] = cm
	}
	return cm
}

// Reset forgets the history of conversationID.
func (r *Registry) Reset(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.histories, conversationID)
}
