// Package engine implements the Agent Graph Engine of spec §4.5: the
// call_model/call_tools/END state machine that drives a single agent run,
// grounded on the teacher's processGenerationWithEvents/streamAndHandleEvents
// loop in pkg/core/ml/llm/agent/agent.go and on the original LangGraph state
// machine in original_source/server/services/peng_agent.py, which this
// engine reproduces as an explicit Go state machine rather than a graph
// library (the teacher does the same: a hand-rolled loop, not a DAG
// framework).
package engine

import "convoengine/internal/contentblock"

// AgentState is the append-only ordered list of Messages mutated only by
// appending, per spec §3.
type AgentState struct {
	Messages []contentblock.Message
}

// Append adds msg to the end of the state. It is the only mutator.
func (s *AgentState) Append(msg contentblock.Message) {
	s.Messages = append(s.Messages, msg)
}

// Last returns the final Message, or the zero Message and false if empty.
func (s *AgentState) Last() (contentblock.Message, bool) {
	if len(s.Messages) == 0 {
		return contentblock.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// toolCallKey is the (name, args) identity ToolCallHistory deduplicates on.
// args is captured as its JSON-canonicalized form at record time by the
// caller (see historyKey in graph.go) since map[string]any is not
// comparable.
type toolCallKey struct {
	name string
	args string
}

// ToolCallHistory is the ordered set of (name, args, id) triples observed
// in the current run, used for duplicate-call detection per spec §4.5 step
// 4. Lifetime is one request — a fresh History is built per run.
type ToolCallHistory struct {
	seen    map[toolCallKey]string
	entries []HistoryEntry
}

// HistoryEntry is one recorded invocation.
type HistoryEntry struct {
	Name string
	Args string
	ID   string
}

// NewToolCallHistory returns an empty history.
func NewToolCallHistory() *ToolCallHistory {
	return &ToolCallHistory{seen: make(map[toolCallKey]string)}
}

// Seen reports whether (name, args) has already been recorded.
func (h *ToolCallHistory) Seen(name, args string) bool {
	_, ok := h.seen[toolCallKey{name: name, args: args}]
	return ok
}

// Record adds (name, args, id) to the history. Callers must check Seen
// first; Record does not itself reject duplicates, matching the original's
// "record on successful, non-duplicate invocation" ordering (step 6 follows
// step 4 in the node's precondition list).
func (h *ToolCallHistory) Record(name, args, id string) {
	key := toolCallKey{name: name, args: args}
	h.seen[key] = id
	h.entries = append(h.entries, HistoryEntry{Name: name, Args: args, ID: id})
}

// Entries returns the recorded history in invocation order.
func (h *ToolCallHistory) Entries() []HistoryEntry {
	return h.entries
}
