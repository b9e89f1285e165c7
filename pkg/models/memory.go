// Package models defines the data types shared between the memory manager
// and its storage/embedding backends.
package models

import "time"

// MemoryEntry is one captured fact or excerpt stored in the vector index.
type MemoryEntry struct {
	ID string `json:"id"`

	// InstanceID scopes an entry to the task instance (run) that produced
	// it; AgentID scopes it to the agent configuration that was active.
	// Both are empty for entries captured outside an instance, such as
	// ones a human indexed directly.
	InstanceID string `json:"instance_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`

	Content  string         `json:"content"`
	Metadata MemoryMetadata `json:"metadata"`

	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryMetadata carries the provenance of a captured memory.
type MemoryMetadata struct {
	Source string         `json:"source"` // "observation", "submission", "note"
	Role   string         `json:"role"`   // "user", "assistant"
	Tags   []string       `json:"tags"`
	Extra  map[string]any `json:"extra"`
}

// MemoryScope narrows a search or count to a slice of the store.
type MemoryScope string

const (
	// ScopeInstance limits memory to one task instance's run.
	ScopeInstance MemoryScope = "instance"
	// ScopeAgent limits memory to everything a given agent configuration
	// has captured, across instances.
	ScopeAgent MemoryScope = "agent"
	// ScopeGlobal searches every stored memory.
	ScopeGlobal MemoryScope = "global"
	// ScopeAll is an alias for ScopeGlobal used by hierarchical search to
	// mean "merge every scope", distinct from explicitly requesting only
	// the global scope.
	ScopeAll MemoryScope = "all"
)

// SearchRequest is the input to a semantic memory search.
type SearchRequest struct {
	Query     string         `json:"query"`
	Scope     MemoryScope    `json:"scope"`
	ScopeID   string         `json:"scope_id"`
	Limit     int            `json:"limit"`
	Threshold float32        `json:"threshold"`
	Filters   map[string]any `json:"filters"`
}

// SearchResult is one scored hit from a memory search.
type SearchResult struct {
	Entry      *MemoryEntry `json:"entry"`
	Score      float32      `json:"score"`
	Highlights []string     `json:"highlights"`
}

// SearchResponse is the full result set of a memory search.
type SearchResponse struct {
	Results    []*SearchResult `json:"results"`
	TotalCount int             `json:"total_count"`
	QueryTime  time.Duration   `json:"query_time"`
}
