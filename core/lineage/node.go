// Package lineage records the ancestry of every prompt issued during a
// generation run. Nodes form a forest: roots are the concept-level
// metaprompts, interior nodes the derived prompts built from earlier
// responses, leaves the provider calls that produced assets. The record
// is what makes cascade invalidation possible, because a change to any
// node identifies exactly the downstream work that must be redone.
package lineage

import (
	"time"

	"github.com/google/uuid"
)

// Level classifies where a node sits in the derivation chain.
type Level string

const (
	LevelMetaprompt Level = "metaprompt"
	LevelDerived    Level = "derived-prompt"
	LevelGeneration Level = "generation"
)

// Status tracks a node through its lifecycle. Succeeded and failed
// nodes are never mutated back to pending; invalidation marks them
// stale and re-runs create fresh nodes.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStale     Status = "stale"
)

// PromptNode is one recorded prompt and its outcome.
type PromptNode struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Level    Level  `json:"level"`
	Phase    string `json:"phase"`
	Label    string `json:"label"`

	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	Status Status `json:"status"`

	// ProviderCall is false for nodes produced by local transforms,
	// such as deterministic asset variations.
	ProviderCall bool `json:"provider_call"`
	Cached       bool `json:"cached"`

	Provider  string  `json:"provider,omitempty"`
	Model     string  `json:"model,omitempty"`
	TokensIn  int64   `json:"tokens_in"`
	TokensOut int64   `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// NewNode creates a pending node. An empty parentID makes it a root.
func NewNode(parentID string, level Level, phase, label, prompt string) *PromptNode {
	return &PromptNode{
		ID:           uuid.NewString(),
		ParentID:     parentID,
		Level:        level,
		Phase:        phase,
		Label:        label,
		Prompt:       prompt,
		Status:       StatusPending,
		ProviderCall: true,
		CreatedAt:    time.Now().UTC(),
	}
}

// IsRoot reports whether the node has no parent.
func (n *PromptNode) IsRoot() bool {
	return n.ParentID == ""
}

// Clone returns a copy safe to hand outside the tracker's lock.
func (n *PromptNode) Clone() *PromptNode {
	c := *n
	return &c
}
