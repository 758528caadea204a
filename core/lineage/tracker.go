package lineage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Tracker is the append-only lineage record for one project. All
// mutations go through the tracker's lock; callers receive clones.
type Tracker struct {
	mu       sync.RWMutex
	nodes    map[string]*PromptNode
	children map[string][]string
	order    []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		nodes:    make(map[string]*PromptNode),
		children: make(map[string][]string),
	}
}

// Record adds a node. The parent, when set, must already be recorded.
func (t *Tracker) Record(node *PromptNode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[node.ID]; exists {
		return fmt.Errorf("lineage: node %s already recorded", node.ID)
	}
	if node.ParentID != "" {
		if _, ok := t.nodes[node.ParentID]; !ok {
			return fmt.Errorf("lineage: parent %s not recorded", node.ParentID)
		}
	}

	t.nodes[node.ID] = node.Clone()
	t.order = append(t.order, node.ID)
	if node.ParentID != "" {
		t.children[node.ParentID] = append(t.children[node.ParentID], node.ID)
	}
	return nil
}

// Complete marks a node succeeded and records its response and usage.
func (t *Tracker) Complete(id, response string, tokensIn, tokensOut int64, costUSD float64) error {
	return t.finish(id, func(n *PromptNode) {
		n.Status = StatusSucceeded
		n.Response = response
		n.TokensIn = tokensIn
		n.TokensOut = tokensOut
		n.CostUSD = costUSD
	})
}

// Fail marks a node failed with the terminal error message.
func (t *Tracker) Fail(id, errMsg string) error {
	return t.finish(id, func(n *PromptNode) {
		n.Status = StatusFailed
		n.Error = errMsg
	})
}

// MarkCached flags a node as having been answered from the cache.
func (t *Tracker) MarkCached(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("lineage: node %s not recorded", id)
	}
	n.Cached = true
	return nil
}

// SetProvenance records which provider and model served the node.
func (t *Tracker) SetProvenance(id, provider, model string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("lineage: node %s not recorded", id)
	}
	n.Provider = provider
	n.Model = model
	return nil
}

func (t *Tracker) finish(id string, apply func(*PromptNode)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("lineage: node %s not recorded", id)
	}
	apply(n)
	n.CompletedAt = time.Now().UTC()
	return nil
}

// Get returns a clone of the node, or nil when unknown.
func (t *Tracker) Get(id string) *PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	return n.Clone()
}

// Descendants returns the transitive closure below id, breadth-first,
// not including id itself.
func (t *Tracker) Descendants(id string) []*PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*PromptNode
	queue := append([]string(nil), t.children[id]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if n, ok := t.nodes[current]; ok {
			out = append(out, n.Clone())
		}
		queue = append(queue, t.children[current]...)
	}
	return out
}

// MarkStale marks the node and every descendant stale, returning the
// IDs it touched. Pending nodes are left alone; they have not produced
// anything to invalidate.
func (t *Tracker) MarkStale(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var touched []string
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if n, ok := t.nodes[current]; ok && n.Status != StatusPending {
			if n.Status != StatusStale {
				n.Status = StatusStale
				touched = append(touched, current)
			}
		}
		queue = append(queue, t.children[current]...)
	}
	return touched
}

// Roots returns clones of all root nodes in insertion order.
func (t *Tracker) Roots() []*PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*PromptNode
	for _, id := range t.order {
		if n := t.nodes[id]; n.IsRoot() {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Children returns clones of the direct children of id in insertion order.
func (t *Tracker) Children(id string) []*PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*PromptNode, 0, len(t.children[id]))
	for _, childID := range t.children[id] {
		out = append(out, t.nodes[childID].Clone())
	}
	return out
}

// All returns clones of every node in insertion order.
func (t *Tracker) All() []*PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*PromptNode, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

// Len returns the number of recorded nodes.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Totals sums usage across all nodes.
func (t *Tracker) Totals() (tokensIn, tokensOut int64, costUSD float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, n := range t.nodes {
		tokensIn += n.TokensIn
		tokensOut += n.TokensOut
		costUSD += n.CostUSD
	}
	return tokensIn, tokensOut, costUSD
}

// ByPhase returns clones of nodes belonging to phase, ordered by
// creation time.
func (t *Tracker) ByPhase(phase string) []*PromptNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*PromptNode
	for _, id := range t.order {
		if n := t.nodes[id]; n.Phase == phase {
			out = append(out, n.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Restore loads previously persisted nodes, replacing current state.
// Nodes must arrive parent-before-child, which insertion order
// guarantees for anything serialized from All.
func (t *Tracker) Restore(nodes []*PromptNode) error {
	t.mu.Lock()
	t.nodes = make(map[string]*PromptNode, len(nodes))
	t.children = make(map[string][]string)
	t.order = t.order[:0]
	t.mu.Unlock()

	for _, n := range nodes {
		if err := t.Record(n); err != nil {
			return err
		}
	}
	return nil
}
