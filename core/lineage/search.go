package lineage

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/gobwas/glob"
)

// nodeDocument is the shape indexed for full-text search.
type nodeDocument struct {
	ID       string `json:"id"`
	Level    string `json:"level"`
	Phase    string `json:"phase"`
	Label    string `json:"label"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Status   string `json:"status"`
}

// SearchIndex provides full-text search over recorded prompts and
// responses. The index is memory-only and rebuilt from the tracker on
// each inspect invocation.
type SearchIndex struct {
	mu    sync.Mutex
	index bleve.Index
}

// NewSearchIndex creates an empty in-memory index.
func NewSearchIndex() (*SearchIndex, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("lineage: create search index: %w", err)
	}
	return &SearchIndex{index: index}, nil
}

// IndexTracker indexes every node the tracker holds.
func (s *SearchIndex) IndexTracker(t *Tracker) error {
	for _, n := range t.All() {
		if err := s.IndexNode(n); err != nil {
			return err
		}
	}
	return nil
}

// IndexNode adds or replaces one node in the index.
func (s *SearchIndex) IndexNode(n *PromptNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := nodeDocument{
		ID:       n.ID,
		Level:    string(n.Level),
		Phase:    n.Phase,
		Label:    n.Label,
		Prompt:   n.Prompt,
		Response: n.Response,
		Status:   string(n.Status),
	}
	if err := s.index.Index(n.ID, doc); err != nil {
		return fmt.Errorf("lineage: index node %s: %w", n.ID, err)
	}
	return nil
}

// Search runs a match query over the index and returns matching node
// IDs ranked by relevance.
func (s *SearchIndex) Search(queryStr string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 25
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(queryStr))
	req.Size = limit

	result, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lineage: search failed: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// FilterByLabel returns the nodes whose label matches the glob pattern,
// e.g. "sprite/*" or "hero_*_variant".
func FilterByLabel(nodes []*PromptNode, pattern string) ([]*PromptNode, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("lineage: bad filter pattern %q: %w", pattern, err)
	}

	var out []*PromptNode
	for _, n := range nodes {
		if g.Match(n.Label) {
			out = append(out, n)
		}
	}
	return out, nil
}
