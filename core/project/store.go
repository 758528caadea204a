// Package project persists run state so an interrupted generation can
// resume without repeating finished phases. State lives in a SQLite
// database under the project directory; the lineage forest and phase
// statuses are checkpointed after every phase transition.
package project

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pixelsmith-ai/pixelsmith/core/lineage"
)

// RunStatus mirrors the orchestrator's terminal and resumable states.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunRecord is the persisted top-level run state.
type RunRecord struct {
	ProjectID   string
	ConceptPath string
	Status      RunStatus
	StyleHash   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the SQLite-backed checkpoint store for one project.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at dir/state.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		project_id TEXT PRIMARY KEY,
		concept_path TEXT NOT NULL,
		status TEXT NOT NULL,
		style_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS phases (
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (project_id, name)
	);

	CREATE TABLE IF NOT EXISTS phase_context (
		project_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (project_id, key)
	);

	CREATE TABLE IF NOT EXISTS prompt_nodes (
		project_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload TEXT NOT NULL,
		PRIMARY KEY (project_id, node_id)
	);

	CREATE INDEX IF NOT EXISTS idx_prompt_nodes_seq ON prompt_nodes(project_id, seq);

	CREATE TABLE IF NOT EXISTS artifacts (
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		cache_key TEXT NOT NULL,
		node_id TEXT NOT NULL,
		PRIMARY KEY (project_id, name)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveRun upserts the run record.
func (s *Store) SaveRun(run *RunRecord) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO runs (project_id, concept_path, status, style_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			concept_path = excluded.concept_path,
			status = excluded.status,
			style_hash = excluded.style_hash,
			updated_at = excluded.updated_at
	`, run.ProjectID, run.ConceptPath, run.Status, run.StyleHash, now, now)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// LoadRun returns the run record, or nil when the project is new.
func (s *Store) LoadRun(projectID string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT project_id, concept_path, status, style_hash, created_at, updated_at
		FROM runs WHERE project_id = ?
	`, projectID)

	var run RunRecord
	err := row.Scan(&run.ProjectID, &run.ConceptPath, &run.Status, &run.StyleHash, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return &run, nil
}

// SavePhaseStatus upserts one phase's status.
func (s *Store) SavePhaseStatus(projectID, phase, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO phases (project_id, name, status, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, projectID, phase, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save phase status: %w", err)
	}
	return nil
}

// LoadPhaseStatuses returns phase name to status.
func (s *Store) LoadPhaseStatuses(projectID string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT name, status FROM phases WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load phase statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string]string)
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, fmt.Errorf("scan phase status: %w", err)
		}
		statuses[name] = status
	}
	return statuses, rows.Err()
}

// SaveContextValue stores one accumulated-context entry as JSON.
func (s *Store) SaveContextValue(projectID, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value %q: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO phase_context (project_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id, key) DO UPDATE SET value = excluded.value
	`, projectID, key, string(payload))
	if err != nil {
		return fmt.Errorf("save context value: %w", err)
	}
	return nil
}

// LoadContext returns all context entries as raw JSON keyed by name.
func (s *Store) LoadContext(projectID string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT key, value FROM phase_context WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	defer rows.Close()

	ctx := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan context entry: %w", err)
		}
		ctx[key] = json.RawMessage(value)
	}
	return ctx, rows.Err()
}

// SaveNodes checkpoints the full lineage forest, preserving insertion
// order through the sequence column.
func (s *Store) SaveNodes(projectID string, nodes []*lineage.PromptNode) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin node checkpoint: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM prompt_nodes WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO prompt_nodes (project_id, node_id, seq, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer stmt.Close()

	for i, n := range nodes {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal node %s: %w", n.ID, err)
		}
		if _, err := stmt.Exec(projectID, n.ID, i, string(payload)); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// LoadNodes returns the checkpointed forest in insertion order.
func (s *Store) LoadNodes(projectID string) ([]*lineage.PromptNode, error) {
	rows, err := s.db.Query(`
		SELECT payload FROM prompt_nodes WHERE project_id = ? ORDER BY seq
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*lineage.PromptNode
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		var n lineage.PromptNode
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			return nil, fmt.Errorf("unmarshal node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// SaveArtifactRef records where an artifact's payload lives in the
// cache and which lineage node produced it.
func (s *Store) SaveArtifactRef(projectID, name, cacheKey, nodeID string) error {
	_, err := s.db.Exec(`
		INSERT INTO artifacts (project_id, name, cache_key, node_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			cache_key = excluded.cache_key,
			node_id = excluded.node_id
	`, projectID, name, cacheKey, nodeID)
	if err != nil {
		return fmt.Errorf("save artifact ref: %w", err)
	}
	return nil
}

// ArtifactRef locates one artifact in the cache.
type ArtifactRef struct {
	Name     string
	CacheKey string
	NodeID   string
}

// LoadArtifactRefs returns all artifact references for the project.
func (s *Store) LoadArtifactRefs(projectID string) ([]ArtifactRef, error) {
	rows, err := s.db.Query(`
		SELECT name, cache_key, node_id FROM artifacts WHERE project_id = ? ORDER BY name
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("load artifact refs: %w", err)
	}
	defer rows.Close()

	var refs []ArtifactRef
	for rows.Next() {
		var ref ArtifactRef
		if err := rows.Scan(&ref.Name, &ref.CacheKey, &ref.NodeID); err != nil {
			return nil, fmt.Errorf("scan artifact ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
