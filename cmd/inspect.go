// Package cmd provides CLI commands for the pixelsmith application.
// This file implements the inspect command for browsing prompt lineage.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelsmith-ai/pixelsmith/core/config"
	"github.com/pixelsmith-ai/pixelsmith/core/lineage"
	"github.com/pixelsmith-ai/pixelsmith/core/project"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// InspectDefaultLimit is the default number of search results.
	InspectDefaultLimit = 20

	// InspectMaxLimit is the maximum number of search results.
	InspectMaxLimit = 200
)

// =============================================================================
// Inspect Command Flags
// =============================================================================

var (
	inspectConfig     string
	inspectProjectDir string
	inspectQuery      string
	inspectFilter     string
	inspectLimit      int
	inspectJSON       bool
)

// =============================================================================
// Inspect Command
// =============================================================================

// inspectCmd represents the inspect command.
var inspectCmd = &cobra.Command{
	Use:   "inspect <project-id>",
	Short: "Inspect a project's prompt lineage",
	Long: `Inspect shows the recorded prompt lineage for a project: every
provider call and local derivation, its status, provenance, and cost.

Examples:
  pixelsmith inspect dungeon-quest
  pixelsmith inspect --query "palette" dungeon-quest
  pixelsmith inspect --filter 'sprite/*' dungeon-quest
  pixelsmith inspect --json dungeon-quest | jq '.nodes[].label'`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectConfig, "config", "c", "", "path to a pixelsmith config file")
	inspectCmd.Flags().StringVar(&inspectProjectDir, "project-dir", "", "override the project checkpoint directory")
	inspectCmd.Flags().StringVarP(&inspectQuery, "query", "q", "", "full-text search over prompts and responses")
	inspectCmd.Flags().StringVarP(&inspectFilter, "filter", "f", "", "glob filter on node labels, e.g. 'sprite/*'")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", InspectDefaultLimit, "max search results")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "emit output as JSON")
}

// =============================================================================
// Output Types
// =============================================================================

// inspectOutput is the JSON shape of an inspect invocation.
type inspectOutput struct {
	ProjectID string               `json:"project_id"`
	Run       *project.RunRecord   `json:"run,omitempty"`
	Nodes     []*lineage.PromptNode `json:"nodes"`
	TokensIn  int64                `json:"tokens_in"`
	TokensOut int64                `json:"tokens_out"`
	CostUSD   float64              `json:"cost_usd"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	manager := config.NewManager()
	if inspectConfig != "" {
		if err := manager.Load(inspectConfig); err != nil {
			return err
		}
	}
	projectDir := manager.Get().Pipeline.ProjectDir
	if inspectProjectDir != "" {
		projectDir = inspectProjectDir
	}

	store, err := project.Open(projectDir)
	if err != nil {
		return fmt.Errorf("opening project store: %w", err)
	}
	defer store.Close()

	nodes, err := store.LoadNodes(projectID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("no lineage recorded for project %q", projectID)
	}

	tracker := lineage.NewTracker()
	if err := tracker.Restore(nodes); err != nil {
		return err
	}

	selected, err := selectNodes(tracker, nodes)
	if err != nil {
		return err
	}

	run, err := store.LoadRun(projectID)
	if err != nil {
		return err
	}

	tokensIn, tokensOut, costUSD := tracker.Totals()
	out := &inspectOutput{
		ProjectID: projectID,
		Run:       run,
		Nodes:     selected,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   costUSD,
	}

	if inspectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printLineage(os.Stdout, out)
	return nil
}

// selectNodes applies the query and filter flags, newest first.
func selectNodes(tracker *lineage.Tracker, nodes []*lineage.PromptNode) ([]*lineage.PromptNode, error) {
	selected := nodes

	if inspectQuery != "" {
		limit := inspectLimit
		if limit <= 0 || limit > InspectMaxLimit {
			limit = InspectDefaultLimit
		}

		index, err := lineage.NewSearchIndex()
		if err != nil {
			return nil, err
		}
		defer index.Close()
		if err := index.IndexTracker(tracker); err != nil {
			return nil, err
		}

		ids, err := index.Search(inspectQuery, limit)
		if err != nil {
			return nil, err
		}
		matched := make(map[string]bool, len(ids))
		for _, id := range ids {
			matched[id] = true
		}

		var hits []*lineage.PromptNode
		for _, n := range selected {
			if matched[n.ID] {
				hits = append(hits, n)
			}
		}
		selected = hits
	}

	if inspectFilter != "" {
		filtered, err := lineage.FilterByLabel(selected, inspectFilter)
		if err != nil {
			return nil, err
		}
		selected = filtered
	}

	sort.Slice(selected, func(i, j int) bool {
		return selected[i].CreatedAt.After(selected[j].CreatedAt)
	})
	return selected, nil
}

// =============================================================================
// Terminal Output
// =============================================================================

func printLineage(w io.Writer, out *inspectOutput) {
	color := isTerminal(w)
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	fmt.Fprintf(w, "%s%s%s\n", colorBold, out.ProjectID, colorReset)
	if out.Run != nil {
		fmt.Fprintf(w, "%srun%s    %s, updated %s\n", colorGray, colorReset,
			out.Run.Status, out.Run.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%snodes%s  %d shown\n", colorGray, colorReset, len(out.Nodes))
	fmt.Fprintf(w, "%sspend%s  %d in / %d out tokens, $%.4f\n\n", colorGray, colorReset,
		out.TokensIn, out.TokensOut, out.CostUSD)

	for _, n := range out.Nodes {
		fmt.Fprintf(w, "%s %s %s%s%s\n", statusBadge(paint, n),
			n.Phase, colorBold, n.Label, colorReset)
		fmt.Fprintf(w, "   %sid%s %s", colorGray, colorReset, n.ID)
		if n.ParentID != "" {
			fmt.Fprintf(w, " %s<-%s %s", colorGray, colorReset, n.ParentID)
		}
		fmt.Fprintln(w)
		if n.ProviderCall {
			fmt.Fprintf(w, "   %svia%s %s/%s, %d in / %d out\n", colorGray, colorReset,
				n.Provider, n.Model, n.TokensIn, n.TokensOut)
		} else {
			fmt.Fprintf(w, "   %svia%s local transform\n", colorGray, colorReset)
		}
		if n.Error != "" {
			fmt.Fprintf(w, "   %s%s%s\n", colorRed, n.Error, colorReset)
		}
	}
}

func statusBadge(paint func(c, s string) string, n *lineage.PromptNode) string {
	switch n.Status {
	case lineage.StatusSucceeded:
		if n.Cached {
			return paint(colorGreen, "[cache]")
		}
		return paint(colorGreen, "[ ok  ]")
	case lineage.StatusFailed:
		return paint(colorRed, "[fail ]")
	case lineage.StatusStale:
		return paint(colorYellow, "[stale]")
	default:
		return paint(colorGray, "[pend ]")
	}
}
