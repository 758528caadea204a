// Package cmd provides CLI commands for the pixelsmith application.
// This file implements the generate command, the main asset pipeline entry.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pixelsmith-ai/pixelsmith/core/artifact"
	"github.com/pixelsmith-ai/pixelsmith/core/cache"
	"github.com/pixelsmith-ai/pixelsmith/core/concept"
	"github.com/pixelsmith-ai/pixelsmith/core/config"
	"github.com/pixelsmith-ai/pixelsmith/core/events"
	"github.com/pixelsmith-ai/pixelsmith/core/lineage"
	"github.com/pixelsmith-ai/pixelsmith/core/orchestrator"
	"github.com/pixelsmith-ai/pixelsmith/core/project"
	"github.com/pixelsmith-ai/pixelsmith/core/providers"
	"github.com/pixelsmith-ai/pixelsmith/core/providers/ratelimit"
	"github.com/pixelsmith-ai/pixelsmith/core/render"
	"github.com/pixelsmith-ai/pixelsmith/core/styleguide"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// ExitFailed is the process exit code when the run finished with
	// failed phases.
	ExitFailed = 2

	// ExitCancelled is the process exit code after an interrupted run,
	// following the shell convention of 128+SIGINT.
	ExitCancelled = 130

	// GenerateDefaultOutDir is where exported assets land.
	GenerateDefaultOutDir = ".pixelsmith/out"

	// styleGuideArtifact is the artifact name the style-guide phase
	// publishes and watch mode observes on disk.
	styleGuideArtifact = "style_guide"

	// watchDebounce coalesces bursts of editor write events.
	watchDebounce = 500 * time.Millisecond
)

// ANSI color codes for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// =============================================================================
// Generate Command Flags
// =============================================================================

var (
	generateConfig      string
	generateCacheDir    string
	generateProjectDir  string
	generateOutDir      string
	generateConcurrency int
	generateProvider    string
	generateResume      string
	generateWatch       bool
	generateJSON        bool
	generateVerbose     bool
)

// =============================================================================
// Generate Command
// =============================================================================

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:   "generate <concept-file>",
	Short: "Generate a game asset set from a concept file",
	Long: `Generate runs the full asset pipeline for a game concept.

The pipeline derives a style guide from the concept, plans the asset
set, then fans out sprite, tile, narrative, dialogue, and voice-line
generation. Results are cached and checkpointed, so re-running the same
concept resumes where the previous run stopped.

Examples:
  pixelsmith generate concept.yaml
  pixelsmith generate --provider anthropic concept.yaml
  pixelsmith generate --resume dungeon-quest concept.yaml
  pixelsmith generate --watch concept.yaml
  pixelsmith generate --json concept.yaml | jq .type`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateConfig, "config", "c", "", "path to a pixelsmith config file")
	generateCmd.Flags().StringVar(&generateCacheDir, "cache-dir", "", "override the response cache directory")
	generateCmd.Flags().StringVar(&generateProjectDir, "project-dir", "", "override the project checkpoint directory")
	generateCmd.Flags().StringVarP(&generateOutDir, "out", "o", GenerateDefaultOutDir, "directory to export generated assets into")
	generateCmd.Flags().IntVar(&generateConcurrency, "concurrency", 0, "max concurrent provider calls (0 = config value)")
	generateCmd.Flags().StringVar(&generateProvider, "provider", "", "preferred provider (anthropic, openai, gemini)")
	generateCmd.Flags().StringVar(&generateResume, "resume", "", "project id to resume instead of deriving one from the concept name")
	generateCmd.Flags().BoolVarP(&generateWatch, "watch", "w", false, "after the run, watch the exported style guide and regenerate on edits")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "emit progress events as JSON lines")
	generateCmd.Flags().BoolVarP(&generateVerbose, "verbose", "v", false, "enable debug logging")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadGenerateConfig()
	if err != nil {
		return err
	}

	gameConcept, err := concept.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading concept: %w", err)
	}

	// An existing checkpoint under the project id resumes automatically;
	// a fresh id starts clean.
	projectID := generateResume
	if projectID == "" {
		projectID = projectSlug(gameConcept.Name)
	}

	logger := newLogger(generateVerbose)

	rig, err := buildPipelineRig(ctx, cfg, gameConcept, projectID, logger)
	if err != nil {
		return err
	}
	defer rig.Close()

	report, err := rig.Orchestrator.Run(ctx)
	if err != nil {
		return err
	}
	if err := exportArtifacts(generateOutDir, projectID, report.Artifacts); err != nil {
		return err
	}
	if !generateJSON {
		printRunSummary(os.Stdout, report, rig.Ledger)
	}

	if generateWatch && report.Succeeded() {
		if err := watchStyleGuide(ctx, rig, projectID, logger); err != nil {
			return err
		}
	}

	switch report.State {
	case orchestrator.RunStateComplete:
		return nil
	case orchestrator.RunStateCancelled:
		return &ExitError{Code: ExitCancelled}
	default:
		return &ExitError{Code: ExitFailed}
	}
}

// =============================================================================
// Configuration
// =============================================================================

func loadGenerateConfig() (*config.Config, error) {
	manager := config.NewManager()
	if generateConfig != "" {
		if err := manager.Load(generateConfig); err != nil {
			return nil, err
		}
	}

	cfg := manager.Get()
	if generateCacheDir != "" {
		cfg.Cache.Dir = generateCacheDir
	}
	if generateProjectDir != "" {
		cfg.Pipeline.ProjectDir = generateProjectDir
	}
	if generateConcurrency > 0 {
		cfg.Pipeline.MaxConcurrency = generateConcurrency
	}
	if generateProvider != "" {
		cfg.Providers.Default = generateProvider
	}
	return cfg, nil
}

// projectSlug derives a stable project id from the concept name.
func projectSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "untitled"
	}
	return b.String()
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// =============================================================================
// Pipeline Assembly
// =============================================================================

// pipelineRig bundles everything runGenerate wires together so the run
// and watch phases can share one assembled pipeline.
type pipelineRig struct {
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Cache
	Store        *project.Store
	Bus          *events.Bus
	Ledger       *providers.CostLedger
	OutDir       string
}

func (r *pipelineRig) Close() {
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.Store != nil {
		r.Store.Close()
	}
	if r.Cache != nil {
		r.Cache.Close()
	}
}

func buildPipelineRig(ctx context.Context, cfg *config.Config, gameConcept *concept.GenerationConcept,
	projectID string, logger *slog.Logger) (*pipelineRig, error) {
	ledger := providers.NewCostLedger()
	registry, err := buildRegistry(ctx, cfg, ledger, logger)
	if err != nil {
		return nil, err
	}
	adapters := buildCapabilityAdapters(registry, logger)

	responseCache, err := cache.New(cache.Config{
		Dir:            cfg.Cache.Dir,
		MemoryMaxBytes: cfg.Cache.MemoryMaxBytes,
		DiskMaxEntries: cfg.Cache.DiskMaxEntries,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening response cache: %w", err)
	}

	store, err := project.Open(cfg.Pipeline.ProjectDir)
	if err != nil {
		responseCache.Close()
		return nil, fmt.Errorf("opening project store: %w", err)
	}

	bus := events.NewBus(0)
	bus.Subscribe(events.SubscriberFunc{
		Name: "cli-progress",
		Fn:   progressPrinter(os.Stdout, generateJSON),
	})
	bus.Start()

	renderer := render.NewRenderer(render.NewBuiltinRegistry())
	engine := orchestrator.NewEngine(renderer, responseCache, lineage.NewTracker(), adapters, logger)

	orch, err := orchestrator.New(orchestrator.Options{
		ProjectID:      projectID,
		Concept:        gameConcept,
		Engine:         engine,
		Cache:          responseCache,
		Store:          store,
		Bus:            bus,
		Logger:         logger,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
	})
	if err != nil {
		bus.Close()
		store.Close()
		responseCache.Close()
		return nil, err
	}

	err = orchestrator.BuildPipeline(orch, orchestrator.PipelineConfig{
		StyleTemperature: cfg.Style.Temperature,
		Checker:          styleguide.NewPaletteChecker(cfg.Style.PaletteTolerance, cfg.Style.SampleStride),
	})
	if err != nil {
		bus.Close()
		store.Close()
		responseCache.Close()
		return nil, err
	}

	return &pipelineRig{
		Orchestrator: orch,
		Cache:        responseCache,
		Store:        store,
		Bus:          bus,
		Ledger:       ledger,
		OutDir:       generateOutDir,
	}, nil
}

// buildRegistry constructs one resilient adapter per vendor that has
// credentials, sharing a single cost ledger across all of them.
func buildRegistry(ctx context.Context, cfg *config.Config, ledger *providers.CostLedger,
	logger *slog.Logger) (*providers.Registry, error) {
	limits := ratelimit.DefaultConfig()
	if cfg.Providers.RateLimitRPS > 0 {
		limits.TokenBucket.RefillRate = cfg.Providers.RateLimitRPS
	}
	if cfg.Providers.Burst > 0 {
		limits.TokenBucket.Capacity = cfg.Providers.Burst
	}

	registry := providers.NewRegistry()
	register := func(inner providers.Adapter) error {
		return registry.Register(providers.NewResilientAdapter(inner, providers.ResilientConfig{
			Limiter:     ratelimit.NewLimiter(inner.Name(), limits),
			Ledger:      ledger,
			CallTimeout: cfg.Providers.CallTimeout.Std(),
			Logger:      logger,
		}))
	}

	if v := cfg.Providers.Anthropic; v.APIKey != "" {
		a, err := providers.NewAnthropicAdapter(vendorAdapterConfig(v))
		if err != nil {
			return nil, fmt.Errorf("anthropic adapter: %w", err)
		}
		if err := register(a); err != nil {
			return nil, err
		}
	}
	if v := cfg.Providers.OpenAI; v.APIKey != "" {
		a, err := providers.NewOpenAIAdapter(vendorAdapterConfig(v))
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		if err := register(a); err != nil {
			return nil, err
		}
	}
	if v := cfg.Providers.Gemini; v.APIKey != "" {
		a, err := providers.NewGoogleAdapter(ctx, vendorAdapterConfig(v))
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		if err := register(a); err != nil {
			return nil, err
		}
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no provider credentials configured; set ANTHROPIC_API_KEY, OPENAI_API_KEY, or GEMINI_API_KEY")
	}
	if cfg.Providers.Default != "" {
		if err := registry.SetDefault(cfg.Providers.Default); err != nil {
			logger.Warn("default provider not configured, using first registered",
				"provider", cfg.Providers.Default)
		}
	}
	return registry, nil
}

func vendorAdapterConfig(v config.VendorConfig) providers.AdapterConfig {
	return providers.AdapterConfig{
		APIKey:     v.APIKey,
		BaseURL:    v.BaseURL,
		TextModel:  v.TextModel,
		ImageModel: v.ImageModel,
		AudioModel: v.AudioModel,
		AudioVoice: v.AudioVoice,
	}
}

// buildCapabilityAdapters resolves one adapter per capability, wrapping
// multi-provider chains in a fallback adapter. Capabilities no provider
// serves are left unmapped; the owning phase reports the gap at run time.
func buildCapabilityAdapters(registry *providers.Registry, logger *slog.Logger) map[providers.Capability]providers.Adapter {
	adapters := make(map[providers.Capability]providers.Adapter)
	for _, c := range []providers.Capability{
		providers.CapabilityText,
		providers.CapabilityImage,
		providers.CapabilityAudio,
	} {
		chain, err := registry.Chain(c)
		if err != nil {
			logger.Warn("capability unavailable", "capability", c, "error", err)
			continue
		}
		if len(chain) == 1 {
			adapters[c] = chain[0]
			continue
		}
		fb, err := providers.NewFallbackChain(logger, chain...)
		if err != nil {
			adapters[c] = chain[0]
			continue
		}
		adapters[c] = fb
	}
	return adapters
}

// =============================================================================
// Progress Output
// =============================================================================

func progressPrinter(w io.Writer, asJSON bool) func(*events.ProgressEvent) {
	if asJSON {
		enc := json.NewEncoder(w)
		return func(ev *events.ProgressEvent) {
			_ = enc.Encode(ev)
		}
	}

	color := isTerminal(w)
	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	return func(ev *events.ProgressEvent) {
		switch ev.Type {
		case events.EventRunStarted:
			fmt.Fprintf(w, "%s run %s\n", paint(colorBold, "▶"), ev.ProjectID)
		case events.EventPhaseStarted:
			fmt.Fprintf(w, "%s %s\n", paint(colorCyan, "phase"), ev.Phase)
		case events.EventPhaseCompleted:
			fmt.Fprintf(w, "%s %s\n", paint(colorGreen, "done "), ev.Phase)
		case events.EventPhaseFailed:
			fmt.Fprintf(w, "%s %s: %s\n", paint(colorRed, "fail "), ev.Phase, ev.Err)
		case events.EventTaskCompleted:
			fmt.Fprintf(w, "  %s %s %s\n", paint(colorGreen, "✓"), ev.Label,
				paint(colorGray, fmt.Sprintf("%3.0f%%", ev.Fraction*100)))
		case events.EventTaskCached:
			fmt.Fprintf(w, "  %s %s %s\n", paint(colorGreen, "✓"), ev.Label,
				paint(colorGray, "(cached)"))
		case events.EventTaskFailed:
			fmt.Fprintf(w, "  %s %s: %s\n", paint(colorYellow, "✗"), ev.Label, ev.Err)
		case events.EventInvalidation:
			fmt.Fprintf(w, "%s %v\n", paint(colorYellow, "invalidated"), ev.Data["phases"])
		case events.EventRunCompleted:
			fmt.Fprintf(w, "%s\n", paint(colorGreen+colorBold, "run complete"))
		case events.EventRunFailed:
			fmt.Fprintf(w, "%s\n", paint(colorRed+colorBold, "run failed"))
		case events.EventRunCancelled:
			fmt.Fprintf(w, "%s\n", paint(colorYellow+colorBold, "run cancelled"))
		}
	}
}

func printRunSummary(w io.Writer, report *orchestrator.RunReport, ledger *providers.CostLedger) {
	fmt.Fprintf(w, "\n%sproject%s   %s\n", colorGray, colorReset, report.ProjectID)
	fmt.Fprintf(w, "%sstate%s     %s\n", colorGray, colorReset, report.State)
	fmt.Fprintf(w, "%sartifacts%s %d\n", colorGray, colorReset, len(report.Artifacts))
	fmt.Fprintf(w, "%stokens%s    %d in / %d out\n", colorGray, colorReset, report.TokensIn, report.TokensOut)
	fmt.Fprintf(w, "%scache%s     %d mem / %d disk hits, %d misses\n", colorGray, colorReset,
		report.CacheStats.MemoryHits, report.CacheStats.DiskHits, report.CacheStats.Misses)
	fmt.Fprintf(w, "%sduration%s  %s\n", colorGray, colorReset, report.Duration.Round(time.Millisecond))

	if ledger != nil && ledger.Calls() > 0 {
		fmt.Fprintf(w, "%sspend%s     $%.4f across %d calls\n", colorGray, colorReset,
			ledger.Total(), ledger.Calls())
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "%sfailure%s   [%s] %s: %s\n", colorRed, colorReset, f.Phase, f.Task, f.Message)
	}
}

// isTerminal returns true if the given writer is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// Export
// =============================================================================

// exportArtifacts writes each artifact under outDir/projectID, mapping
// slash-separated artifact names to directories.
func exportArtifacts(outDir, projectID string, artifacts map[string]*artifact.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	root := filepath.Join(outDir, projectID)
	for name, art := range artifacts {
		path := filepath.Join(root, filepath.FromSlash(name)+artifactExt(art))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("exporting %s: %w", name, err)
		}
		if err := os.WriteFile(path, art.Payload(), 0o644); err != nil {
			return fmt.Errorf("exporting %s: %w", name, err)
		}
	}
	return nil
}

func artifactExt(a *artifact.Artifact) string {
	switch a.Kind {
	case artifact.KindImage:
		return ".png"
	case artifact.KindAudio:
		if a.MIME == "audio/wav" {
			return ".wav"
		}
		return ".mp3"
	case artifact.KindJSON:
		return ".json"
	default:
		return ".txt"
	}
}

// =============================================================================
// Watch Mode
// =============================================================================

// watchStyleGuide blocks watching the exported style guide file. An edit
// is pushed back into the response cache under the style guide's original
// cache key, the style lineage is invalidated, and the pipeline re-runs;
// unaffected branches come straight back from cache.
func watchStyleGuide(ctx context.Context, rig *pipelineRig, projectID string, logger *slog.Logger) error {
	stylePath := filepath.Join(rig.OutDir, projectID, styleGuideArtifact+".json")
	if _, err := os.Stat(stylePath); err != nil {
		return fmt.Errorf("watch: no exported style guide at %s", stylePath)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(stylePath)); err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	fmt.Fprintf(os.Stdout, "%swatching%s %s (ctrl-c to stop)\n", colorCyan, colorReset, stylePath)

	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	lastApplied := ""

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != stylePath || !ev.Op.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if pending {
				debounce.Stop()
			}
			debounce.Reset(watchDebounce)
			pending = true
		case <-debounce.C:
			pending = false
			applied, err := regenerateFromStyleEdit(ctx, rig, projectID, stylePath, lastApplied, logger)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("regeneration failed", "error", err)
				continue
			}
			lastApplied = applied
		}
	}
}

// regenerateFromStyleEdit applies an edited style guide and re-runs the
// pipeline. It returns the applied guide hash so the caller can ignore
// the watcher events raised by its own re-export.
func regenerateFromStyleEdit(ctx context.Context, rig *pipelineRig, projectID, stylePath, lastApplied string,
	logger *slog.Logger) (string, error) {
	data, err := os.ReadFile(stylePath)
	if err != nil {
		return lastApplied, err
	}
	guide, err := styleguide.Parse(string(data))
	if err != nil {
		return lastApplied, fmt.Errorf("edited style guide is invalid: %w", err)
	}
	if guide.Hash() == lastApplied {
		return lastApplied, nil
	}

	ref, err := styleArtifactRef(rig.Store, projectID)
	if err != nil {
		return lastApplied, err
	}

	// Overwrite the cached style-guide response so the resumed pipeline
	// derives everything downstream from the edited guide.
	rig.Cache.Put(ref.CacheKey, &artifact.Artifact{
		Kind:      artifact.KindJSON,
		Name:      styleGuideArtifact,
		Text:      string(data),
		NodeID:    ref.NodeID,
		StyleHash: guide.Hash(),
		CreatedAt: time.Now().UTC(),
	})
	rig.Cache.Flush()

	reset, err := rig.Orchestrator.Invalidate(ref.NodeID)
	if err != nil {
		return lastApplied, err
	}
	logger.Info("style guide edited", "reset_phases", reset)

	report, err := rig.Orchestrator.Run(ctx)
	if err != nil {
		return lastApplied, err
	}
	if err := exportArtifacts(rig.OutDir, projectID, report.Artifacts); err != nil {
		return lastApplied, err
	}
	if !generateJSON {
		printRunSummary(os.Stdout, report, rig.Ledger)
	}
	return guide.Hash(), nil
}

func styleArtifactRef(store *project.Store, projectID string) (*project.ArtifactRef, error) {
	refs, err := store.LoadArtifactRefs(projectID)
	if err != nil {
		return nil, err
	}
	for i := range refs {
		if refs[i].Name == styleGuideArtifact {
			return &refs[i], nil
		}
	}
	return nil, fmt.Errorf("project %s has no recorded style guide", projectID)
}
