// Package retrieval implements the Adaptive Retrieval engine (C9):
// composing the Quadrant Index, Hybrid Search, Associative Graph, and
// Forgetting Curve Engine into token-budgeted context windows.
//
// The constructor takes the components; Retrieve orchestrates the
// sub-calls in order and emits a co-activation event at the end.
package retrieval

import (
	"context"
	"math"
	"time"

	"github.com/specmem/specmem/internal/dimension"
	"github.com/specmem/specmem/internal/forgetting"
	"github.com/specmem/specmem/internal/graph"
	"github.com/specmem/specmem/internal/quadrant"
	"github.com/specmem/specmem/internal/search"
	"github.com/specmem/specmem/internal/store"
)

// DefaultMaxCoreResults caps the core bucket regardless of token budget.
const DefaultMaxCoreResults = 20

// DefaultMaxAssociationDepth bounds spreading activation when the caller
// doesn't specify one.
const DefaultMaxAssociationDepth = 2

// DefaultAssociationMinStrength is the floor spreading activation applies
// when expanding from the top core results.
const DefaultAssociationMinStrength = 0.4

// ContextualRelaxation shrinks minRelevance for the second-pass contextual
// search, letting weaker matches through once the core/associated/chain
// buckets have had first pick.
const ContextualRelaxation = 0.8

// TokenBudgetFraction is the fraction of maxTokens the contextual pass may
// fill up to before stopping.
const TokenBudgetFraction = 0.95

// Options configures one Retrieve call.
type Options struct {
	MaxTokens           int
	MinRelevance        float64
	IncludeAssociations bool
	IncludeChains       bool
	MaxAssociationDepth int
}

// DefaultOptions returns sensible defaults for Options' zero value.
func DefaultOptions() Options {
	return Options{
		MaxTokens:           2000,
		MinRelevance:        0.5,
		IncludeAssociations: true,
		IncludeChains:       true,
		MaxAssociationDepth: DefaultMaxAssociationDepth,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.MinRelevance <= 0 {
		o.MinRelevance = d.MinRelevance
	}
	if o.MaxAssociationDepth <= 0 {
		o.MaxAssociationDepth = d.MaxAssociationDepth
	}
	return o
}

// Result is the four-bucket context window Retrieve returns to the caller.
type Result struct {
	Core          []*store.Memory
	Associated    []*store.Memory
	Chain         []*store.Memory
	Contextual    []*store.Memory
	TokenEstimate int
}

// EstimateTokens approximates token count as ceil(len(content)/4).
func EstimateTokens(content string) int {
	return int(math.Ceil(float64(len(content)) / 4))
}

// Engine is the Adaptive Retrieval component (C9).
type Engine struct {
	metadata   store.MetadataStore
	quadrants  *quadrant.Index
	hybrid     *search.MemorySearcher
	graph      *graph.Graph
	strength   *forgetting.Engine
	dims       *dimension.Service
	table      string
	maxQuadrants int
}

// New builds an Adaptive Retrieval Engine over its constituent components.
func New(metadata store.MetadataStore, quadrants *quadrant.Index, hybrid *search.MemorySearcher, g *graph.Graph, dims *dimension.Service, table string) *Engine {
	return &Engine{metadata: metadata, quadrants: quadrants, hybrid: hybrid, graph: g, dims: dims, table: table, maxQuadrants: quadrant.DefaultMaxQuadrants}
}

// WithStrength attaches the Forgetting Curve Engine so each retrieval also
// records a successful recall for its core memories.
func (e *Engine) WithStrength(f *forgetting.Engine) *Engine {
	e.strength = f
	return e
}

type chosenSet struct {
	ids map[string]bool
}

func newChosenSet() *chosenSet { return &chosenSet{ids: map[string]bool{}} }

func (c *chosenSet) add(id string)        { c.ids[id] = true }
func (c *chosenSet) has(id string) bool   { return c.ids[id] }
func (c *chosenSet) list() []string {
	out := make([]string, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, id)
	}
	return out
}

// Retrieve assembles a token-budgeted context window for queryText/embedding:
// core results via the Quadrant Index, associated memories via spreading
// activation on the top core results, chain members from chains touching
// the top core results, and a relaxed-threshold contextual pass filling
// remaining budget. A co-activation event covering every chosen id is
// emitted at the end.
func (e *Engine) Retrieve(ctx context.Context, projectPath, queryText string, embedding []float32, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	now := time.Now().UTC()
	chosen := newChosenSet()
	result := &Result{}

	projected := embedding
	if e.dims != nil && len(embedding) > 0 {
		n, err := e.dims.Discover(ctx, e.table)
		if err == nil && n > 0 {
			projected = e.dims.Project(embedding, n)
		}
	}

	core, err := e.coreResults(ctx, projectPath, projected, opts.MinRelevance)
	if err != nil {
		return nil, err
	}
	for _, m := range core {
		chosen.add(m.ID)
	}
	result.Core = core
	budget := budgetOf(core)

	if opts.IncludeAssociations && budget < opts.MaxTokens {
		associated, err := e.associatedResults(ctx, projectPath, core, opts, chosen)
		if err != nil {
			return nil, err
		}
		result.Associated = associated
		budget += budgetOf(associated)
	}

	if opts.IncludeChains && budget < opts.MaxTokens {
		chainMembers, err := e.chainResults(ctx, projectPath, core, chosen, now)
		if err != nil {
			return nil, err
		}
		result.Chain = chainMembers
		budget += budgetOf(chainMembers)
	}

	if float64(budget) < float64(opts.MaxTokens)*TokenBudgetFraction {
		contextual, err := e.contextualResults(ctx, projectPath, queryText, opts, chosen, opts.MaxTokens-budget)
		if err != nil {
			return nil, err
		}
		result.Contextual = contextual
		budget += budgetOf(contextual)
	}

	result.TokenEstimate = budget

	if e.graph != nil {
		allIDs := chosen.list()
		if len(allIDs) > 1 {
			_ = e.graph.CoActivate(ctx, allIDs, store.LinkTypeContextual, now)
		}
	}

	// Retrieval counts as a successful recall for the memories it surfaced
	// in the core bucket; best-effort, like the co-activation event.
	if e.strength != nil {
		for _, m := range result.Core {
			_, _ = e.strength.OnAccess(ctx, m.ID, m.Importance, true, now)
		}
	}

	return result, nil
}

func budgetOf(memories []*store.Memory) int {
	total := 0
	for _, m := range memories {
		total += EstimateTokens(m.Content)
	}
	return total
}

// coreResults selects memories above minRelevance via the Quadrant Index.
// When no quadrant clears the relevance floor the core bucket is empty; no
// global search is run. Capped at DefaultMaxCoreResults regardless of token
// budget.
func (e *Engine) coreResults(ctx context.Context, projectPath string, embedding []float32, minRelevance float64) ([]*store.Memory, error) {
	if len(embedding) == 0 || e.quadrants == nil {
		return nil, nil
	}

	hits, _, err := e.quadrants.SmartSearch(ctx, projectPath, embedding, DefaultMaxCoreResults, e.maxQuadrants, minRelevance)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for _, h := range hits {
		if float64(h.Score) < minRelevance {
			continue
		}
		ids = append(ids, h.ID)
		scoreByID[h.ID] = float64(h.Score)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	memories, err := e.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]*store.Memory, 0, len(memories))
	for _, m := range memories {
		if !m.IsExpired(now) {
			out = append(out, m)
		}
	}
	if len(out) > DefaultMaxCoreResults {
		out = out[:DefaultMaxCoreResults]
	}
	return out, nil
}

// associatedResults expands from the top 5 core memories via spreading
// activation.
func (e *Engine) associatedResults(ctx context.Context, projectPath string, core []*store.Memory, opts Options, chosen *chosenSet) ([]*store.Memory, error) {
	if e.graph == nil {
		return nil, nil
	}
	seeds := core
	if len(seeds) > 5 {
		seeds = seeds[:5]
	}

	seen := map[string]bool{}
	var ids []string
	for _, seed := range seeds {
		hits, err := e.graph.GetAssociated(ctx, seed.ID, opts.MaxAssociationDepth, DefaultAssociationMinStrength, DefaultMaxCoreResults)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if chosen.has(h.MemoryID) || seen[h.MemoryID] {
				continue
			}
			seen[h.MemoryID] = true
			ids = append(ids, h.MemoryID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	memories, err := e.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}
	return filterLiveAndMark(memories, chosen), nil
}

// chainResults pulls in members of any chain touching the top 3 core
// memories. Stale member ids that no longer resolve to a live memory are
// skipped, per the weak-reference contract chains hold.
func (e *Engine) chainResults(ctx context.Context, projectPath string, core []*store.Memory, chosen *chosenSet, now time.Time) ([]*store.Memory, error) {
	if e.graph == nil {
		return nil, nil
	}
	seeds := core
	if len(seeds) > 3 {
		seeds = seeds[:3]
	}
	seedIDs := make([]string, len(seeds))
	for i, s := range seeds {
		seedIDs[i] = s.ID
	}

	chains, err := e.graph.ListChains(ctx, projectPath)
	if err != nil {
		return nil, err
	}
	touching := graph.ChainsContaining(chains, seedIDs)

	var ids []string
	seen := map[string]bool{}
	for _, c := range touching {
		for _, id := range c.MemoryIDs {
			if chosen.has(id) || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	memories, err := e.metadata.GetMemories(ctx, projectPath, ids)
	if err != nil {
		return nil, err
	}
	return filterLiveAndMark(memories, chosen), nil
}

// contextualResults runs a second hybrid-search pass at a relaxed threshold,
// excluding anything already chosen, bounded by the remaining token budget.
func (e *Engine) contextualResults(ctx context.Context, projectPath, queryText string, opts Options, chosen *chosenSet, remainingBudget int) ([]*store.Memory, error) {
	if e.hybrid == nil || queryText == "" || remainingBudget <= 0 {
		return nil, nil
	}

	hits, err := e.hybrid.Search(ctx, projectPath, queryText, DefaultMaxCoreResults*2)
	if err != nil {
		return nil, err
	}

	relaxed := opts.MinRelevance * ContextualRelaxation
	var out []*store.Memory
	spent := 0
	for _, h := range hits {
		if chosen.has(h.Memory.ID) || h.Score < relaxed {
			continue
		}
		tok := EstimateTokens(h.Memory.Content)
		if spent+tok > remainingBudget {
			continue
		}
		chosen.add(h.Memory.ID)
		out = append(out, h.Memory)
		spent += tok
	}
	return out, nil
}

func filterLiveAndMark(memories []*store.Memory, chosen *chosenSet) []*store.Memory {
	now := time.Now().UTC()
	out := make([]*store.Memory, 0, len(memories))
	for _, m := range memories {
		if m.IsExpired(now) {
			continue
		}
		chosen.add(m.ID)
		out = append(out, m)
	}
	return out
}
