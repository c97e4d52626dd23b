package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/hyperifyio/helmet/internal/article"
	"github.com/hyperifyio/helmet/internal/cache"
	"github.com/hyperifyio/helmet/internal/fetch"
	"github.com/hyperifyio/helmet/internal/index"
	"github.com/hyperifyio/helmet/internal/label"
	"github.com/hyperifyio/helmet/internal/llm"
	"github.com/hyperifyio/helmet/internal/merge"
	"github.com/hyperifyio/helmet/internal/papers"
	"github.com/hyperifyio/helmet/internal/pubmed"
	"github.com/hyperifyio/helmet/internal/query"
	"github.com/hyperifyio/helmet/internal/tableqa"
	"github.com/hyperifyio/helmet/internal/tables"
	"github.com/hyperifyio/helmet/internal/triage"
)

// App wires the pipeline stages to their collaborators.
type App struct {
	cfg      Config
	http     *fetch.Client
	pubmed   *pubmed.Client
	ai       llm.Client
	llmCache *cache.LLMCache
}

// New builds the HTTP client, caches and model provider for cfg.
func New(ctx context.Context, cfg Config) (*App, error) {
	httpClient := newHTTPClient()
	provider := llm.NewOpenAIProvider(cfg.LLMAPIKey, cfg.LLMBaseURL, func(c *openai.ClientConfig) {
		c.HTTPClient = httpClient
	})
	a := NewWithClient(cfg, provider)
	a.http.HTTPClient = httpClient

	if cfg.LLMAPIKey != "" || cfg.LLMBaseURL != "" {
		// Preflight is best-effort; a failing model surfaces per call.
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		models, err := provider.ListModels(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("LLM model list failed; continuing")
		} else if len(models.Models) > 0 {
			log.Debug().Int("count", len(models.Models)).Msg("LLM models available")
		}
	}
	return a, nil
}

// NewWithClient builds an App around an existing model client.
func NewWithClient(cfg Config, ai llm.Client) *App {
	a := &App{cfg: cfg, ai: ai}
	var httpCache *cache.HTTPCache
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				log.Warn().Err(err).Msg("cache clear failed")
			}
		}
		httpDir := filepath.Join(cfg.CacheDir, "http")
		llmDir := filepath.Join(cfg.CacheDir, "llm")
		if cfg.CacheMaxAge > 0 {
			h, _ := cache.PurgeHTTPCacheByAge(httpDir, cfg.CacheMaxAge)
			l, _ := cache.PurgeLLMCacheByAge(llmDir, cfg.CacheMaxAge)
			log.Debug().Int("http", h).Int("llm", l).Msg("cache purged by age")
		}
		httpCache = &cache.HTTPCache{Dir: httpDir, StrictPerms: cfg.CacheStrictPerms}
		a.llmCache = &cache.LLMCache{Dir: llmDir, StrictPerms: cfg.CacheStrictPerms}
	}
	a.http = &fetch.Client{
		UserAgent:         fetch.DefaultUserAgent,
		MaxAttempts:       3,
		PerRequestTimeout: 30 * time.Second,
		Cache:             httpCache,
		Delay:             cfg.Delay,
	}
	a.pubmed = pubmed.New(pubmed.Config{BaseURL: cfg.EUtilsURL, APIKey: cfg.NCBIAPIKey, MaxResults: cfg.MaxResults}, a.http)
	return a
}

func (a *App) chat(temperature float32) *llm.Chat {
	return &llm.Chat{
		Client:      a.ai,
		Model:       a.cfg.LLMModel,
		Temperature: temperature,
		Cache:       a.llmCache,
		Delay:       a.cfg.LLMDelay,
	}
}

func (a *App) layout(root string) Layout {
	if strings.TrimSpace(root) == "" {
		root = a.cfg.OutputDir
	}
	return Layout{Root: root}
}

// Run executes one stage. arg is the stage's optional positional path.
func (a *App) Run(ctx context.Context, stage, arg string) error {
	if err := ValidateConfig(a.cfg, stage); err != nil {
		return err
	}
	switch stage {
	case StagePapers:
		return a.Papers(ctx, arg)
	case StageIndex:
		return a.Index(ctx, arg)
	case StageQuery:
		return a.Query(ctx, arg)
	case StageSLR:
		return a.SLR(ctx, arg)
	case StageTables:
		_, err := a.Tables(ctx, arg)
		return err
	case StageTriage:
		return a.Triage(ctx, arg)
	case StageLabel:
		return a.Label(ctx, arg)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// Papers harvests the queries of an instruction file into the paper storage.
func (a *App) Papers(ctx context.Context, instructions string) error {
	l := a.layout("")
	if strings.TrimSpace(instructions) == "" {
		instructions = l.Instructions()
	}
	h := &papers.Harvester{Source: a.pubmed, StorageDir: l.Storage(), MaxResults: a.cfg.MaxResults}
	_, err := h.Run(ctx, instructions)
	return err
}

// Index merges the paper storage into the index database.
func (a *App) Index(ctx context.Context, storageDir string) error {
	l := a.layout("")
	if strings.TrimSpace(storageDir) == "" {
		storageDir = l.Storage()
	}
	policy, err := merge.ParsePolicy(a.cfg.IndexPolicy)
	if err != nil {
		return err
	}
	b := &index.Builder{StorageDir: storageDir, IndexPath: l.IndexCSV(), Policy: policy}
	_, err = b.Build()
	return err
}

// Query generates sentence questions for new or changed abstracts.
func (a *App) Query(ctx context.Context, root string) error {
	l := a.layout(root)
	g := &query.Generator{
		Model:      a.chat(0.2),
		IndexPath:  l.IndexCSV(),
		QueryPath:  l.QueryCSV(),
		TypeFilter: a.cfg.TypeFilter,
	}
	_, err := g.Run(ctx)
	return err
}

// Tables collects the review ids and harvests their tables.
func (a *App) Tables(ctx context.Context, root string) ([]tables.Summary, error) {
	l := a.layout(root)
	ids, err := article.CollectSLR(l.Storage(), l.SLRList())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	ep := tables.Endpoints{EUtils: a.cfg.EUtilsURL, PMC: a.cfg.PMCURL}
	chain := tables.NewChain(a.http, ep)
	for _, s := range chain.Strategies {
		if p, ok := s.(*tables.ProbeStrategy); ok {
			p.Limit = a.cfg.ProbeLimit
		}
	}
	ex := &tables.Extractor{Chain: chain, HTTP: a.http, RawDir: l.RawTables(), ImageDir: l.TablesRoot()}
	sums, err := ex.Batch(ctx, ids)
	if err != nil {
		return sums, err
	}
	n := 0
	for _, s := range sums {
		n += len(s.Tables)
	}
	log.Info().Int("papers", len(ids)).Int("tables", n).Msg("table harvest done")
	return sums, nil
}

func (a *App) judge() triage.Judge {
	if a.cfg.Triage == TriageHeuristic {
		return triage.HeuristicJudge{}
	}
	return triage.ModelJudge{Model: a.chat(0)}
}

// Triage sorts the raw tables under an slr_tables root into its kept and
// discarded folders.
func (a *App) Triage(ctx context.Context, tablesRoot string) error {
	if strings.TrimSpace(tablesRoot) == "" {
		tablesRoot = a.layout("").TablesRoot()
	}
	d := TableDirs{Root: tablesRoot}
	if info, err := os.Stat(d.Raw()); err != nil || !info.IsDir() {
		return fmt.Errorf("triage: no raw tables folder under %s", tablesRoot)
	}
	f := &triage.Filter{Judge: a.judge(), KeptDir: d.Kept(), DiscardedDir: d.Discarded()}
	kept, discarded, err := f.Apply(ctx, d.Raw())
	if err != nil {
		return err
	}
	log.Info().Int("kept", kept).Int("discarded", discarded).Str("mode", a.cfg.Triage).Msg("triage done")
	return nil
}

// SLR runs review collection, table harvest, triage and table Q&A.
func (a *App) SLR(ctx context.Context, root string) error {
	l := a.layout(root)
	if _, err := a.Tables(ctx, root); err != nil {
		return err
	}
	f := &triage.Filter{Judge: a.judge(), KeptDir: l.KeptTables(), DiscardedDir: l.DiscTables()}
	kept, discarded, err := f.Apply(ctx, l.RawTables())
	if err != nil {
		return err
	}
	log.Info().Int("kept", kept).Int("discarded", discarded).Msg("triage done")
	b := &tableqa.Builder{
		QA:      &tableqa.QA{Questions: a.chat(0.2), Answers: a.chat(0)},
		KeptDir: l.KeptTables(),
		DBPath:  l.SLRDB(),
	}
	_, err = b.Run(ctx)
	return err
}

// Label writes the section-labelling database from the redacted full texts.
func (a *App) Label(ctx context.Context, root string) error {
	l := a.layout(root)
	seed := a.cfg.LabelSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	_, err := label.New(a.cfg.LabelPerPaper, seed).Build(l.Redacted(), l.LabelCSV())
	return err
}
