package app

import "time"

// Config holds runtime configuration for the pipeline.
type Config struct {
	// OutputDir is the root of the persisted layout (output_db).
	OutputDir string

	// Literature search
	NCBIAPIKey string
	EUtilsURL  string
	PMCURL     string
	MaxResults int
	// Delay is the courtesy pause between requests to the literature services.
	Delay time.Duration

	// LLM
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string
	LLMDelay   time.Duration

	// Stages
	Triage        string
	IndexPolicy   string
	TypeFilter    string
	ProbeLimit    int
	LabelPerPaper int
	LabelSeed     uint64

	// Behavior
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	Verbose          bool
}

// Triage modes.
const (
	TriageModel     = "model"
	TriageHeuristic = "heuristic"
)

const (
	defaultOutputDir  = "output_db"
	defaultCacheDir   = ".helmet-cache"
	defaultModel      = "gpt-4o"
	defaultDelay      = 340 * time.Millisecond
	defaultMaxResults = 10
	defaultPolicy     = "keep-if-type-differs"
)

// DefaultConfig returns the built-in defaults, the lowest-precedence layer.
func DefaultConfig() Config {
	return Config{
		OutputDir:     defaultOutputDir,
		CacheDir:      defaultCacheDir,
		LLMModel:      defaultModel,
		Delay:         defaultDelay,
		LLMDelay:      defaultDelay,
		MaxResults:    defaultMaxResults,
		Triage:        TriageModel,
		IndexPolicy:   defaultPolicy,
		ProbeLimit:    30,
		LabelPerPaper: 2,
	}
}
