package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/hyperifyio/helmet/internal/merge"
)

// DefaultConfigFile is read when HELMET_CONFIG is unset and the file exists.
const DefaultConfigFile = "helmet.yaml"

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	Output string `yaml:"output" json:"output"`

	PubMed struct {
		Key        string        `yaml:"key" json:"key"`
		EUtils     string        `yaml:"eutils" json:"eutils"`
		PMC        string        `yaml:"pmc" json:"pmc"`
		MaxResults int           `yaml:"maxResults" json:"maxResults"`
		Delay      time.Duration `yaml:"delay" json:"delay"`
	} `yaml:"pubmed" json:"pubmed"`

	LLM struct {
		BaseURL string        `yaml:"base" json:"base"`
		Model   string        `yaml:"model" json:"model"`
		APIKey  string        `yaml:"key" json:"key"`
		Delay   time.Duration `yaml:"delay" json:"delay"`
	} `yaml:"llm" json:"llm"`

	Triage      string `yaml:"triage" json:"triage"`
	IndexPolicy string `yaml:"indexPolicy" json:"indexPolicy"`
	TypeFilter  string `yaml:"typeFilter" json:"typeFilter"`
	ProbeLimit  int    `yaml:"probeLimit" json:"probeLimit"`

	Label struct {
		PerPaper int    `yaml:"perPaper" json:"perPaper"`
		Seed     uint64 `yaml:"seed" json:"seed"`
	} `yaml:"label" json:"label"`

	Verbose bool `yaml:"verbose" json:"verbose"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setStr := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	setStr(&cfg.OutputDir, fc.Output)
	setStr(&cfg.NCBIAPIKey, fc.PubMed.Key)
	setStr(&cfg.EUtilsURL, fc.PubMed.EUtils)
	setStr(&cfg.PMCURL, fc.PubMed.PMC)
	setInt(&cfg.MaxResults, fc.PubMed.MaxResults)
	setDur(&cfg.Delay, fc.PubMed.Delay)

	setStr(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	setStr(&cfg.LLMModel, fc.LLM.Model)
	setStr(&cfg.LLMAPIKey, fc.LLM.APIKey)
	setDur(&cfg.LLMDelay, fc.LLM.Delay)

	setStr(&cfg.Triage, fc.Triage)
	setStr(&cfg.IndexPolicy, fc.IndexPolicy)
	setStr(&cfg.TypeFilter, fc.TypeFilter)
	setInt(&cfg.ProbeLimit, fc.ProbeLimit)
	setInt(&cfg.LabelPerPaper, fc.Label.PerPaper)
	if fc.Label.Seed != 0 {
		cfg.LabelSeed = fc.Label.Seed
	}
	if fc.Verbose {
		cfg.Verbose = true
	}

	setStr(&cfg.CacheDir, fc.Cache.Dir)
	setDur(&cfg.CacheMaxAge, fc.Cache.MaxAge)
	if fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}
}

// Stage names, as used on the command line.
const (
	StagePapers = "papers"
	StageIndex  = "index"
	StageQuery  = "query"
	StageSLR    = "slr"
	StageTables = "tables"
	StageTriage = "triage"
	StageLabel  = "label"
)

// ErrMissingCredential is returned when a stage needs the model and no way to
// authenticate with it is configured.
var ErrMissingCredential = errors.New("config: missing model credential (set OPENAI_API_KEY or LLM_API_KEY, or llm.base for a keyless endpoint)")

// NeedsModel reports whether stage talks to the language model under cfg.
func NeedsModel(cfg Config, stage string) bool {
	switch stage {
	case StageQuery, StageSLR:
		return true
	case StageTriage:
		return cfg.Triage == TriageModel
	}
	return false
}

// ValidateConfig performs minimal schema validation for the settings stage
// depends on. It runs before any work is done.
func ValidateConfig(cfg Config, stage string) error {
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return errors.New("config: output directory is required")
	}
	if _, err := merge.ParsePolicy(cfg.IndexPolicy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch cfg.Triage {
	case TriageModel, TriageHeuristic:
	default:
		return fmt.Errorf("config: unknown triage mode %q (want %q or %q)", cfg.Triage, TriageModel, TriageHeuristic)
	}
	if cfg.MaxResults < 0 || cfg.ProbeLimit < 0 || cfg.LabelPerPaper < 0 || cfg.Delay < 0 {
		return errors.New("config: negative limits are not allowed")
	}
	if NeedsModel(cfg, stage) {
		if strings.TrimSpace(cfg.LLMModel) == "" {
			return errors.New("config: llm.model is required (or set LLM_MODEL)")
		}
		if strings.TrimSpace(cfg.LLMAPIKey) == "" && strings.TrimSpace(cfg.LLMBaseURL) == "" {
			return ErrMissingCredential
		}
	}
	return nil
}
