package app

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads dotenv files into the process environment. Later files
// override earlier ones; variables already set in the environment win over
// every file. Missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	merged := map[string]string{}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		m, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		for k, v := range m {
			merged[k] = v
		}
	}
	for k, v := range merged {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	return nil
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// ApplyEnvOverrides overrides cfg fields with environment variables when the
// corresponding variables are set. Environment wins over the config file.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	setStr := func(dst *string, keys ...string) {
		if v := firstEnv(keys...); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.NCBIAPIKey, "NCBI_API_KEY", "PUBMED_API_KEY")
	setStr(&cfg.LLMAPIKey, "OPENAI_API_KEY", "LLM_API_KEY")
	setStr(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setStr(&cfg.LLMModel, "LLM_MODEL")
	setStr(&cfg.OutputDir, "HELMET_OUTPUT_DIR")
	setStr(&cfg.CacheDir, "HELMET_CACHE_DIR")
	setStr(&cfg.Triage, "HELMET_TRIAGE")
	setStr(&cfg.IndexPolicy, "HELMET_INDEX_POLICY")
	setStr(&cfg.TypeFilter, "HELMET_TYPE_FILTER")

	if s := firstEnv("HELMET_DELAY"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			cfg.Delay = d
		}
	}
	if s := firstEnv("HELMET_LLM_DELAY"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			cfg.LLMDelay = d
		}
	}
	if s := firstEnv("HELMET_CACHE_MAX_AGE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.CacheMaxAge = d
		}
	}
	if s := firstEnv("HELMET_MAX_RESULTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.MaxResults = n
		}
	}
	if s := firstEnv("HELMET_LABEL_SEED"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			cfg.LabelSeed = n
		}
	}

	// Booleans override when env present and truthy/falsey
	setBool := func(dst *bool, envKey string) {
		if s := strings.ToLower(strings.TrimSpace(os.Getenv(envKey))); s != "" {
			switch s {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}
	setBool(&cfg.Verbose, "HELMET_VERBOSE")
	setBool(&cfg.CacheClear, "HELMET_CACHE_CLEAR")
	setBool(&cfg.CacheStrictPerms, "HELMET_CACHE_STRICT_PERMS")
}

// LoadConfig builds the effective configuration: defaults, then the config
// file (HELMET_CONFIG, else helmet.yaml when present), then .env files, then
// the environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := LoadEnvFiles(".env", ".env.local"); err != nil {
		return cfg, err
	}
	path := strings.TrimSpace(os.Getenv("HELMET_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	fc, err := LoadConfigFile(path)
	switch {
	case err == nil:
		ApplyFileConfig(&cfg, fc)
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, err
	}
	ApplyEnvOverrides(&cfg)
	return cfg, nil
}
