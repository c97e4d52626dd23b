// Package article is the per-paper metadata record written by the papers
// stage and read by the index and slr stages.
package article

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fsutil"
)

// Type values come from the instruction file name.
const (
	TypeBIM    = "bim"
	TypeCEM    = "cem"
	TypeSLRBIM = "slr_bim"
	TypeSLRCEM = "slr_cem"
)

// Article is the JSON record stored as {storage}/{pmcid}.json.
type Article struct {
	PMCID       string `json:"pmcid"`
	FirstAuthor string `json:"first_author"`
	Title       string `json:"title"`
	Source      string `json:"source"`
	Year        string `json:"year"`
	Abstract    string `json:"abstract"`
	Type        string `json:"type"`
}

// IsSLR reports whether the article is a systematic review.
func IsSLR(typ string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(typ)), "slr_")
}

// IsPrimary reports whether the article is a single economic evaluation.
func IsPrimary(typ string) bool {
	t := strings.ToLower(strings.TrimSpace(typ))
	return t == TypeBIM || t == TypeCEM
}

// Path is where the record for pmcid lives under dir.
func Path(dir, pmcid string) string {
	return filepath.Join(dir, pmcid+".json")
}

// Save writes the record as indented JSON.
func Save(path string, a Article) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, append(b, '\n'), 0o644)
}

// Load reads one record.
func Load(path string) (Article, error) {
	var a Article
	b, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("decode %s: %w", path, err)
	}
	return a, nil
}

// LoadDir reads every *.json record in dir in file-name order. Unreadable or
// malformed files are logged and skipped.
func LoadDir(dir string) ([]Article, error) {
	files, err := fsutil.ListFiles(dir, ".json")
	if err != nil {
		return nil, err
	}
	var out []Article
	for _, p := range files {
		a, err := Load(p)
		if err != nil {
			log.Warn().Str("file", p).Err(err).Msg("skipping unreadable article record")
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
