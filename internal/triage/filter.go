package triage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fsutil"
)

// Filter sorts the *.txt tables of a raw directory into kept and discarded
// directories. Sources stay in place; copies overwrite by file name, so a
// rerun produces the same partition.
type Filter struct {
	Judge Judge
	// KeptDir and DiscardedDir default to kept_tables and discarded_tables
	// next to the raw directory.
	KeptDir      string
	DiscardedDir string
}

// Dirs returns the kept and discarded directories used for rawDir.
func (f *Filter) Dirs(rawDir string) (kept, discarded string) {
	parent := filepath.Dir(filepath.Clean(rawDir))
	kept, discarded = f.KeptDir, f.DiscardedDir
	if kept == "" {
		kept = filepath.Join(parent, "kept_tables")
	}
	if discarded == "" {
		discarded = filepath.Join(parent, "discarded_tables")
	}
	return kept, discarded
}

// Apply judges every table file in rawDir. Unreadable files are logged and
// skipped; only directory-level failures are returned.
func (f *Filter) Apply(ctx context.Context, rawDir string) (kept, discarded int, err error) {
	keptDir, discDir := f.Dirs(rawDir)
	files, err := fsutil.ListFiles(rawDir, ".txt")
	if err != nil {
		return 0, 0, err
	}
	if err := fsutil.EnsureDir(keptDir); err != nil {
		return 0, 0, err
	}
	if err := fsutil.EnsureDir(discDir); err != nil {
		return 0, 0, err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return kept, discarded, err
		}
		b, rerr := os.ReadFile(p)
		if rerr != nil {
			log.Warn().Str("file", p).Err(rerr).Msg("unreadable table skipped")
			continue
		}
		name := filepath.Base(p)
		target, other := discDir, keptDir
		keep := f.Judge.Keep(ctx, string(b))
		if keep {
			target, other = keptDir, discDir
		}
		if cerr := fsutil.CopyFile(p, filepath.Join(target, name)); cerr != nil {
			log.Warn().Str("file", p).Err(cerr).Msg("copy failed")
			continue
		}
		// a verdict that changed since the last run must not leave the file in both places
		_ = os.Remove(filepath.Join(other, name))
		if keep {
			kept++
		} else {
			discarded++
		}
		log.Debug().Str("file", name).Bool("keep", keep).Msg("triaged")
	}
	log.Info().Int("kept", kept).Int("discarded", discarded).Str("dir", rawDir).Msg("triage done")
	return kept, discarded, nil
}
