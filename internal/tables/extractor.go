package tables

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/helmet/internal/fsutil"
)

// Extractor runs the chain for a document and persists what it finds:
// {RawDir}/{doc}_{table}.txt per table and {ImageDir}/{doc}_{table}{ext} per
// image sidecar. Reruns overwrite the same files.
type Extractor struct {
	Chain    *Chain
	HTTP     Getter
	RawDir   string
	ImageDir string
}

// Summary reports one document's harvest.
type Summary struct {
	DocumentID string
	Strategy   string
	Tables     []string
	Images     []string
}

// Extract harvests one document. Finding no tables is not an error; only
// local write failures are.
func (e *Extractor) Extract(ctx context.Context, documentID string) (Summary, error) {
	sum := Summary{DocumentID: documentID}
	if err := fsutil.EnsureDir(e.RawDir); err != nil {
		return sum, fmt.Errorf("raw dir: %w", err)
	}
	res, strategy := e.Chain.Run(ctx, documentID)
	sum.Strategy = strategy
	for _, rec := range res.Tables {
		p := filepath.Join(e.RawDir, fileBase(documentID, rec.TableID)+".txt")
		if err := fsutil.WriteFileAtomic(p, rec.Encode(), 0o644); err != nil {
			return sum, fmt.Errorf("write table %s: %w", rec.TableID, err)
		}
		sum.Tables = append(sum.Tables, p)
	}
	for _, img := range res.Images {
		p, err := e.saveImage(ctx, img)
		if err != nil {
			log.Warn().Str("pmcid", documentID).Str("table", img.TableID).Str("url", img.URL).Err(err).Msg("image download failed")
			continue
		}
		sum.Images = append(sum.Images, p)
	}
	if len(sum.Tables) == 0 {
		log.Info().Str("pmcid", documentID).Int("images", len(sum.Images)).Msg("no structured tables found")
	} else {
		log.Info().Str("pmcid", documentID).Str("strategy", strategy).Int("tables", len(sum.Tables)).Int("images", len(sum.Images)).Msg("tables saved")
	}
	return sum, nil
}

// Batch harvests ids in order. Per-document failures are logged and the batch
// continues; only cancellation stops it.
func (e *Extractor) Batch(ctx context.Context, ids []string) ([]Summary, error) {
	var out []Summary
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := e.Extract(ctx, id)
		if err != nil {
			log.Error().Str("pmcid", id).Err(err).Msg("table harvest failed")
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

func (e *Extractor) saveImage(ctx context.Context, img Image) (string, error) {
	dir := e.ImageDir
	if dir == "" {
		dir = filepath.Dir(e.RawDir)
	}
	res, err := e.HTTP.Get(ctx, img.URL)
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, fileBase(img.DocumentID, img.TableID)+imageExt(img.URL))
	if err := fsutil.WriteFileAtomic(p, res.Body, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func fileBase(documentID, tableID string) string {
	return documentID + "_" + tableID
}

func imageExt(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	if ext := path.Ext(p); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ".png"
}
