// Package feed ingests catalog feed files. A feed is a JSON array of
// item documents; the loader upserts each document by external id and
// queues it for indexing. Malformed entries are collected per file and
// never abort the rest of the feed.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	verrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/pipeline"
	"github.com/vitrine-search/vitrine/internal/store"
)

// defaultFileConcurrency is how many feed files load in parallel.
const defaultFileConcurrency = 4

// Document is one feed entry. Fields absent from the document keep
// their stored values on update; a feed is not required to repeat the
// whole item to change its price.
type Document struct {
	ExternalID  string           `json:"external_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Category    string           `json:"category,omitempty"`
	Price       *float64         `json:"price,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	AssetURL    string           `json:"asset_url,omitempty"`
	Attributes  store.Attributes `json:"attributes,omitempty"`
}

// EntryError describes one rejected feed entry.
type EntryError struct {
	// Index is the entry's position in the feed array.
	Index int `json:"index"`
	// ExternalID is the entry's id when one could be read.
	ExternalID string `json:"external_id,omitempty"`
	// Reason says why the entry was rejected.
	Reason string `json:"reason"`
}

// FileReport summarizes one feed file load.
type FileReport struct {
	Path      string       `json:"path"`
	Total     int          `json:"total"`
	Created   int          `json:"created"`
	Updated   int          `json:"updated"`
	Submitted int          `json:"submitted"`
	Malformed []EntryError `json:"malformed,omitempty"`
	// Err is set when the file itself could not be processed.
	Err string `json:"error,omitempty"`
}

// Failed reports whether the file load failed outright.
func (r *FileReport) Failed() bool {
	return r.Err != ""
}

// Loader applies feed documents to the catalog.
type Loader struct {
	metadata store.MetadataStore
	pipe     *pipeline.Pipeline
	logger   *slog.Logger
}

// NewLoader creates a loader over the metadata store and pipeline.
func NewLoader(metadata store.MetadataStore, pipe *pipeline.Pipeline) (*Loader, error) {
	if metadata == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if pipe == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	return &Loader{
		metadata: metadata,
		pipe:     pipe,
		logger:   slog.Default(),
	}, nil
}

// LoadFile ingests one feed file. Entry-level failures land in the
// report's Malformed list; the returned error covers only file-level
// failures (unreadable file, not a JSON array) and context
// cancellation.
func (l *Loader) LoadFile(ctx context.Context, path string) (*FileReport, error) {
	report := &FileReport{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read feed file: %w", err)
	}

	// Decode to raw entries first so one broken document does not sink
	// its siblings.
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return report, fmt.Errorf("feed file is not a JSON array: %w", err)
	}
	report.Total = len(entries)

	for i, raw := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			report.reject(i, "", fmt.Sprintf("invalid document: %v", err))
			continue
		}
		if doc.ExternalID == "" {
			report.reject(i, "", "external_id is required")
			continue
		}
		if doc.Title == "" {
			report.reject(i, doc.ExternalID, "title is required")
			continue
		}

		created, err := l.upsert(ctx, &doc)
		if err != nil {
			report.reject(i, doc.ExternalID, err.Error())
			continue
		}
		if created {
			report.Created++
		} else {
			report.Updated++
		}

		if _, err := l.pipe.SubmitIndex(ctx, doc.ExternalID, doc.AssetURL); err != nil {
			// The item is durable either way; reconciliation catches up.
			l.logger.Warn("feed index submit failed",
				slog.String("path", path),
				slog.String("external_id", doc.ExternalID),
				slog.String("error", err.Error()))
			continue
		}
		report.Submitted++
	}

	l.logger.Info("feed file loaded",
		slog.String("path", path),
		slog.Int("total", report.Total),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("submitted", report.Submitted),
		slog.Int("malformed", len(report.Malformed)))

	return report, nil
}

// LoadDir ingests every *.json file in dir, a bounded number at a
// time. Per-file failures are reported in the corresponding
// FileReport, not returned; the error covers only an unreadable
// directory or cancellation.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*FileReport, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan feed directory: %w", err)
	}
	sort.Strings(paths)

	reports := make([]*FileReport, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultFileConcurrency)

	for i, path := range paths {
		g.Go(func() error {
			report, err := l.LoadFile(gctx, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Err = err.Error()
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// upsert creates the document's item or patches the existing one.
// Returns whether a new item was created.
func (l *Loader) upsert(ctx context.Context, doc *Document) (bool, error) {
	existing, err := l.metadata.GetItemByExternalID(ctx, doc.ExternalID)
	switch {
	case err == nil:
		return false, l.apply(ctx, existing, doc)
	case verrors.IsNotFound(err):
		// Fall through to create.
	default:
		return false, err
	}

	err = l.metadata.CreateItem(ctx, &store.Item{
		ExternalID:  doc.ExternalID,
		Title:       doc.Title,
		Description: doc.Description,
		Category:    doc.Category,
		Price:       doc.Price,
		Currency:    doc.Currency,
		AssetURL:    doc.AssetURL,
		Attributes:  doc.Attributes,
	})
	if err == nil {
		return true, nil
	}
	if !verrors.IsConflict(err) {
		return false, err
	}

	// Lost a create race with a concurrent load of the same id.
	existing, err = l.metadata.GetItemByExternalID(ctx, doc.ExternalID)
	if err != nil {
		return false, err
	}
	return false, l.apply(ctx, existing, doc)
}

// apply patches an existing item with the document's populated fields.
func (l *Loader) apply(ctx context.Context, item *store.Item, doc *Document) error {
	patch := store.ItemPatch{Title: &doc.Title}
	if doc.Description != "" {
		patch.Description = &doc.Description
	}
	if doc.Category != "" {
		patch.Category = &doc.Category
	}
	if doc.Price != nil {
		patch.Price = doc.Price
	}
	if doc.Currency != "" {
		patch.Currency = &doc.Currency
	}
	if doc.AssetURL != "" {
		patch.AssetURL = &doc.AssetURL
	}
	if len(doc.Attributes) > 0 {
		patch.Attributes = &doc.Attributes
	}

	_, err := l.metadata.UpdateItem(ctx, item.InternalID, patch)
	return err
}

// reject records one malformed entry.
func (r *FileReport) reject(index int, externalID, reason string) {
	r.Malformed = append(r.Malformed, EntryError{
		Index:      index,
		ExternalID: externalID,
		Reason:     reason,
	})
}
