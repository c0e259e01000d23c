package pipeline

import (
	"context"
	"log/slog"

	vitrineerrors "github.com/vitrine-search/vitrine/internal/errors"
	"github.com/vitrine-search/vitrine/internal/ident"
)

// Report summarizes one reconciliation pass.
type Report struct {
	// ItemsChecked is how many metadata items were examined.
	ItemsChecked int `json:"items_checked"`
	// VectorsChecked is how many vector records were examined.
	VectorsChecked int `json:"vectors_checked"`
	// Resubmitted counts items queued for indexing because their vector
	// record was missing or older than the item.
	Resubmitted int `json:"resubmitted"`
	// Purged counts vector records deleted because no item backs them.
	Purged int `json:"purged"`
	// Failures counts per-record problems that were logged and skipped.
	Failures int `json:"failures"`
}

// Reconcile walks both stores and repairs drift in two passes: items
// without a current vector record are resubmitted for indexing, and
// vector records without a backing item are purged. Per-record
// failures are logged and counted, never fatal; rerunning converges.
func (p *Pipeline) Reconcile(ctx context.Context) (*Report, error) {
	report := &Report{}

	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		items, err := p.metadata.ListItems(ctx, offset, p.pageSize)
		if err != nil {
			return report, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			report.ItemsChecked++
			key := ident.DeriveKey(item.ExternalID)

			payload, ok := p.vectors.Payload(key)
			if ok && payload.SourceUpdatedAt >= item.UpdatedAt.UnixNano() {
				continue
			}

			if _, err := p.submitTask(KindIndex, item.ExternalID, ""); err != nil {
				report.Failures++
				slog.Warn("reconcile_resubmit_failed",
					slog.String("external_id", item.ExternalID),
					slog.String("error", err.Error()))
				continue
			}
			report.Resubmitted++
		}

		offset += len(items)
	}

	for _, key := range p.vectors.Keys() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.VectorsChecked++

		payload, ok := p.vectors.Payload(key)
		if ok && payload.ExternalID != "" {
			_, err := p.metadata.GetItemByExternalID(ctx, payload.ExternalID)
			if err == nil {
				continue
			}
			if !vitrineerrors.IsNotFound(err) {
				report.Failures++
				slog.Warn("reconcile_lookup_failed",
					slog.String("key", key),
					slog.String("external_id", payload.ExternalID),
					slog.String("error", err.Error()))
				continue
			}
		}

		// Either the backing item is gone or the record carries no
		// payload and can never be resolved to one. Both are orphans.
		if err := p.vectors.Delete(ctx, []string{key}); err != nil {
			report.Failures++
			slog.Warn("reconcile_purge_failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
			continue
		}
		report.Purged++
	}

	slog.Info("reconcile_complete",
		slog.Int("items_checked", report.ItemsChecked),
		slog.Int("vectors_checked", report.VectorsChecked),
		slog.Int("resubmitted", report.Resubmitted),
		slog.Int("purged", report.Purged),
		slog.Int("failures", report.Failures))
	return report, nil
}
