package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sovereign-liquidity/internal/domain"
)

const (
	archivePageSize = 1000
	streamPageSize  = 500
)

// SovereignLister is the read surface the snapshot export needs.
type SovereignLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Sovereign, error)
}

// Archiver implements domain.Archiver. It copies ledger history to JSONL
// objects:
//
//	archive/audit/2026-03.jsonl       audit entries before 2026-03-01
//	archive/events/2026-03.jsonl      stream events before 2026-03-01
//	snapshots/sovereigns/2026-03-14.jsonl
//
// Records are never deleted from the primary stores here. A monthly file
// that already exists is left alone, so a restarted keeper does not upload
// the same month twice.
type Archiver struct {
	writer     domain.BlobWriter
	reader     domain.BlobReader
	audit      domain.AuditStore
	bus        domain.SignalBus
	sovereigns SovereignLister
	logger     *slog.Logger
}

// NewArchiver creates an Archiver. bus may be nil, in which case
// ArchiveEvents is a no-op.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	bus domain.SignalBus,
	sovereigns SovereignLister,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:     writer,
		reader:     reader,
		audit:      audit,
		bus:        bus,
		sovereigns: sovereigns,
		logger:     logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveAudit uploads every audit entry created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	path := archivePath("audit", before)
	if done, err := a.reader.Exists(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit: %w", err)
	} else if done {
		return 0, nil
	}

	var entries []domain.AuditEntry
	for offset := 0; ; offset += archivePageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{Until: &before, Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		for _, e := range page {
			if e.CreatedAt.Before(before) {
				entries = append(entries, e)
			}
		}
		if len(page) < archivePageSize {
			break
		}
	}
	return upload(ctx, a, "audit", path, before, entries)
}

// ArchiveEvents uploads every event on the sovereign event stream stamped
// before the cutoff. Stream order is commit order, so reading stops at the
// first event on or after the cutoff.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	if a.bus == nil {
		return 0, nil
	}
	path := archivePath("events", before)
	if done, err := a.reader.Exists(ctx, path); err != nil {
		return 0, fmt.Errorf("s3blob: archive events: %w", err)
	} else if done {
		return 0, nil
	}

	var events []domain.Event
	lastID := "0"
scan:
	for {
		msgs, err := a.bus.StreamRead(ctx, domain.StreamSovereignEvents, lastID, streamPageSize)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive events read: %w", err)
		}
		for _, m := range msgs {
			lastID = m.ID
			var ev domain.Event
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				a.logger.WarnContext(ctx, "archiver: skipping undecodable event",
					slog.String("id", m.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ev.At.Before(before) {
				break scan
			}
			events = append(events, ev)
		}
		if len(msgs) < streamPageSize {
			break
		}
	}
	return upload(ctx, a, "events", path, before, events)
}

// SnapshotSovereigns exports every sovereign as of at. A snapshot for the
// same day is overwritten.
func (a *Archiver) SnapshotSovereigns(ctx context.Context, at time.Time) (int64, error) {
	var all []domain.Sovereign
	for offset := 0; ; offset += archivePageSize {
		page, err := a.sovereigns.List(ctx, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: snapshot sovereigns query: %w", err)
		}
		all = append(all, page...)
		if len(page) < archivePageSize {
			break
		}
	}
	if len(all) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(all)
	if err != nil {
		return 0, fmt.Errorf("s3blob: snapshot sovereigns marshal: %w", err)
	}
	path := fmt.Sprintf("snapshots/sovereigns/%s.jsonl", at.UTC().Format("2006-01-02"))
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: snapshot sovereigns upload: %w", err)
	}
	return int64(len(all)), nil
}

// upload writes records to path and records the archive in the audit log.
func upload[T any](ctx context.Context, a *Archiver, kind, path string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath partitions archives by the cutoff's year-month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL writes one compact JSON document per line. Elements are
// encoded through a pointer so uint256 fields use their decimal form.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
