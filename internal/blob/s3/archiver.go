package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// multipartThreshold is the payload size above which archives go through the
// multipart uploader.
const multipartThreshold = 16 * 1024 * 1024

// MetricsArchiveStore is the part of domain.MetricsStore the archiver needs.
type MetricsArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.MetricsRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver. It writes every metrics record
// older than the cutoff to one JSONL object and then removes those rows from
// the primary store. Rows are only deleted after the upload succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	store  MetricsArchiveStore
	logger *slog.Logger
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, store MetricsArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		store:  store,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveMetrics archives records created before the cutoff and returns how
// many were uploaded.
func (a *ArchiveImpl) ArchiveMetrics(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive metrics query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive metrics marshal: %w", err)
	}

	path := archivePath("metrics", before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive metrics upload: %w", err)
	}

	count := int64(len(recs))
	deleted, err := a.store.DeleteBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive metrics prune: %w", err)
	}

	a.logger.InfoContext(ctx, "metrics archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("deleted", deleted),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return count, nil
}

// archivePath builds the object key for an archive, named after the cutoff:
//
//	archive/metrics/2026-10-14T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
