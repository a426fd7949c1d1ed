package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradesim/internal/domain"
)

type fakeBlob struct {
	paths    []string
	payloads [][]byte
	err      error
}

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, _ := io.ReadAll(data)
	f.paths = append(f.paths, path)
	f.payloads = append(f.payloads, b)
	return nil
}

func (f *fakeBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return f.Put(ctx, path, data, jsonlContentType)
}

type fakeStore struct {
	recs      []domain.MetricsRecord
	deletedAt []time.Time
}

func (f *fakeStore) ListBefore(_ context.Context, before time.Time) ([]domain.MetricsRecord, error) {
	var out []domain.MetricsRecord
	for _, r := range f.recs {
		if r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedAt = append(f.deletedAt, before)
	var n int64
	kept := f.recs[:0]
	for _, r := range f.recs {
		if r.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	f.recs = kept
	return n, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveMetrics(t *testing.T) {
	cutoff := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{recs: []domain.MetricsRecord{
		{ID: 1, SessionID: "a", CreatedAt: cutoff.Add(-2 * time.Hour), Metrics: domain.MetricsData{NetCostPct: 0.1}},
		{ID: 2, SessionID: "a", CreatedAt: cutoff.Add(-time.Hour)},
		{ID: 3, SessionID: "b", CreatedAt: cutoff.Add(time.Hour)},
	}}
	blob := &fakeBlob{}

	n, err := NewArchiver(blob, store, testLogger()).ArchiveMetrics(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, blob.paths, 1)
	assert.Equal(t, "archive/metrics/2026-10-01T000000Z.jsonl", blob.paths[0])

	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(blob.payloads[0]))
	for sc.Scan() {
		var rec domain.MetricsRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []int64{1, 2}, ids)

	require.Len(t, store.recs, 1)
	assert.Equal(t, int64(3), store.recs[0].ID)
}

func TestArchiveMetrics_NothingToDo(t *testing.T) {
	store := &fakeStore{}
	blob := &fakeBlob{}

	n, err := NewArchiver(blob, store, testLogger()).ArchiveMetrics(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.paths)
	assert.Empty(t, store.deletedAt)
}

func TestArchiveMetrics_UploadFailureKeepsRows(t *testing.T) {
	cutoff := time.Now()
	store := &fakeStore{recs: []domain.MetricsRecord{{ID: 1, CreatedAt: cutoff.Add(-time.Minute)}}}
	blob := &fakeBlob{err: errors.New("boom")}

	_, err := NewArchiver(blob, store, testLogger()).ArchiveMetrics(context.Background(), cutoff)
	require.Error(t, err)
	assert.Empty(t, store.deletedAt)
	assert.Len(t, store.recs, 1)
}

type recordingPut struct {
	in *s3.PutObjectInput
}

func (r *recordingPut) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.in = in
	return &s3.PutObjectOutput{}, nil
}

func TestWriterPut(t *testing.T) {
	rec := &recordingPut{}
	w := &Writer{put: rec, bucket: "tradesim-data"}

	require.NoError(t, w.Put(context.Background(), "archive/x.jsonl", bytes.NewReader([]byte("{}\n")), jsonlContentType))
	require.NotNil(t, rec.in)
	assert.Equal(t, "tradesim-data", aws.ToString(rec.in.Bucket))
	assert.Equal(t, "archive/x.jsonl", aws.ToString(rec.in.Key))
	assert.Equal(t, jsonlContentType, aws.ToString(rec.in.ContentType))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
	assert.Equal(t, "https://minio.local", normaliseEndpoint("minio.local", true))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}
