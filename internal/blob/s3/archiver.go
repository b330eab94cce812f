package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

// Archiver serializes price history and round results to JSONL and
// uploads them to object storage. Records stay in the primary store;
// the archive is an append-only audit copy keyed by market slug.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under the given key prefix,
// e.g. "archives".
func NewArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "archives"
	}
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

type snapshotRecord struct {
	Time    time.Time `json:"time"`
	Slug    string    `json:"slug"`
	Side    string    `json:"side"`
	BestBid *float64  `json:"best_bid,omitempty"`
	BestAsk *float64  `json:"best_ask,omitempty"`
}

// ArchiveSnapshots uploads a batch of price snapshots as one JSONL
// object at {prefix}/prices/{slug}/{unix-nano}.jsonl.
func (a *Archiver) ArchiveSnapshots(ctx context.Context, slug string, snaps []domain.PriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range snaps {
		rec := snapshotRecord{
			Time:    s.Time,
			Slug:    s.Slug,
			Side:    string(s.Side),
			BestBid: s.BestBid,
			BestAsk: s.BestAsk,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("s3blob: encode snapshot: %w", err)
		}
	}

	key := fmt.Sprintf("%s/prices/%s/%d.jsonl", a.prefix, slug, time.Now().UnixNano())

	// History batches at or past one upload part go multipart.
	put := a.writer.Put
	if int64(buf.Len()) >= partSize {
		put = a.writer.PutLarge
	}
	if err := put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archived price snapshots",
		slog.String("slug", slug),
		slog.Int("count", len(snaps)),
		slog.String("key", key),
	)
	return nil
}

// ArchiveResult uploads one terminal OCO result as a JSON object at
// {prefix}/results/{slug}/{unix-nano}.json.
func (a *Archiver) ArchiveResult(ctx context.Context, r domain.OCOResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("s3blob: encode result: %w", err)
	}

	key := fmt.Sprintf("%s/results/%s/%d.json", a.prefix, r.Slug, r.EndedAt.UnixNano())
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "archived round result",
		slog.String("slug", r.Slug),
		slog.String("key", key),
	)
	return nil
}
