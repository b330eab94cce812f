package domain

import (
	"context"
	"io"
	"time"
)

// PriceStore persists market price history.
type PriceStore interface {
	InsertBatch(ctx context.Context, snaps []PriceSnapshot) error
	LastSnapshotTime(ctx context.Context, slug string) (time.Time, error)
}

// ResultStore persists terminal OCO results for audit.
type ResultStore interface {
	Insert(ctx context.Context, r OCOResult) error
	ListBySlug(ctx context.Context, slug string, limit int) ([]OCOResult, error)
}

// QuoteCache holds the latest best bid/ask per outcome token.
type QuoteCache interface {
	SetQuote(ctx context.Context, tokenID string, bid, ask *float64, ts time.Time) error
	GetQuote(ctx context.Context, tokenID string) (bid, ask *float64, ts time.Time, err error)
}

// BlobWriter stores archive objects (JSONL price history batches).
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutLarge streams an object too big for a single upload request.
	PutLarge(ctx context.Context, path string, data io.Reader, contentType string) error
}
