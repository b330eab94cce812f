package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/polyoco/updownbot/internal/domain"
)

type fakeWriter struct {
	keys         []string
	contentTypes []string
	bodies       [][]byte
	multipart    []bool
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	return f.record(path, data, contentType, false)
}

func (f *fakeWriter) PutLarge(_ context.Context, path string, data io.Reader, contentType string) error {
	return f.record(path, data, contentType, true)
}

func (f *fakeWriter) record(path string, data io.Reader, contentType string, large bool) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.keys = append(f.keys, path)
	f.contentTypes = append(f.contentTypes, contentType)
	f.bodies = append(f.bodies, body)
	f.multipart = append(f.multipart, large)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fp(v float64) *float64 { return &v }

func TestArchiveSnapshotsWritesJSONL(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, "archives", testLogger())

	now := time.Now().UTC()
	snaps := []domain.PriceSnapshot{
		{Time: now, Slug: "btc-updown-15m-1736942400", Side: domain.SideUp, BestBid: fp(0.44), BestAsk: fp(0.56)},
		{Time: now, Slug: "btc-updown-15m-1736942400", Side: domain.SideDown, BestBid: fp(0.43)},
	}
	if err := a.ArchiveSnapshots(context.Background(), "btc-updown-15m-1736942400", snaps); err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}

	if len(w.keys) != 1 {
		t.Fatalf("Put calls = %d, want 1", len(w.keys))
	}
	if !strings.HasPrefix(w.keys[0], "archives/prices/btc-updown-15m-1736942400/") ||
		!strings.HasSuffix(w.keys[0], ".jsonl") {
		t.Errorf("key = %q", w.keys[0])
	}
	if w.contentTypes[0] != "application/x-ndjson" {
		t.Errorf("content type = %q", w.contentTypes[0])
	}

	// One JSON object per line, decodable independently.
	var lines int
	sc := bufio.NewScanner(bytes.NewReader(w.bodies[0]))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("lines = %d, want 2", lines)
	}

	// A one-sided snapshot omits the missing side.
	if bytes.Contains(w.bodies[0], []byte(`"best_ask":null`)) {
		t.Error("nil ask serialized instead of omitted")
	}
	if w.multipart[0] {
		t.Error("small batch took the multipart path")
	}
}

func TestArchiveSnapshotsLargeBatchGoesMultipart(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, "archives", testLogger())

	// Enough records to push the encoded JSONL past one upload part.
	now := time.Now().UTC()
	n := int(partSize)/100 + 1
	snaps := make([]domain.PriceSnapshot, n)
	for i := range snaps {
		snaps[i] = domain.PriceSnapshot{
			Time: now, Slug: "btc-updown-15m-1736942400",
			Side: domain.SideUp, BestBid: fp(0.44), BestAsk: fp(0.56),
		}
	}
	if err := a.ArchiveSnapshots(context.Background(), "btc-updown-15m-1736942400", snaps); err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}

	if len(w.multipart) != 1 || !w.multipart[0] {
		t.Fatalf("multipart calls = %v, want one multipart upload", w.multipart)
	}
	if int64(len(w.bodies[0])) < partSize {
		t.Errorf("batch of %d bytes should not have tripped the multipart threshold", len(w.bodies[0]))
	}
}

func TestArchiveSnapshotsEmptyIsNoOp(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, "", testLogger())
	if err := a.ArchiveSnapshots(context.Background(), "slug", nil); err != nil {
		t.Fatalf("ArchiveSnapshots: %v", err)
	}
	if len(w.keys) != 0 {
		t.Error("empty batch produced an upload")
	}
}

func TestArchiveResult(t *testing.T) {
	w := &fakeWriter{}
	a := NewArchiver(w, "archives", testLogger())

	r := domain.OCOResult{
		Slug:    "eth-updown-15m-1736942400",
		Winner:  domain.WinnerUp,
		EndedAt: time.Unix(1736943000, 0).UTC(),
	}
	if err := a.ArchiveResult(context.Background(), r); err != nil {
		t.Fatalf("ArchiveResult: %v", err)
	}

	if len(w.keys) != 1 {
		t.Fatalf("Put calls = %d, want 1", len(w.keys))
	}
	if !strings.HasPrefix(w.keys[0], "archives/results/eth-updown-15m-1736942400/") {
		t.Errorf("key = %q", w.keys[0])
	}
	if w.contentTypes[0] != "application/json" {
		t.Errorf("content type = %q", w.contentTypes[0])
	}

	var decoded domain.OCOResult
	if err := json.Unmarshal(w.bodies[0], &decoded); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if decoded.Winner != domain.WinnerUp {
		t.Errorf("Winner = %s", decoded.Winner)
	}
}
