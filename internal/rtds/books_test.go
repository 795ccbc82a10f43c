package rtds

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestCache() *BookCache {
	return &BookCache{books: make(map[string]cachedBook)}
}

func TestBookCache_IngestObjectPayload(t *testing.T) {
	bc := newTestCache()

	payload := `{"asset_id":"111","bids":[{"price":"0.50","size":"100"}],"asks":[{"price":"0.55","size":"80"}],"tick_size":"0.01","min_order_size":"5"}`
	bc.ingestMessage(Message{
		Topic:   "clob_market",
		Type:    "agg_orderbook",
		Payload: json.RawMessage(payload),
	})

	book, ok := bc.Get("111", time.Minute)
	if !ok {
		t.Fatalf("book not cached")
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != "0.50" {
		t.Errorf("bids mismatch: %+v", book.Bids)
	}
	if book.TickSize != "0.01" || book.MinOrder != "5" {
		t.Errorf("metadata mismatch: %+v", book)
	}
}

func TestBookCache_IngestArrayPayload(t *testing.T) {
	bc := newTestCache()

	payload := `[{"asset_id":"111","asks":[{"price":"0.55","size":"80"}]},{"asset_id":"222","bids":[{"price":"0.30","size":"10"}]}]`
	bc.ingestMessage(Message{Topic: "clob_market", Type: "agg_orderbook", Payload: json.RawMessage(payload)})

	if _, ok := bc.Get("111", time.Minute); !ok {
		t.Errorf("first snapshot not cached")
	}
	if _, ok := bc.Get("222", time.Minute); !ok {
		t.Errorf("second snapshot not cached")
	}
}

func TestBookCache_IgnoresOtherTopics(t *testing.T) {
	bc := newTestCache()
	bc.ingestMessage(Message{Topic: "activity", Type: "trades", Payload: json.RawMessage(`{"asset_id":"111"}`)})
	if _, ok := bc.Get("111", time.Minute); ok {
		t.Fatalf("message from wrong topic must not be ingested")
	}
}

func TestBookCache_Staleness(t *testing.T) {
	bc := newTestCache()
	bc.books["111"] = cachedBook{ingestedAt: time.Now().Add(-10 * time.Second)}

	if _, ok := bc.Get("111", 5*time.Second); ok {
		t.Errorf("stale book must not be served")
	}
	if _, ok := bc.Get("111", time.Minute); !ok {
		t.Errorf("book within max age must be served")
	}
	if _, ok := bc.Get("missing", time.Minute); ok {
		t.Errorf("unknown token must miss")
	}
}

func TestBookCache_DecodeErrorReported(t *testing.T) {
	var got error
	bc := newTestCache()
	bc.onError = func(err error) { got = err }

	bc.ingestMessage(Message{Topic: "clob_market", Type: "agg_orderbook", Payload: json.RawMessage(`{broken`)})
	if got == nil {
		t.Fatalf("decode error not reported")
	}
}
