package rtds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"poly-mmbot/internal/clob"
)

const (
	bookTopic = "clob_market"
	bookType  = "agg_orderbook"
)

// BookCache holds the latest aggregated order book per subscribed token,
// fed by the RTDS stream. Books carry the wall-clock time they were ingested
// so consumers can reject stale data and fall back to REST.
type BookCache struct {
	mu    sync.RWMutex
	books map[string]cachedBook

	onError func(error)
}

type cachedBook struct {
	book       clob.OrderBookSummary
	ingestedAt time.Time
}

// StartBookCache subscribes to aggregated order book updates for the given
// tokens and returns a cache that tracks the latest book per token.
func StartBookCache(ctx context.Context, url string, tokenIDs []string, opts Options, onError func(error)) (*BookCache, error) {
	if len(tokenIDs) == 0 {
		return nil, fmt.Errorf("book cache: at least one token id required")
	}

	filtersBytes, err := json.Marshal(tokenIDs)
	if err != nil {
		return nil, fmt.Errorf("book cache filters: %w", err)
	}

	bc := &BookCache{
		books:   make(map[string]cachedBook, len(tokenIDs)),
		onError: onError,
	}

	subs := []Subscription{{
		Topic:   bookTopic,
		Type:    bookType,
		Filters: string(filtersBytes),
	}}
	go runStream(ctx, url, subs, opts, bc.ingestMessage, bc.emitError)

	return bc, nil
}

func (bc *BookCache) ingestMessage(msg Message) {
	if msg.Topic != bookTopic || msg.Type != bookType {
		return
	}
	payload := bytes.TrimSpace(msg.Payload)
	if len(payload) == 0 {
		return
	}

	switch payload[0] {
	case '{':
		var book clob.OrderBookSummary
		if err := json.Unmarshal(payload, &book); err != nil {
			bc.emitError(fmt.Errorf("book payload decode (object): %w", err))
			return
		}
		bc.ingest(book)
	case '[':
		// RTDS may send an initial data dump as an array of snapshots.
		var batch []clob.OrderBookSummary
		if err := json.Unmarshal(payload, &batch); err != nil {
			bc.emitError(fmt.Errorf("book payload decode (array): %w", err))
			return
		}
		for i := range batch {
			bc.ingest(batch[i])
		}
	default:
		bc.emitError(fmt.Errorf("book payload decode: unexpected json (starts with %q)", payload[0]))
	}
}

func (bc *BookCache) ingest(book clob.OrderBookSummary) {
	if book.AssetID == "" {
		return
	}
	bc.mu.Lock()
	bc.books[book.AssetID] = cachedBook{book: book, ingestedAt: time.Now()}
	bc.mu.Unlock()
}

// Get returns the latest book for the token if one arrived within maxAge.
func (bc *BookCache) Get(tokenID string, maxAge time.Duration) (*clob.OrderBookSummary, bool) {
	if bc == nil {
		return nil, false
	}
	bc.mu.RLock()
	entry, ok := bc.books[tokenID]
	bc.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if maxAge > 0 && time.Since(entry.ingestedAt) > maxAge {
		return nil, false
	}
	book := entry.book
	return &book, true
}

func (bc *BookCache) emitError(err error) {
	if err == nil || bc.onError == nil {
		return
	}
	bc.onError(err)
}
