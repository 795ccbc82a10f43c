package rtds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultURL = "wss://ws-live-data.polymarket.com"

const (
	DefaultPingInterval = 5 * time.Second

	writeDeadline = 3 * time.Second
)

type Subscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`

	// Filters is an optional JSON string (not an object).
	Filters string `json:"filters,omitempty"`

	ClobAuth  any `json:"clob_auth,omitempty"`
	GammaAuth any `json:"gamma_auth,omitempty"`
}

type subscribeRequest struct {
	Action        string         `json:"action"`
	Subscriptions []Subscription `json:"subscriptions"`
}

// Message is the realtime stream's message envelope. Payload stays raw so the
// consumer can decode it based on topic and type.
type Message struct {
	Topic        string          `json:"topic"`
	Type         string          `json:"type"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	return o
}

// stream owns one logical subscription to the realtime endpoint. It redials
// with jittered exponential backoff until the context ends and hands every
// decoded envelope to the handler. Neither callback may block for long; a
// slow handler stalls the read loop and eventually the server's pings.
type stream struct {
	url  string
	subs []Subscription
	opts Options

	handle  func(Message)
	onError func(error)
}

func runStream(ctx context.Context, url string, subs []Subscription, opts Options, handle func(Message), onError func(error)) {
	s := &stream{
		url:     url,
		subs:    subs,
		opts:    opts.withDefaults(),
		handle:  handle,
		onError: onError,
	}
	if s.url == "" {
		s.url = DefaultURL
	}
	if s.handle == nil {
		s.handle = func(Message) {}
	}

	backoff := s.opts.BackoffMin
	for ctx.Err() == nil {
		dialed, err := s.connectAndRead(ctx)
		if dialed {
			backoff = s.opts.BackoffMin
		}
		if err != nil && ctx.Err() == nil {
			s.reportError(err)
		}
		sleepWithJitter(ctx, backoff)
		backoff = nextBackoff(backoff, s.opts.BackoffMax)
	}
}

func (s *stream) connectAndRead(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("rtds dial: %w", err)
	}
	defer conn.Close()

	req, err := json.Marshal(subscribeRequest{Action: "subscribe", Subscriptions: s.subs})
	if err != nil {
		return true, fmt.Errorf("rtds subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return true, fmt.Errorf("rtds subscribe write: %w", err)
	}

	// The writer side is shared between the ping loop and the subscribe
	// above; reads stay single-goroutine in readLoop.
	var writeMu sync.Mutex
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				werr := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
				if werr != nil {
					s.reportError(fmt.Errorf("rtds ping: %w", werr))
					_ = conn.Close()
					return
				}
			}
		}
	}()
	go func() {
		// Unblocks the read loop when the caller shuts down.
		<-pingCtx.Done()
		_ = conn.Close()
	}()

	return true, s.readLoop(ctx, conn)
}

func (s *stream) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, raw, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rtds read: %w", err)
		}
		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(raw) == 0 || string(raw) == "pong" || string(raw) == "ping" {
			continue
		}

		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			s.reportError(fmt.Errorf("rtds decode: %w", err))
			continue
		}
		s.handle(m)
	}
}

func (s *stream) reportError(err error) {
	if err == nil || s.onError == nil {
		return
	}
	s.onError(err)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int63n(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
