// Package sse implements a Server-Sent Events broker that streams card
// notifications and presentation commands to the UI process.
//
// The broker carries two kinds of traffic. Hints (Publish, PublishCardEvent)
// are best effort: a client whose buffer is full misses them. Commands
// (Send) are retained until settled: every client that connects while a
// command is retained receives it, and a client too slow to take one is
// disconnected so that its reconnect replays it.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/pinboard/internal/models"
)

// ChangedEvent is the throttled hint that the card list should be refreshed.
const ChangedEvent = "cards.changed"

// clientBuffer is the number of frames a client may lag behind.
const clientBuffer = 64

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// CardEvent is the payload of a card lifecycle notification.
type CardEvent struct {
	ID   models.CardID `json:"id"`
	Card any           `json:"card,omitempty"`
}

type msgKind int

const (
	msgHint msgKind = iota
	msgCardHint
	msgCommand
	msgSettle
	msgStats
)

// message is one request to the broker loop. frame is already encoded.
type message struct {
	kind  msgKind
	key   string
	frame []byte
	reply chan stats
}

// retained holds unsettled command frames in send order.
type retained struct {
	keys   []string
	frames map[string][]byte
}

func (r *retained) add(key string, frame []byte) {
	if _, ok := r.frames[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.frames[key] = frame
}

func (r *retained) remove(key string) {
	if _, ok := r.frames[key]; !ok {
		return
	}
	delete(r.frames, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			return
		}
	}
}

type stats struct {
	clients  int
	retained int
}

// Broker manages SSE client connections and broadcasts events.
//
// A single loop goroutine owns the clients, the retained commands and the
// change throttle; public methods talk to it over channels.
type Broker struct {
	changedMin time.Duration

	subscribeCh   chan chan chan []byte
	unsubscribeCh chan chan []byte
	msgCh         chan message

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given cards.changed throttle interval.
func NewBroker(changedThrottle time.Duration) *Broker {
	if changedThrottle <= 0 {
		changedThrottle = 2 * time.Second
	}

	b := &Broker{
		changedMin:    changedThrottle,
		subscribeCh:   make(chan chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		msgCh:         make(chan message, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	pending := &retained{frames: make(map[string][]byte)}
	var lastChanged time.Time
	changedFrame, _ := encode(Event{Type: ChangedEvent, Data: map[string]string{}})

	drop := func(ch chan []byte) {
		delete(clients, ch)
		close(ch)
	}

	// hint delivers frame where there is room.
	hint := func(frame []byte) {
		for ch := range clients {
			select {
			case ch <- frame:
			default:
			}
		}
	}

	// command delivers frame to every client or disconnects it.
	command := func(frame []byte) {
		for ch := range clients {
			select {
			case ch <- frame:
			default:
				drop(ch)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case reply := <-b.subscribeCh:
			ch := make(chan []byte, clientBuffer+len(pending.keys))
			for _, k := range pending.keys {
				ch <- pending.frames[k]
			}
			clients[ch] = struct{}{}
			reply <- ch

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				drop(ch)
			}

		case m := <-b.msgCh:
			switch m.kind {
			case msgHint:
				hint(m.frame)
			case msgCardHint:
				hint(m.frame)
				if now := time.Now(); now.Sub(lastChanged) >= b.changedMin {
					lastChanged = now
					hint(changedFrame)
				}
			case msgCommand:
				pending.add(m.key, m.frame)
				command(m.frame)
			case msgSettle:
				pending.remove(m.key)
			case msgStats:
				m.reply <- stats{clients: len(clients), retained: len(pending.keys)}
			}
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. Retained commands
// are already queued on it.
func (b *Broker) Subscribe() chan []byte {
	reply := make(chan chan []byte, 1)
	if !b.closed.Load() {
		select {
		case b.subscribeCh <- reply:
			return <-reply
		case <-b.stopped:
		}
	}
	ch := make(chan []byte)
	close(ch)
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// stats is queued behind earlier messages, so it observes their effect.
func (b *Broker) stats() stats {
	if b.closed.Load() {
		return stats{}
	}
	resp := make(chan stats, 1)
	select {
	case b.msgCh <- message{kind: msgStats, reply: resp}:
	case <-b.stopped:
		return stats{}
	}
	select {
	case s := <-resp:
		return s
	case <-b.stopped:
		return stats{}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	return b.stats().clients
}

// Retained returns the number of unsettled commands.
func (b *Broker) Retained() int {
	return b.stats().retained
}

func (b *Broker) post(m message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.msgCh <- m:
	case <-b.stopped:
	}
}

// Publish sends a best-effort event to all connected clients.
func (b *Broker) Publish(event Event) {
	frame, err := encode(event)
	if err != nil {
		return
	}
	b.post(message{kind: msgHint, frame: frame})
}

// PublishCardEvent publishes a card lifecycle notification and a throttled
// cards.changed event.
func (b *Broker) PublishCardEvent(kind string, id models.CardID, data any) {
	frame, err := encode(Event{Type: kind, Data: CardEvent{ID: id, Card: data}})
	if err != nil {
		return
	}
	b.post(message{kind: msgCardHint, frame: frame})
}

// Send delivers a command and retains it under key until Settle. Sending
// again under the same key replaces the retained frame.
func (b *Broker) Send(key string, event Event) {
	frame, err := encode(event)
	if err != nil {
		return
	}
	b.post(message{kind: msgCommand, key: key, frame: frame})
}

// Settle stops replaying the command sent under key.
func (b *Broker) Settle(key string) {
	b.post(message{kind: msgSettle, key: key})
}

// ServeHTTP is the SSE endpoint handler (GET /events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
