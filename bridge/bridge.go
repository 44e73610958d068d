// Package bridge sends named messages to UI surfaces and correlates their
// single replies.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"ffedit/metrics"

	"github.com/google/uuid"
)

// ReplySuffix is appended to a message name to form the name of its reply.
const ReplySuffix = "--response"

// ErrUnavailable is returned when the target surface is not live.
var ErrUnavailable = errors.New("surface unavailable")

// Message is delivered to a surface. RequestID is empty for notifications.
type Message struct {
	Name      string      `json:"name"`
	RequestID string      `json:"requestId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Reply is a surface's answer to a request.
type Reply struct {
	Name      string          `json:"name"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Host delivers messages to live surfaces.
type Host interface {
	// Deliver returns an error wrapping ErrUnavailable when target is not live.
	Deliver(target string, msg Message) error
}

// ReplyName returns the reply name for a message name.
func ReplyName(name string) string {
	return name + ReplySuffix
}

type pendingReply struct {
	id        string
	replyName string
	seq       uint64
	ch        chan json.RawMessage
}

// Bridge holds the requests of one host that are waiting for a reply.
type Bridge struct {
	host Host

	mu      sync.Mutex
	seq     uint64
	pending map[string]*pendingReply
}

func New(host Host) *Bridge {
	return &Bridge{host: host, pending: make(map[string]*pendingReply)}
}

// Future resolves with the first reply to a request.
type Future struct {
	ID        string
	ReplyName string
	ch        chan json.RawMessage
}

// Wait blocks until the reply arrives or ctx is done. The bridge itself
// never times a request out.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case payload := <-f.ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Request sends name to target and registers for its reply. The slot is
// registered before the message goes out, so a surface that answers
// immediately is not missed.
func (b *Bridge) Request(target, name string, payload interface{}) (*Future, error) {
	p := &pendingReply{
		id:        uuid.NewString(),
		replyName: ReplyName(name),
		ch:        make(chan json.RawMessage, 1),
	}

	b.mu.Lock()
	b.seq++
	p.seq = b.seq
	b.pending[p.id] = p
	b.mu.Unlock()
	metrics.BridgePending.Inc()

	if err := b.host.Deliver(target, Message{Name: name, RequestID: p.id, Payload: payload}); err != nil {
		b.drop(p.id)
		metrics.BridgeRequestsTotal.WithLabelValues(name, "unavailable").Inc()
		return nil, fmt.Errorf("request %s to %s: %w", name, target, err)
	}
	metrics.BridgeRequestsTotal.WithLabelValues(name, "sent").Inc()
	return &Future{ID: p.id, ReplyName: p.replyName, ch: p.ch}, nil
}

// Notify sends a message that expects no reply.
func (b *Bridge) Notify(target, name string, payload interface{}) error {
	if err := b.host.Deliver(target, Message{Name: name, Payload: payload}); err != nil {
		return fmt.Errorf("notify %s to %s: %w", name, target, err)
	}
	return nil
}

// Resolve hands a reply to the request it answers and reports whether one
// was waiting. A reply without a request id goes to the oldest request
// waiting on that reply name. Replies to a request that was already
// answered are ignored.
func (b *Bridge) Resolve(reply Reply) bool {
	b.mu.Lock()
	var match *pendingReply
	if reply.RequestID != "" {
		if p, ok := b.pending[reply.RequestID]; ok && p.replyName == reply.Name {
			match = p
		}
	} else {
		for _, p := range b.pending {
			if p.replyName == reply.Name && (match == nil || p.seq < match.seq) {
				match = p
			}
		}
	}
	if match != nil {
		delete(b.pending, match.id)
	}
	b.mu.Unlock()

	if match == nil {
		log.Printf("Ignoring reply %s (request %q): nothing is waiting for it", reply.Name, reply.RequestID)
		return false
	}
	metrics.BridgePending.Dec()
	metrics.BridgeRequestsTotal.WithLabelValues(strings.TrimSuffix(reply.Name, ReplySuffix), "resolved").Inc()
	match.ch <- reply.Payload
	return true
}

// Abandon drops the slot of a request whose caller stopped waiting.
func (b *Bridge) Abandon(f *Future) {
	if b.drop(f.ID) {
		metrics.BridgeRequestsTotal.WithLabelValues(strings.TrimSuffix(f.ReplyName, ReplySuffix), "abandoned").Inc()
	}
}

// Pending returns the number of requests waiting for a reply.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) drop(id string) bool {
	b.mu.Lock()
	_, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if ok {
		metrics.BridgePending.Dec()
	}
	return ok
}
