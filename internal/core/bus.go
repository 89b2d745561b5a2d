package core

import (
	"context"
	"sync"
	"time"

	"github.com/nodelink/gateway/internal/gatewayerr"
	"github.com/nodelink/gateway/internal/gatewaymetrics"
)

// addressed pairs an Envelope with the address that sent it, returned by RecvFrom.
type addressed struct {
	env    Envelope
	sender string
}

// endpoint is one registered bus participant: a bounded inbox, matching
// spec §4.4's "no broadcast, FIFO per (sender, receiver) pair" contract.
type endpoint struct {
	inbox chan addressed
}

// Bus is the in-process datagram bus (C4). Unlike the teacher's pub/sub
// Bus, which fans one message out to every subscriber, this bus is strictly
// point-to-point: SendTo delivers to exactly one named receiver.
type Bus struct {
	mu          sync.RWMutex
	endpoints   map[string]*endpoint
	queueDepth  int
	sendTimeout time.Duration
}

// NewBus builds a Bus whose per-endpoint inbox holds queueDepth envelopes
// and whose SendTo calls give up after sendTimeout when the inbox is full.
func NewBus(queueDepth int, sendTimeout time.Duration) *Bus {
	return &Bus{
		endpoints:   make(map[string]*endpoint),
		queueDepth:  queueDepth,
		sendTimeout: sendTimeout,
	}
}

// Register creates address's inbox. Registering an address twice replaces
// its inbox, dropping anything still queued on the old one.
func (b *Bus) Register(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[address] = &endpoint{inbox: make(chan addressed, b.queueDepth)}
}

// Unregister removes address. Pending sends to it will see WOULD_BLOCK-style
// failure once the inbox is gone.
func (b *Bus) Unregister(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, address)
}

func (b *Bus) lookup(address string) (*endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[address]
	return ep, ok
}

// SendTo delivers env to receiver's inbox. It blocks up to the bus's
// configured send timeout and returns a WOULD_BLOCK-style error if the
// inbox stays full, or if receiver does not exist.
func (b *Bus) SendTo(ctx context.Context, env Envelope) error {
	ep, ok := b.lookup(env.Receiver)
	if !ok {
		err := gatewayerr.New(gatewayerr.CodePluginDisconnected, "receiver not registered").With("receiver", env.Receiver)
		gatewaymetrics.RecordBusFanout(env.Receiver, err)
		return err
	}

	timer := time.NewTimer(b.sendTimeout)
	defer timer.Stop()

	select {
	case ep.inbox <- addressed{env: env, sender: env.Sender}:
		gatewaymetrics.RecordBusFanout(env.Receiver, nil)
		return nil
	case <-timer.C:
		err := gatewayerr.New(gatewayerr.CodeInternal, "send timed out, receiver inbox full").With("receiver", env.Receiver)
		gatewaymetrics.RecordBusFanout(env.Receiver, err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecvFrom blocks until address receives an envelope or ctx is done, and
// returns the envelope together with the address that sent it.
func (b *Bus) RecvFrom(ctx context.Context, address string) (Envelope, string, error) {
	ep, ok := b.lookup(address)
	if !ok {
		return Envelope{}, "", gatewayerr.New(gatewayerr.CodeInternal, "address not registered").With("address", address)
	}

	select {
	case m := <-ep.inbox:
		return m.env, m.sender, nil
	case <-ctx.Done():
		return Envelope{}, "", ctx.Err()
	}
}
