package adapters

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// SimOptions tune the simulated networks. Tests inject a seeded random
// source, a fixed clock and a zero callback delay for determinism.
type SimOptions struct {
	// Rand drives success/failure outcomes and id generation. Defaults to
	// a time-seeded source.
	Rand *rand.Rand
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// CallbackDelay is the artificial latency before a simulated network
	// reports its asynchronous result. Zero fires callbacks immediately.
	CallbackDelay time.Duration
}

func (o SimOptions) withDefaults() SimOptions {
	if o.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		o.Rand = rand.New(rand.NewPCG(seed, seed))
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type simPayment struct {
	status string
	data   map[string]any
}

// simBackend holds the shared state of a simulated network: its payment
// ledger, random source and clock.
type simBackend struct {
	mu       sync.Mutex
	rng      *rand.Rand
	now      func() time.Time
	delay    time.Duration
	payments map[string]*simPayment
}

func newSimBackend(opts SimOptions) *simBackend {
	opts = opts.withDefaults()
	return &simBackend{
		rng:      opts.Rand,
		now:      opts.Now,
		delay:    opts.CallbackDelay,
		payments: make(map[string]*simPayment),
	}
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// generateID makes a network-style opaque id like "MPESA_1712000000_k3f9x2qa".
func (b *simBackend) generateID(prefix string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	suffix := make([]byte, 8)
	for i := range suffix {
		suffix[i] = idAlphabet[b.rng.IntN(len(idAlphabet))]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, b.now().Unix(), suffix)
}

// generateHash makes a 0x-prefixed 32-byte hex string, the shape of an
// EVM transaction hash.
func (b *simBackend) generateHash() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = hexDigits[b.rng.IntN(16)]
	}
	return "0x" + string(buf)
}

func (b *simBackend) chance(p float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64() < p
}

func (b *simBackend) put(id, status string, data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payments[id] = &simPayment{status: status, data: data}
}

func (b *simBackend) get(id string) (string, map[string]any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[id]
	if !ok {
		return "", nil, false
	}
	data := make(map[string]any, len(p.data))
	for k, v := range p.data {
		data[k] = v
	}
	return p.status, data, true
}

func (b *simBackend) update(id, status string, patch map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[id]
	if !ok {
		return
	}
	p.status = status
	for k, v := range patch {
		p.data[k] = v
	}
}

// after schedules fn once the simulated network latency has elapsed. With
// a zero delay fn runs synchronously so tests see the final state at once.
func (b *simBackend) after(fn func()) {
	if b.delay <= 0 {
		fn()
		return
	}
	time.AfterFunc(b.delay, fn)
}

// statusOf is the common GetPaymentStatus implementation for simulators
// that keep their ledger in the backend.
func (b *simBackend) statusOf(networkPaymentID string) (*StatusResult, error) {
	status, data, ok := b.get(networkPaymentID)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	res := &StatusResult{
		NetworkPaymentID: networkPaymentID,
		Status:           status,
		UpdatedAt:        b.now(),
		NetworkMetadata:  data,
	}
	if reason, ok := data["failureReason"].(string); ok {
		res.FailureReason = reason
	}
	return res, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
