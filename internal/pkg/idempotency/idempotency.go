// Package idempotency implements Idempotency-Key request deduplication.
// A key is bound to the fingerprint of the first request that used it;
// replays with the same fingerprint get the stored response back
// byte-for-byte, replays with a different fingerprint are conflicts.
package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crossborder/core/internal/models"
)

// Outcome classifies a key lookup.
type Outcome int

const (
	// Miss means the key has never been seen.
	Miss Outcome = iota
	// Hit means the key was seen with an identical request fingerprint.
	Hit
	// Conflict means the key was seen with a different request fingerprint.
	Conflict
)

// Result is the outcome of a lookup plus, on Hit, the stored response.
type Result struct {
	Outcome Outcome
	Entry   *models.IdempotencyEntryModel
}

// Index stores idempotency entries. Store is write-once per key.
type Index interface {
	Lookup(ctx context.Context, key, fingerprint string) (Result, error)
	Store(ctx context.Context, entry *models.IdempotencyEntryModel) error
}

// Fingerprint hashes the request identity: method, path and body, with the
// body reduced to a canonical JSON form so that key order differences do
// not produce distinct fingerprints.
func Fingerprint(method, path string, body []byte) string {
	canonical := canonicalizeBody(body)
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalizeBody(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		// Non-JSON bodies hash as raw bytes.
		return trimmed
	}
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.Bytes()
}

// writeCanonical emits JSON with object keys sorted recursively. Array
// order is significant and preserved.
func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, e)
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, _ := json.Marshal(t)
		buf.Write(b)
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case nil:
		buf.WriteString("null")
	default:
		b, _ := json.Marshal(t)
		buf.Write(b)
	}
}

// MemoryIndex is the default in-process Index.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*models.IdempotencyEntryModel
	ttl     time.Duration
}

// NewMemoryIndex creates an index whose entries expire after ttl. A zero
// ttl keeps entries forever.
func NewMemoryIndex(ttl time.Duration) *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*models.IdempotencyEntryModel), ttl: ttl}
}

func (m *MemoryIndex) Lookup(_ context.Context, key, fingerprint string) (Result, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if ok && m.ttl > 0 && time.Since(entry.CreatedAt) > m.ttl {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		ok = false
	}
	if !ok {
		return Result{Outcome: Miss}, nil
	}
	if entry.Fingerprint != fingerprint {
		return Result{Outcome: Conflict}, nil
	}
	cp := *entry
	return Result{Outcome: Hit, Entry: &cp}, nil
}

func (m *MemoryIndex) Store(_ context.Context, entry *models.IdempotencyEntryModel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.Key]; ok {
		// Write-once: first writer wins.
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	cp := *entry
	m.entries[entry.Key] = &cp
	return nil
}

// RedisIndex stores entries in Redis so replay survives restarts and is
// shared across instances.
type RedisIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIndex(client *redis.Client, ttl time.Duration) *RedisIndex {
	return &RedisIndex{client: client, prefix: "idem:", ttl: ttl}
}

func (r *RedisIndex) Lookup(ctx context.Context, key, fingerprint string) (Result, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return Result{Outcome: Miss}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	var entry models.IdempotencyEntryModel
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Result{}, fmt.Errorf("idempotency decode: %w", err)
	}
	if entry.Fingerprint != fingerprint {
		return Result{Outcome: Conflict}, nil
	}
	return Result{Outcome: Hit, Entry: &entry}, nil
}

func (r *RedisIndex) Store(ctx context.Context, entry *models.IdempotencyEntryModel) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	ok, err := r.client.SetNX(ctx, r.prefix+entry.Key, raw, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	_ = ok // first writer wins, a lost race is not an error
	return nil
}
