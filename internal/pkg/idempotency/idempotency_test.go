package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossborder/core/internal/models"
)

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := Fingerprint("POST", "/v1/payments", []byte(`{"amount":100,"currency":"USD"}`))
	b := Fingerprint("POST", "/v1/payments", []byte(`{"currency":"USD","amount":100}`))
	assert.Equal(t, a, b)
}

func TestFingerprintNestedKeyOrder(t *testing.T) {
	a := Fingerprint("POST", "/v1/payments", []byte(`{"sender":{"firstName":"A","lastName":"B"},"amount":1}`))
	b := Fingerprint("POST", "/v1/payments", []byte(`{"amount":1,"sender":{"lastName":"B","firstName":"A"}}`))
	assert.Equal(t, a, b)
}

func TestFingerprintArrayOrderSignificant(t *testing.T) {
	a := Fingerprint("POST", "/v1/x", []byte(`{"items":[1,2]}`))
	b := Fingerprint("POST", "/v1/x", []byte(`{"items":[2,1]}`))
	assert.NotEqual(t, a, b)
}

func TestFingerprintDistinguishesMethodAndPath(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.NotEqual(t,
		Fingerprint("POST", "/v1/payments", body),
		Fingerprint("PUT", "/v1/payments", body))
	assert.NotEqual(t,
		Fingerprint("POST", "/v1/payments", body),
		Fingerprint("POST", "/v1/quotes", body))
}

func TestFingerprintPreservesNumberFormatting(t *testing.T) {
	// Large ids must not be mangled by float64 round-tripping.
	a := Fingerprint("POST", "/v1/x", []byte(`{"id":9007199254740993}`))
	b := Fingerprint("POST", "/v1/x", []byte(`{"id":9007199254740992}`))
	assert.NotEqual(t, a, b)
}

func TestMemoryIndexMissHitConflict(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	fp := Fingerprint("POST", "/v1/payments", []byte(`{"a":1}`))

	res, err := idx.Lookup(ctx, "key-1", fp)
	require.NoError(t, err)
	assert.Equal(t, Miss, res.Outcome)

	require.NoError(t, idx.Store(ctx, &models.IdempotencyEntryModel{
		Key:            "key-1",
		Fingerprint:    fp,
		ResponseStatus: 201,
		ResponseBody:   []byte(`{"id":"pay-1"}`),
	}))

	res, err = idx.Lookup(ctx, "key-1", fp)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Outcome)
	assert.Equal(t, 201, res.Entry.ResponseStatus)
	assert.Equal(t, []byte(`{"id":"pay-1"}`), res.Entry.ResponseBody)

	other := Fingerprint("POST", "/v1/payments", []byte(`{"a":2}`))
	res, err = idx.Lookup(ctx, "key-1", other)
	require.NoError(t, err)
	assert.Equal(t, Conflict, res.Outcome)
}

func TestMemoryIndexWriteOnce(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	fp := Fingerprint("POST", "/v1/payments", nil)

	require.NoError(t, idx.Store(ctx, &models.IdempotencyEntryModel{
		Key: "k", Fingerprint: fp, ResponseStatus: 201, ResponseBody: []byte("first"),
	}))
	require.NoError(t, idx.Store(ctx, &models.IdempotencyEntryModel{
		Key: "k", Fingerprint: fp, ResponseStatus: 500, ResponseBody: []byte("second"),
	}))

	res, err := idx.Lookup(ctx, "k", fp)
	require.NoError(t, err)
	require.Equal(t, Hit, res.Outcome)
	assert.Equal(t, []byte("first"), res.Entry.ResponseBody)
}

func TestMemoryIndexTTLExpiry(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(time.Millisecond)
	fp := Fingerprint("POST", "/v1/payments", nil)

	require.NoError(t, idx.Store(ctx, &models.IdempotencyEntryModel{Key: "k", Fingerprint: fp}))
	time.Sleep(5 * time.Millisecond)

	res, err := idx.Lookup(ctx, "k", fp)
	require.NoError(t, err)
	assert.Equal(t, Miss, res.Outcome)
}
