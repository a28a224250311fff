// Package signer signs and verifies webhook payloads. The signature covers
// a timestamped envelope so receivers can reject replayed deliveries.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the HTTP header carrying the signature.
const Header = "X-Webhook-Signature"

var (
	ErrMalformedSignature = errors.New("signer: malformed signature header")
	ErrSignatureMismatch  = errors.New("signer: signature mismatch")
	ErrTimestampOutOfTolerance = errors.New("signer: timestamp outside tolerance")
)

// Sign produces a "t=<unix>,v1=<hex>" signature for payload at ts.
// The signed message is "<unix>.<payload>".
func Sign(secret string, payload []byte, ts time.Time) string {
	unix := ts.Unix()
	mac := compute(secret, unix, payload)
	return fmt.Sprintf("t=%d,v1=%s", unix, mac)
}

// Verify checks a signature header against payload. The embedded timestamp
// must be within tolerance of now; comparison of the digest is constant
// time.
func Verify(secret string, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	ts, sig, err := parse(header)
	if err != nil {
		return err
	}
	if tolerance > 0 {
		diff := now.Sub(time.Unix(ts, 0))
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			return ErrTimestampOutOfTolerance
		}
	}
	expected := compute(secret, ts, payload)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureMismatch
	}
	return nil
}

func compute(secret string, unix int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", unix)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parse(header string) (int64, string, error) {
	var ts int64 = -1
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, "", ErrMalformedSignature
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", ErrMalformedSignature
			}
			ts = parsed
		case "v1":
			sig = v
		}
	}
	if ts < 0 || sig == "" {
		return 0, "", ErrMalformedSignature
	}
	return ts, sig, nil
}
