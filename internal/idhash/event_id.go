// Package idhash derives deterministic identifiers from event content.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"

	"security-risk-lab/internal/domain"
)

// shortRefBytes is the hash prefix encoded by ShortRef.
const shortRefBytes = 8

// ComputeEventID computes a deterministic event_id using SHA256 over the
// event rendered as JSON with sorted keys. Two events with the same fields
// and values get the same id regardless of field order on the wire.
// Returns hex-encoded hash (64 characters).
func ComputeEventID(e *domain.RawEvent) (string, error) {
	// encoding/json writes map keys in sorted order
	canonical, err := json.Marshal(e.Fields())
	if err != nil {
		return "", fmt.Errorf("canonicalize event: %w", err)
	}
	hash := sha256.Sum256(canonical)
	return hex.EncodeToString(hash[:]), nil
}

// ShortRef renders the first bytes of a hex event id in base58 for logs and
// alert subjects. Ids that are not hex are returned unchanged.
func ShortRef(eventID string) string {
	raw, err := hex.DecodeString(eventID)
	if err != nil || len(raw) == 0 {
		return eventID
	}
	if len(raw) > shortRefBytes {
		raw = raw[:shortRefBytes]
	}
	return base58.Encode(raw)
}
