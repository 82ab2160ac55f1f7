// Package model defines domain entities shared by the signer and session layers.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Event kinds used by this client.
const (
	// KindClientAuth is the ephemeral auth-proof event kind (NIP-42).
	KindClientAuth = 22242

	// KindAppData is the parameterized-replaceable application data kind
	// (NIP-78). Two events with the same pubkey and "d" tag value are revisions
	// of the same logical record.
	KindAppData = 30078
)

// Tag names with protocol meaning.
const (
	TagRelay     = "relay"
	TagChallenge = "challenge"
	TagD         = "d"
)

// Tag is a single event tag: a name followed by its values.
type Tag []string

// Event is a signed relay record. ID and Sig are empty until the event has been
// passed through a signer.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// NewAuthProof builds an unsigned auth-proof event binding the relay URL and the
// challenge issued on the current connection.
func NewAuthProof(pubkey, relayURL, challenge string, now time.Time) *Event {
	return &Event{
		PubKey:    pubkey,
		CreatedAt: now.Unix(),
		Kind:      KindClientAuth,
		Tags: []Tag{
			{TagRelay, relayURL},
			{TagChallenge, challenge},
		},
		Content: "",
	}
}

// NewAppData builds an unsigned replaceable application-data event. The "d" tag
// is always first; extra tags follow in caller order.
func NewAppData(pubkey, content, dTag string, extra []Tag, now time.Time) *Event {
	tags := make([]Tag, 0, 1+len(extra))
	tags = append(tags, Tag{TagD, dTag})
	tags = append(tags, extra...)
	return &Event{
		PubKey:    pubkey,
		CreatedAt: now.Unix(),
		Kind:      KindAppData,
		Tags:      tags,
		Content:   content,
	}
}

// Serialize returns the canonical form the event ID is derived from:
// the JSON array [0, pubkey, created_at, kind, tags, content].
func (e *Event) Serialize() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return json.Marshal([]any{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content})
}

// Hash returns the sha256 digest of the canonical serialization. The signature
// is computed over this digest.
func (e *Event) Hash() ([32]byte, error) {
	b, err := e.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// ComputeID returns the lowercase-hex event ID for the current field values.
func (e *Event) ComputeID() (string, error) {
	h, err := e.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// TagValue returns the first value of the first tag with the given name, or ""
// if no such tag exists.
func (e *Event) TagValue(name string) string {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
