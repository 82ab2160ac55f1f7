// Package signer defines the signing port the session depends on.
//
// Implementations wrap whatever holds the private key: the file-backed keystore
// in this repo, or an external capability such as a browser extension in the
// reference deployment. Implementations carry no protocol knowledge.
package signer

import (
	"context"

	"github.com/avolkovv/relaypub/internal/model"
)

// Signer exposes the acting identity and signs structured records.
type Signer interface {
	// PublicKey returns the identity (x-only pubkey, lowercase hex) or fails
	// with errs.ErrSignerUnavailable when no signing capability is reachable.
	PublicKey(ctx context.Context) (string, error)

	// Sign computes the event ID, signs it, and fills ev.ID and ev.Sig in
	// place. Fails with errs.ErrSigningRejected when the capability refuses.
	// Retry policy, if any, belongs to the caller.
	Sign(ctx context.Context, ev *model.Event) error
}
