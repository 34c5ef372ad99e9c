package notary

import (
	"context"
)

// A Signer produces the certificate signature that a notary attaches to a
// committed transaction.
//
// The signature scheme itself is outside the scope of this module; the
// scheme-specific implementation is supplied by the application.
type Signer interface {
	// Sign returns a signature over the given transaction ID.
	Sign(ctx context.Context, transactionID string) ([]byte, error)
}
