package fixtures

import (
	"context"
)

// SignerStub is a test implementation of the notary.Signer interface.
//
// By default it produces a recognizable, insecure signature over the
// transaction ID.
type SignerStub struct {
	SignFunc func(context.Context, string) ([]byte, error)
}

// Sign returns a signature over the given transaction ID.
func (s *SignerStub) Sign(ctx context.Context, transactionID string) ([]byte, error) {
	if s.SignFunc != nil {
		return s.SignFunc(ctx, transactionID)
	}

	return []byte("signed:" + transactionID), nil
}
