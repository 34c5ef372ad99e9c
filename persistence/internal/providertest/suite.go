package providertest

import (
	"context"
	"time"

	"github.com/dogmatiq/attest/persistence"
	"github.com/onsi/ginkgo"
	"github.com/onsi/gomega"
)

// In is a container for values that are provided to the provider-specific
// "before" function.
type In struct{}

// Out is a container for values that are provided by the provider-specific
// "before" function.
type Out struct {
	// NewProvider returns the persistence provider under test, and a function
	// that releases any resources it holds.
	NewProvider func() (persistence.Provider, func())

	// TestTimeout is the maximum duration allowed for each test.
	TestTimeout time.Duration
}

// DefaultTestTimeout is the default test timeout.
const DefaultTestTimeout = 3 * time.Second

// Declare declares generic behavioral tests for a specific persistence
// provider implementation.
func Declare(
	before func(context.Context, In) Out,
	after func(),
) {
	var (
		ctx           context.Context
		cancel        func()
		out           Out
		provider      persistence.Provider
		closeProvider func()
		dataStore     persistence.DataStore
	)

	ginkgo.Context("standard provider test suite", func() {
		ginkgo.BeforeEach(func() {
			setupCtx, cancelSetup := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelSetup()

			out = before(setupCtx, In{})

			if out.TestTimeout <= 0 {
				out.TestTimeout = DefaultTestTimeout
			}

			ctx, cancel = context.WithTimeout(context.Background(), out.TestTimeout)

			provider, closeProvider = out.NewProvider()

			var err error
			dataStore, err = provider.Open(ctx, "<node-key>")
			gomega.Expect(err).ShouldNot(gomega.HaveOccurred())
		})

		ginkgo.AfterEach(func() {
			if dataStore != nil {
				dataStore.Close()
			}

			if closeProvider != nil {
				closeProvider()
			}

			if after != nil {
				after()
			}

			cancel()
		})

		declareProviderTests(&ctx, &provider)
		declareDataStoreTests(&ctx, &dataStore)
		declareCheckpointTests(&ctx, &dataStore)
		declareOutboxTests(&ctx, &dataStore)
	})
}
