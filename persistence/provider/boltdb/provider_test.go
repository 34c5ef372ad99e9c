package boltdb_test

import (
	"context"
	"time"

	"github.com/dogmatiq/attest/internal/testing/boltdbtest"
	"github.com/dogmatiq/attest/persistence"
	"github.com/dogmatiq/attest/persistence/internal/providertest"
	. "github.com/dogmatiq/attest/persistence/provider/boltdb"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

var _ = Describe("type Provider", func() {
	providertest.Declare(
		func(ctx context.Context, in providertest.In) providertest.Out {
			db, close := boltdbtest.Open()

			return providertest.Out{
				NewProvider: func() (persistence.Provider, func()) {
					return &Provider{DB: db}, close
				},
			}
		},
		nil,
	)
})

var _ = Describe("type FileProvider", func() {
	providertest.Declare(
		func(ctx context.Context, in providertest.In) providertest.Out {
			db, close := boltdbtest.Open()

			filename := db.Path()
			db.Close()

			return providertest.Out{
				NewProvider: func() (persistence.Provider, func()) {
					return &FileProvider{Path: filename}, close
				},
			}
		},
		nil,
	)

	Describe("func Open()", func() {
		It("returns an error if the DB can not be opened", func() {
			db, close := boltdbtest.Open()
			defer close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()

			// The database file is still held open by db, so the file lock can
			// not be acquired before the deadline.
			p := &FileProvider{
				Path: db.Path(),
			}

			_, err := p.Open(ctx, "<node-key>")
			Expect(err).To(Equal(context.DeadlineExceeded))
		})

		It("uses the configured BoltDB options", func() {
			filename, remove := boltdbtest.TempFile()
			defer remove()

			p := &FileProvider{
				Path: filename,
				Options: &bbolt.Options{
					NoSync: true,
				},
			}

			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			ds, err := p.Open(ctx, "<node-key>")
			Expect(err).ShouldNot(HaveOccurred())
			ds.Close()
		})
	})
})
