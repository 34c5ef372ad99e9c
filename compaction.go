package attest

import (
	"context"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/linger"
)

// runCompactor periodically discards the prefix of the consensus node's log
// in favor of a snapshot of the uniqueness table.
func (e *Engine) runCompactor(ctx context.Context) error {
	for {
		if err := linger.Sleep(ctx, e.opts.CompactionInterval); err != nil {
			return err
		}

		if err := e.opts.Node.Compact(ctx); err != nil {
			logging.Log(
				e.opts.Logger,
				"consensus log compaction failed: %s",
				err,
			)
		}
	}
}
