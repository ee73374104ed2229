package pv

import (
	"context"
	"errors"
	"fmt"
)

// InSession runs fn inside a session on shard. The session is committed when
// fn returns nil and aborted when fn returns an error or panics.
// Each shard commits independently; there is no cross-shard commit.
func InSession(ctx context.Context, shard Shard, fn func(w ShardWriter) error) (err error) {
	sess, err := shard.StartSession(ctx)
	if err != nil {
		return fmt.Errorf("starting session on shard %q: %w", shard.ID(), err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sess.Abort()
			panic(p)
		}
		if err != nil {
			if abortErr := sess.Abort(); abortErr != nil {
				err = errors.Join(err, fmt.Errorf("aborting session on shard %q: %w", shard.ID(), abortErr))
			}
			return
		}
		if commitErr := sess.Commit(); commitErr != nil {
			err = fmt.Errorf("committing session on shard %q: %w", shard.ID(), commitErr)
		}
	}()

	return fn(sess)
}
