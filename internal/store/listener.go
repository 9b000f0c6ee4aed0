package store

import (
	"context"
	"fmt"

	"github.com/noah-isme/course-sync/internal/models"
)

type finder func(ctx context.Context, q Query) ([]models.Record, error)

// startListener evaluates q once, then again for every change on the feed
// that can affect it. Evaluations are emitted in the order changes arrive.
func startListener(ctx context.Context, q Query, find finder, feed Feed, backlog int) (*Listener, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sub, err := feed.Subscribe(ctx, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.Collection, err)
	}
	if backlog < 0 {
		backlog = 0
	}

	lctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot, backlog)
	l := &Listener{C: out}
	l.detach = func() {
		cancel()
		_ = sub.Close()
	}

	go func() {
		defer close(out)
		defer l.Close()

		send := func(s Snapshot) bool {
			select {
			case out <- s:
				return true
			case <-lctx.Done():
				return false
			}
		}
		evaluate := func() bool {
			recs, err := find(lctx, q)
			if err != nil {
				if lctx.Err() == nil {
					send(Snapshot{Err: err})
				}
				return false
			}
			return send(Snapshot{Records: recs})
		}

		if !evaluate() {
			return
		}
		changes := sub.Changes()
		for {
			select {
			case <-lctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					if lctx.Err() == nil {
						send(Snapshot{Err: fmt.Errorf("change feed for %s closed: %w", q.Collection, ErrClosed)})
					}
					return
				}
				if !q.Affects(change) {
					continue
				}
				if !evaluate() {
					return
				}
			}
		}
	}()

	return l, nil
}
