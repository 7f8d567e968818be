package vault

import (
	"context"
)

type guardKey struct{}

// guard serializes mutating operations. The returned context is marked so
// that a collaborator calling back into the engine with it is rejected
// instead of deadlocking.
//
// Collaborators must call back with the context they were handed. A
// callback on an unrelated context waits like any concurrent caller and
// gives up only when that context is done.
type guard struct {
	sem chan struct{}
}

func newGuard() guard {
	return guard{sem: make(chan struct{}, 1)}
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{}) != nil {
		return nil, nil, ErrReentrant
	}
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	release := func() { <-g.sem }
	return context.WithValue(ctx, guardKey{}, struct{}{}), release, nil
}
