package server

import (
	"context"
	"errors"

	"github.com/versiongc/versiongc/internal/objectstore"
)

// ObjectStoreChecker reports whether the failure report bucket is reachable.
type ObjectStoreChecker struct {
	store  objectstore.Store
	prefix string
}

// NewObjectStoreChecker creates a checker listing prefix.
func NewObjectStoreChecker(store objectstore.Store, prefix string) *ObjectStoreChecker {
	return &ObjectStoreChecker{store: store, prefix: prefix}
}

func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

// CheckReady lists the report prefix. An empty listing is fine; a missing
// bucket or denied access is not.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	_, err := c.store.List(ctx, c.prefix)
	if err != nil && errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

// DepthFunc reports a queue backlog; a nil error means the queue responded.
type DepthFunc func(ctx context.Context) (pending, inFlight int, err error)

// QueueChecker reports whether the work queue is reachable.
type QueueChecker struct {
	depth DepthFunc
}

// NewQueueChecker creates a QueueChecker.
func NewQueueChecker(depth DepthFunc) *QueueChecker {
	return &QueueChecker{depth: depth}
}

func (c *QueueChecker) Name() string {
	return "queue"
}

func (c *QueueChecker) CheckReady(ctx context.Context) error {
	if c.depth == nil {
		return nil
	}
	_, _, err := c.depth(ctx)
	return err
}

// FuncChecker wraps a function as a ReadinessChecker.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a FuncChecker.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

func (c *FuncChecker) Name() string {
	return c.name
}

func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
