package syncx

import (
	"context"
	"errors"
)

// ErrEmptyCell is returned by Cell.Get before the first Set.
var ErrEmptyCell = errors.New("cell is empty")

// Cell is a mutable holder for a configuration-derived value, guarded by an
// RWLock. Values are replaced wholesale, never mutated in place: readers
// observe either the old or the new value in full.
type Cell[T any] struct {
	lock  *RWLock
	value T
	set   bool
}

// NewCell returns an empty cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{lock: NewRWLock()}
}

// Get returns the current value under a read lock. An empty cell yields
// ErrEmptyCell.
func (c *Cell[T]) Get(ctx context.Context) (T, error) {
	var out T
	err := c.lock.WithRLock(ctx, func() error {
		if !c.set {
			return ErrEmptyCell
		}
		out = c.value
		return nil
	})
	return out, err
}

// Set replaces the value under the write lock.
func (c *Cell[T]) Set(ctx context.Context, value T) error {
	return c.lock.WithLock(ctx, func() error {
		c.value = value
		c.set = true
		return nil
	})
}

// Swap replaces the value with fn(current) under the write lock. An empty
// cell passes the zero value to fn and is set afterwards.
func (c *Cell[T]) Swap(ctx context.Context, fn func(T) T) error {
	return c.lock.WithLock(ctx, func() error {
		c.value = fn(c.value)
		c.set = true
		return nil
	})
}

// WithValue runs fn with the current value under a read lock, keeping the
// lock held for the duration of fn. An empty cell yields ErrEmptyCell.
func (c *Cell[T]) WithValue(ctx context.Context, fn func(T) error) error {
	return c.lock.WithRLock(ctx, func() error {
		if !c.set {
			return ErrEmptyCell
		}
		return fn(c.value)
	})
}
