package syncx

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellEmpty(t *testing.T) {
	ctx := context.Background()
	c := NewCell[string]()

	_, err := c.Get(ctx)
	require.ErrorIs(t, err, ErrEmptyCell)

	err = c.WithValue(ctx, func(string) error { return nil })
	require.ErrorIs(t, err, ErrEmptyCell)
}

func TestCellSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewCell[int]()

	require.NoError(t, c.Set(ctx, 7))
	got, err := c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, got)

	require.NoError(t, c.Set(ctx, 8))
	got, err = c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, got)
}

func TestCellSwap(t *testing.T) {
	ctx := context.Background()
	c := NewCell[int]()

	// Swapping an empty cell applies fn to the zero value and sets it.
	require.NoError(t, c.Swap(ctx, func(v int) int { return v + 1 }))
	got, err := c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got)

	require.NoError(t, c.Swap(ctx, func(v int) int { return v * 10 }))
	got, err = c.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, got)
}

func TestCellConcurrentReplace(t *testing.T) {
	type settings struct {
		name    string
		version int
	}

	ctx := context.Background()
	c := NewCell[settings]()
	require.NoError(t, c.Set(ctx, settings{name: "v0", version: 0}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := c.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, "v", got.name[:1])
			}
		}()
	}

	for n := 1; n <= 200; n++ {
		require.NoError(t, c.Set(ctx, settings{name: "v1", version: n}))
	}
	close(stop)
	wg.Wait()
}
