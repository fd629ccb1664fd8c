package registry

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type closableConfigService struct {
	*fakeConfigService
	closed atomic.Bool
}

func (c *closableConfigService) Close() error {
	c.closed.Store(true)
	return nil
}

func TestServiceManagerPoolsByConfig(t *testing.T) {
	ctx := context.Background()
	var dials atomic.Int32
	dial := func(context.Context, ClientConfig) (ConfigService, error) {
		dials.Add(1)
		return newFakeConfigService(), nil
	}
	m := NewServiceManager(dial, nil, nil)

	cfg := ClientConfig{ServerAddr: "127.0.0.1:8848", Namespace: "public"}
	a, err := m.GetConfigService(ctx, cfg)
	require.NoError(t, err)
	b, err := m.GetConfigService(ctx, cfg)
	require.NoError(t, err)
	require.Same(t, a.(*fakeConfigService), b.(*fakeConfigService))
	require.Equal(t, int32(1), dials.Load())

	other := ClientConfig{ServerAddr: "127.0.0.1:8848", Namespace: "dev"}
	_, err = m.GetConfigService(ctx, other)
	require.NoError(t, err)
	require.Equal(t, int32(2), dials.Load())
}

func TestServiceManagerRefCountedRelease(t *testing.T) {
	ctx := context.Background()
	svc := &closableConfigService{fakeConfigService: newFakeConfigService()}
	var dials atomic.Int32
	dial := func(context.Context, ClientConfig) (ConfigService, error) {
		dials.Add(1)
		return svc, nil
	}
	m := NewServiceManager(dial, nil, nil)

	cfg := ClientConfig{ServerAddr: "127.0.0.1:8848"}
	_, err := m.GetConfigService(ctx, cfg)
	require.NoError(t, err)
	_, err = m.GetConfigService(ctx, cfg)
	require.NoError(t, err)

	m.Release(cfg)
	require.False(t, svc.closed.Load(), "connection still referenced")

	m.Release(cfg)
	require.True(t, svc.closed.Load(), "last release closes the connection")

	// A new Get dials again.
	_, err = m.GetConfigService(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, int32(2), dials.Load())
}

func TestServiceManagerReleaseUnknownIsNoop(t *testing.T) {
	m := NewServiceManager(nil, nil, nil)
	m.Release(ClientConfig{ServerAddr: "nowhere"})
}
