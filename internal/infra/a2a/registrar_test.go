package a2a

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeEndpointService struct {
	mu       sync.Mutex
	regs     []EndpointRegistration
	released []string
	err      error
}

func (f *fakeEndpointService) RegisterAgentEndpoint(_ context.Context, reg EndpointRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.regs = append(f.regs, reg)
	return nil
}

func (f *fakeEndpointService) ReleaseAgentCard(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, name)
	return nil
}

func TestEndpointRegistrarPublishesCard(t *testing.T) {
	ctx := context.Background()
	svc := &fakeEndpointService{}
	r, err := NewEndpointRegistrar(svc, RegistrarConfig{
		Name:      "alpha",
		Version:   "1.0.0",
		Host:      "10.0.0.5",
		Port:      8080,
		Streaming: true,
	}, nil)
	require.NoError(t, err)

	card := r.Card()
	require.Equal(t, "http://10.0.0.5:8080/a2a", card.URL)
	require.Equal(t, "JSONRPC", card.PreferredTransport)
	require.True(t, card.Capabilities.Streaming)
	require.NoError(t, ValidateCard(card))

	require.NoError(t, r.Register(ctx))
	require.Len(t, svc.regs, 1)
	require.Equal(t, "alpha", svc.regs[0].Name)
	require.Equal(t, 8080, svc.regs[0].Port)
	require.Same(t, card, svc.regs[0].Card)

	require.NoError(t, r.Deregister(ctx))
	require.Equal(t, []string{"alpha"}, svc.released)
}

func TestEndpointRegistrarCustomPath(t *testing.T) {
	r, err := NewEndpointRegistrar(&fakeEndpointService{}, RegistrarConfig{
		Name: "alpha",
		Host: "10.0.0.5",
		Port: 9000,
		Path: "/agents/alpha",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.5:9000/agents/alpha", r.Card().URL)
}

func TestEndpointRegistrarRejectsBadName(t *testing.T) {
	_, err := NewEndpointRegistrar(&fakeEndpointService{}, RegistrarConfig{
		Name: "bad name!",
		Host: "10.0.0.5",
	}, nil)
	require.Error(t, err)
}
