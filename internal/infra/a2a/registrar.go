package a2a

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"agentbridge/internal/domain"
)

// FirstNonLoopbackIP returns the host's first non-loopback IPv4 address.
func FirstNonLoopbackIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

// EndpointService is the endpoint slice of the registry AI service.
type EndpointService interface {
	RegisterAgentEndpoint(ctx context.Context, reg EndpointRegistration) error
	ReleaseAgentCard(ctx context.Context, name, version string) error
}

// RegistrarConfig describes the local agent endpoint to publish.
type RegistrarConfig struct {
	Name        string
	Version     string
	Description string
	Host        string
	Port        int
	Path        string
	Streaming   bool
}

// EndpointRegistrar publishes the local agent's card and endpoint into the
// registry so peers can discover it.
type EndpointRegistrar struct {
	svc  EndpointService
	reg  EndpointRegistration
	log  *zap.Logger
	name string
}

// NewEndpointRegistrar builds a registrar. An empty Host is filled with the
// first non-loopback address.
func NewEndpointRegistrar(svc EndpointService, cfg RegistrarConfig, log *zap.Logger) (*EndpointRegistrar, error) {
	name, err := domain.ValidateAgentName(cfg.Name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	host := cfg.Host
	if host == "" {
		host, err = FirstNonLoopbackIP()
		if err != nil {
			return nil, fmt.Errorf("determine advertised host: %w", err)
		}
	}
	path := cfg.Path
	if path == "" {
		path = "/a2a"
	}
	card := &AgentCard{
		Name:               name,
		Description:        cfg.Description,
		URL:                fmt.Sprintf("http://%s:%d%s", host, cfg.Port, path),
		Version:            cfg.Version,
		PreferredTransport: "JSONRPC",
		Capabilities:       AgentCapabilities{Streaming: cfg.Streaming},
	}
	return &EndpointRegistrar{
		svc: svc,
		reg: EndpointRegistration{
			Name:    name,
			Version: cfg.Version,
			Address: host,
			Port:    cfg.Port,
			Path:    path,
			Card:    card,
		},
		log:  log.Named("registrar").With(zap.String("agent", name)),
		name: name,
	}, nil
}

// Card returns the card that will be published.
func (r *EndpointRegistrar) Card() *AgentCard { return r.reg.Card }

// Register publishes the endpoint and card.
func (r *EndpointRegistrar) Register(ctx context.Context) error {
	if err := r.svc.RegisterAgentEndpoint(ctx, r.reg); err != nil {
		return fmt.Errorf("register agent endpoint: %w", err)
	}
	r.log.Info("endpoint registered", zap.String("url", r.reg.Card.URL))
	return nil
}

// RegisterWithRetry keeps trying in the background until registration
// succeeds or ctx ends. Best effort: failures are logged.
func (r *EndpointRegistrar) RegisterWithRetry(ctx context.Context, backoff time.Duration) {
	go func() {
		for {
			err := r.Register(ctx)
			if err == nil {
				return
			}
			r.log.Warn("endpoint registration failed, will retry",
				zap.Duration("backoff", backoff),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// Deregister releases the published card.
func (r *EndpointRegistrar) Deregister(ctx context.Context) error {
	if err := r.svc.ReleaseAgentCard(ctx, r.name, r.reg.Version); err != nil {
		return fmt.Errorf("release agent card: %w", err)
	}
	r.log.Info("endpoint released")
	return nil
}
