package registry

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// ClientConfig identifies one registry connection. Two configs with equal
// field values share a connection.
type ClientConfig struct {
	ServerAddr string
	Namespace  string
	AccessKey  string
	Username   string
}

// DialConfigFunc creates a ConfigService connection for a config.
type DialConfigFunc func(ctx context.Context, cfg ClientConfig) (ConfigService, error)

// DialAIFunc creates an AIService connection for a config.
type DialAIFunc func(ctx context.Context, cfg ClientConfig) (AIService, error)

type managedConn struct {
	config ConfigService
	ai     AIService
	refs   int
}

// ServiceManager pools registry connections per distinct ClientConfig.
// Connections are dialed lazily and reference counted: each Get increments
// the count and Release decrements it, tearing the connection down at zero.
type ServiceManager struct {
	dialConfig DialConfigFunc
	dialAI     DialAIFunc
	log        *zap.Logger

	mu    sync.Mutex
	conns map[ClientConfig]*managedConn
}

// NewServiceManager returns a pool that dials through the given functions.
func NewServiceManager(dialConfig DialConfigFunc, dialAI DialAIFunc, log *zap.Logger) *ServiceManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &ServiceManager{
		dialConfig: dialConfig,
		dialAI:     dialAI,
		log:        log.Named("service_manager"),
		conns:      make(map[ClientConfig]*managedConn),
	}
}

// GetConfigService returns the pooled ConfigService for cfg, dialing on
// first use. The caller owns one reference.
func (m *ServiceManager) GetConfigService(ctx context.Context, cfg ClientConfig) (ConfigService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.connLocked(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c.config == nil {
		svc, err := m.dialConfig(ctx, cfg)
		if err != nil {
			m.unrefLocked(cfg, c)
			return nil, err
		}
		c.config = svc
	}
	return c.config, nil
}

// GetAIService returns the pooled AIService for cfg, dialing on first use.
// The caller owns one reference.
func (m *ServiceManager) GetAIService(ctx context.Context, cfg ClientConfig) (AIService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.connLocked(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c.ai == nil {
		svc, err := m.dialAI(ctx, cfg)
		if err != nil {
			m.unrefLocked(cfg, c)
			return nil, err
		}
		c.ai = svc
	}
	return c.ai, nil
}

// Release drops one reference on the connection for cfg. At zero references
// the connection is closed and forgotten. Releasing an unknown config is a
// no-op.
func (m *ServiceManager) Release(cfg ClientConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[cfg]
	if !ok {
		return
	}
	m.unrefLocked(cfg, c)
}

func (m *ServiceManager) connLocked(_ context.Context, cfg ClientConfig) (*managedConn, error) {
	c, ok := m.conns[cfg]
	if !ok {
		c = &managedConn{}
		m.conns[cfg] = c
	}
	c.refs++
	return c, nil
}

func (m *ServiceManager) unrefLocked(cfg ClientConfig, c *managedConn) {
	c.refs--
	if c.refs > 0 {
		return
	}
	delete(m.conns, cfg)
	closeService(c.config, m.log)
	closeService(c.ai, m.log)
	m.log.Debug("connection released", zap.String("server", cfg.ServerAddr), zap.String("namespace", cfg.Namespace))
}

func closeService(svc any, log *zap.Logger) {
	closer, ok := svc.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		log.Warn("close registry connection", zap.Error(err))
	}
}
