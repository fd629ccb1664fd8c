package registry

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"agentbridge/internal/domain"
)

// subscriptionListener is a pointer type so registrations compare by
// identity and removal is exact.
type subscriptionListener struct {
	fn func(ctx context.Context, payload []byte)
}

func (l *subscriptionListener) OnChange(ctx context.Context, dataID, group string, payload []byte) {
	l.fn(ctx, payload)
}

// Subscription binds one (dataID, group) key on a ConfigService and keeps
// track of the listener it registered so Stop removes exactly that listener.
type Subscription struct {
	svc    ConfigService
	dataID string
	group  string
	log    *zap.Logger

	mu       sync.Mutex
	listener *subscriptionListener
}

// NewSubscription returns an inactive subscription for the given key.
func NewSubscription(svc ConfigService, dataID, group string, log *zap.Logger) *Subscription {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscription{svc: svc, dataID: dataID, group: group, log: log.Named("subscription")}
}

// DataID returns the bound data ID.
func (s *Subscription) DataID() string { return s.dataID }

// Group returns the bound group.
func (s *Subscription) Group() string { return s.group }

// ResolveInitial performs the point read for the key. An absent key yields
// domain.ErrConfigNotFound wrapped with the key coordinates.
func (s *Subscription) ResolveInitial(ctx context.Context) ([]byte, error) {
	payload, err := s.svc.GetConfig(ctx, s.dataID, s.group)
	if err != nil {
		return nil, &domain.ConfigError{DataID: s.dataID, Group: s.group, Err: err}
	}
	if payload == nil {
		return nil, &domain.ConfigError{DataID: s.dataID, Group: s.group, Err: domain.ErrConfigNotFound}
	}
	return payload, nil
}

// Start registers onUpdate as the push listener for the key. A subscription
// can be started once until stopped.
func (s *Subscription) Start(ctx context.Context, onUpdate func(ctx context.Context, payload []byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("subscription already started")
	}
	l := &subscriptionListener{fn: onUpdate}
	if err := s.svc.AddListener(ctx, s.dataID, s.group, l); err != nil {
		return err
	}
	s.listener = l
	s.log.Debug("listener registered", zap.String("data_id", s.dataID), zap.String("group", s.group))
	return nil
}

// Stop removes the listener registered by Start. Stopping an inactive
// subscription is a no-op.
func (s *Subscription) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.svc.RemoveListener(ctx, s.dataID, s.group, s.listener)
	s.listener = nil
	return err
}
