package chatmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/registry"
	"agentbridge/internal/infra/syncx"
)

// providerState is swapped atomically as one value so readers never see a
// provider paired with a stale spec.
type providerState struct {
	model model.ToolCallingChatModel
	spec  domain.ModelSpec
}

// ConfigurableChatModel is a chat model whose backing provider follows the
// registry key model.json in the agent's group. Invocations capture the
// provider under a read lock and run against that capture, so an in-flight
// call finishes on the provider it started with even while an update swaps
// in a new one.
type ConfigurableChatModel struct {
	name    string
	sub     *registry.Subscription
	guard   *syncx.InitGuard
	cell    *syncx.Cell[providerState]
	build   BuildFunc
	metrics domain.Metrics
	log     *zap.Logger

	// backup is read by the push listener while SetBackup may replace it.
	backupMu sync.Mutex
	backup   model.ToolCallingChatModel
}

// Option configures a ConfigurableChatModel.
type Option func(*ConfigurableChatModel)

// WithBuildFunc overrides the provider factory.
func WithBuildFunc(fn BuildFunc) Option {
	return func(m *ConfigurableChatModel) { m.build = fn }
}

// WithBackup sets the fallback provider used when a pushed config cannot be
// turned into a working provider.
func WithBackup(backup model.ToolCallingChatModel) Option {
	return func(m *ConfigurableChatModel) { m.backup = backup }
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics domain.Metrics) Option {
	return func(m *ConfigurableChatModel) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *ConfigurableChatModel) { m.log = log }
}

// NewConfigurableChatModel binds a model for the named agent to svc.
func NewConfigurableChatModel(name string, svc registry.ConfigService, opts ...Option) *ConfigurableChatModel {
	m := &ConfigurableChatModel{
		name:    name,
		guard:   syncx.NewInitGuard(),
		cell:    syncx.NewCell[providerState](),
		build:   BuildProvider,
		metrics: domain.NopMetrics{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("chat_model").With(zap.String("agent", name))
	m.sub = registry.NewSubscription(svc, domain.DataIDModel, domain.AgentGroup(name), m.log)
	return m
}

// EnsureInitialized resolves the initial model config, builds the provider,
// and starts listening for pushes. A missing model config is fatal.
func (m *ConfigurableChatModel) EnsureInitialized(ctx context.Context) error {
	return m.guard.Ensure(ctx, m.init)
}

// Initialized reports whether the model is ready to serve.
func (m *ConfigurableChatModel) Initialized() bool {
	return m.guard.Initialized()
}

func (m *ConfigurableChatModel) init(ctx context.Context) error {
	payload, err := m.sub.ResolveInitial(ctx)
	if err != nil {
		return fmt.Errorf("resolve model config: %w", err)
	}
	spec, err := domain.ParseModelSpec(payload)
	if err != nil {
		return fmt.Errorf("parse model config: %w", err)
	}
	provider, err := m.build(ctx, spec)
	if err != nil {
		return fmt.Errorf("build provider %q: %w", spec.ModelProvider, err)
	}
	if err := m.cell.Set(ctx, providerState{model: provider, spec: spec}); err != nil {
		return err
	}
	if err := m.sub.Start(ctx, m.onUpdate); err != nil {
		return fmt.Errorf("subscribe model config: %w", err)
	}
	m.log.Info("model initialized",
		zap.String("model", spec.ModelName),
		zap.String("provider", spec.ModelProvider))
	return nil
}

// onUpdate applies a pushed model config. A config that parses but cannot
// produce a working provider falls back to the backup provider; without a
// backup the previous provider stays in place.
func (m *ConfigurableChatModel) onUpdate(ctx context.Context, payload []byte) {
	spec, err := domain.ParseModelSpec(payload)
	if err != nil {
		m.metrics.ObserveConfigUpdate("model", domain.UpdateResultRejected)
		m.log.Warn("rejected model config push", zap.Error(err))
		return
	}
	provider, err := m.build(ctx, spec)
	if err != nil {
		if backup := m.currentBackup(); backup != nil {
			// The failed spec never produced a model; keep the previous
			// spec so Provider reflects something that actually runs.
			state := providerState{model: backup, spec: spec}
			if prev, perr := m.cell.Get(ctx); perr == nil {
				state.spec = prev.spec
			}
			if serr := m.cell.Set(ctx, state); serr == nil {
				m.metrics.ObserveConfigUpdate("model", domain.UpdateResultFallback)
				m.log.Warn("provider build failed, switched to backup", zap.Error(err))
				return
			}
		}
		m.metrics.ObserveConfigUpdate("model", domain.UpdateResultRejected)
		m.log.Warn("provider build failed, keeping previous provider", zap.Error(err))
		return
	}
	if err := m.cell.Set(ctx, providerState{model: provider, spec: spec}); err != nil {
		m.log.Warn("apply model config push", zap.Error(err))
		return
	}
	m.metrics.ObserveConfigUpdate("model", domain.UpdateResultApplied)
	m.metrics.ObserveModelSwap(spec.ModelProvider)
	m.log.Info("model swapped",
		zap.String("model", spec.ModelName),
		zap.String("provider", spec.ModelProvider))
}

// capture returns the current provider after ensuring initialization. The
// read lock is held only for the copy, never across the provider call.
func (m *ConfigurableChatModel) capture(ctx context.Context) (providerState, error) {
	if err := m.EnsureInitialized(ctx); err != nil {
		return providerState{}, err
	}
	state, err := m.cell.Get(ctx)
	if errors.Is(err, syncx.ErrEmptyCell) {
		return providerState{}, domain.ErrNotInitialized
	}
	return state, err
}

// Generate implements model.ToolCallingChatModel.
func (m *ConfigurableChatModel) Generate(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	state, err := m.capture(ctx)
	if err != nil {
		return nil, err
	}
	return state.model.Generate(ctx, in, opts...)
}

// Stream implements model.ToolCallingChatModel.
func (m *ConfigurableChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	state, err := m.capture(ctx)
	if err != nil {
		return nil, err
	}
	return state.model.Stream(ctx, in, opts...)
}

// WithTools returns a tool-bound snapshot of the current provider. The
// snapshot does not follow later config pushes.
func (m *ConfigurableChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	state, err := m.cell.Get(context.Background())
	if errors.Is(err, syncx.ErrEmptyCell) {
		return nil, domain.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return state.model.WithTools(tools)
}

// SetBackup installs the fallback provider. Self-reference is rejected to
// keep fallback from looping back into this handle.
func (m *ConfigurableChatModel) SetBackup(backup model.ToolCallingChatModel) error {
	if backup == m {
		return errors.New("backup model must not be the configurable model itself")
	}
	m.backupMu.Lock()
	m.backup = backup
	m.backupMu.Unlock()
	return nil
}

func (m *ConfigurableChatModel) currentBackup() model.ToolCallingChatModel {
	m.backupMu.Lock()
	defer m.backupMu.Unlock()
	return m.backup
}

// Provider returns the provider tag of the current spec, or empty before
// initialization. Used for formatter selection.
func (m *ConfigurableChatModel) Provider() string {
	state, err := m.cell.Get(context.Background())
	if err != nil {
		return ""
	}
	if state.spec.ModelProvider == "" {
		return ProviderOpenAI
	}
	return state.spec.ModelProvider
}

// Close stops the config subscription.
func (m *ConfigurableChatModel) Close(ctx context.Context) error {
	return m.sub.Stop(ctx)
}
