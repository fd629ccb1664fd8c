// Package orchestrator ties one agent to its registry-managed
// configuration: chat model, tool servers, and system prompt, each
// initialized independently and kept current by config pushes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/chatmodel"
	"agentbridge/internal/infra/registry"
	"agentbridge/internal/infra/syncx"
	"agentbridge/internal/infra/toolkit"
	"agentbridge/internal/infra/toolsource"
)

// Component names used in init reporting.
const (
	componentModel  = "model"
	componentTools  = "tools"
	componentPrompt = "prompt"
)

// priorState records what an agent carried before Attach so Detach can
// restore it.
type priorState struct {
	prompt    string
	model     model.ToolCallingChatModel
	formatter domain.Formatter
	toolkit   domain.Toolkit
}

// Orchestrator manages the registry-driven configuration of one named
// agent. Model, tools, and prompt initialize independently; a failed part
// never rolls back the parts that succeeded.
type Orchestrator struct {
	name    string
	cfgSvc  registry.ConfigService
	aiSvc   toolsource.ToolServerService
	dial    toolsource.Dialer
	metrics domain.Metrics
	log     *zap.Logger

	enableModel  bool
	enableTools  bool
	enablePrompt bool

	buildFunc chatmodel.BuildFunc
	backup    model.ToolCallingChatModel
	snapshots *registry.SnapshotCache

	guard *syncx.InitGuard

	chatModel *chatmodel.ConfigurableChatModel
	formatter *chatmodel.AutoFormatter
	kit       *toolkit.DynamicToolkit
	sources   []*toolsource.ToolSource

	promptSub *registry.Subscription
	snapSubs  []*registry.Subscription

	mu          sync.Mutex
	sysPrompt   string
	promptReady bool
	refSub      *registry.Subscription
	attached    domain.Agent
	prior       priorState
	status      map[string]error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithoutModel disables model management.
func WithoutModel() Option { return func(o *Orchestrator) { o.enableModel = false } }

// WithoutTools disables tool management.
func WithoutTools() Option { return func(o *Orchestrator) { o.enableTools = false } }

// WithoutPrompt disables prompt management.
func WithoutPrompt() Option { return func(o *Orchestrator) { o.enablePrompt = false } }

// WithBackupModel sets the provider used when a pushed model config cannot
// be built.
func WithBackupModel(m model.ToolCallingChatModel) Option {
	return func(o *Orchestrator) { o.backup = m }
}

// WithBuildFunc overrides the model provider factory.
func WithBuildFunc(fn chatmodel.BuildFunc) Option {
	return func(o *Orchestrator) { o.buildFunc = fn }
}

// WithDialer sets the MCP session dialer for tool sources.
func WithDialer(d toolsource.Dialer) Option {
	return func(o *Orchestrator) { o.dial = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m domain.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithSnapshotCache persists applied config payloads for degraded starts.
// Reads consult the cache when the registry cannot serve them.
func WithSnapshotCache(cache *registry.SnapshotCache) Option {
	return func(o *Orchestrator) { o.snapshots = cache }
}

// New builds an orchestrator for the named agent. The name is normalized
// and validated before use.
func New(name string, cfgSvc registry.ConfigService, aiSvc toolsource.ToolServerService, opts ...Option) (*Orchestrator, error) {
	name, err := domain.ValidateAgentName(name)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{
		name:         name,
		cfgSvc:       cfgSvc,
		aiSvc:        aiSvc,
		dial:         toolsource.DialStreamable(nil),
		metrics:      domain.NopMetrics{},
		log:          zap.NewNop(),
		enableModel:  true,
		enableTools:  true,
		enablePrompt: true,
		buildFunc:    chatmodel.BuildProvider,
		guard:        syncx.NewInitGuard(),
		status:       make(map[string]error),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("orchestrator").With(zap.String("agent", name))

	if o.snapshots != nil {
		o.cfgSvc = registry.NewFallbackConfigService(o.cfgSvc, o.snapshots, o.log)
	}

	if o.enableModel {
		o.chatModel = chatmodel.NewConfigurableChatModel(name, o.cfgSvc,
			chatmodel.WithBuildFunc(o.buildFunc),
			chatmodel.WithBackup(o.backup),
			chatmodel.WithMetrics(o.metrics),
			chatmodel.WithLogger(o.log))
		o.formatter = chatmodel.NewAutoFormatter(o.chatModel)
	}
	if o.enableTools {
		o.kit = toolkit.NewDynamicToolkit(o.log)
	}
	o.promptSub = registry.NewSubscription(o.cfgSvc, domain.DataIDPrompt, domain.AgentGroup(name), o.log)
	return o, nil
}

// Name returns the validated agent name.
func (o *Orchestrator) Name() string { return o.name }

// Model returns the managed chat model, nil when model management is off.
func (o *Orchestrator) Model() model.ToolCallingChatModel {
	if o.chatModel == nil {
		return nil
	}
	return o.chatModel
}

// Toolkit returns the managed toolkit, nil when tool management is off.
func (o *Orchestrator) Toolkit() domain.Toolkit {
	if o.kit == nil {
		return nil
	}
	return o.kit
}

// SysPrompt returns the currently effective system prompt.
func (o *Orchestrator) SysPrompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sysPrompt
}

// Initialized reports whether every enabled component initialized.
func (o *Orchestrator) Initialized() bool { return o.guard.Initialized() }

// Status returns the last init outcome per enabled component. A nil error
// means the component is healthy.
func (o *Orchestrator) Status() map[string]error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]error, len(o.status))
	for k, v := range o.status {
		out[k] = v
	}
	return out
}

// EnsureInitialized initializes every enabled component. Failures are
// aggregated into a PartialInitError; parts that succeeded stay live and a
// later retry only redoes the failed ones.
func (o *Orchestrator) EnsureInitialized(ctx context.Context) error {
	return o.guard.Ensure(ctx, o.init)
}

// StartBackgroundInit kicks off best-effort initialization. Failures are
// logged and left for the next EnsureInitialized call.
func (o *Orchestrator) StartBackgroundInit(ctx context.Context) {
	go func() {
		if err := o.EnsureInitialized(ctx); err != nil {
			o.log.Warn("background initialization incomplete", zap.Error(err))
		}
	}()
}

func (o *Orchestrator) init(ctx context.Context) error {
	type step struct {
		name string
		fn   func(context.Context) error
	}
	steps := []step{}
	if o.enableModel {
		steps = append(steps, step{componentModel, o.initModel})
	}
	if o.enableTools {
		steps = append(steps, step{componentTools, o.initTools})
	}
	if o.enablePrompt {
		steps = append(steps, step{componentPrompt, o.initPrompt})
	}

	perr := &domain.PartialInitError{Failed: make(map[string]error)}
	for _, s := range steps {
		start := time.Now()
		err := s.fn(ctx)
		o.metrics.ObserveInit(s.name, err == nil, time.Since(start))
		o.mu.Lock()
		o.status[s.name] = err
		o.mu.Unlock()
		if err != nil {
			perr.Failed[s.name] = err
			o.log.Warn("component initialization failed", zap.String("component", s.name), zap.Error(err))
			continue
		}
		perr.Succeeded = append(perr.Succeeded, s.name)
	}
	if len(perr.Failed) > 0 {
		return perr
	}
	o.startSnapshotCapture(ctx)
	return nil
}

func (o *Orchestrator) initModel(ctx context.Context) error {
	return o.chatModel.EnsureInitialized(ctx)
}

func (o *Orchestrator) initTools(ctx context.Context) error {
	if o.sources == nil {
		payload, err := o.cfgSvc.GetConfig(ctx, domain.DataIDToolServers, domain.AgentGroup(o.name))
		if err != nil {
			return fmt.Errorf("fetch tool server list: %w", err)
		}
		if payload == nil {
			// No tool server list means no managed tools.
			return nil
		}
		list, err := domain.ParseToolServerList(payload)
		if err != nil {
			return fmt.Errorf("parse tool server list: %w", err)
		}
		for _, ref := range list.Servers {
			src := toolsource.NewToolSource(ref.Name, o.aiSvc, o.dial,
				toolsource.WithSourceMetrics(o.metrics),
				toolsource.WithSourceLogger(o.log))
			src.Attach(o.kit)
			o.sources = append(o.sources, src)
		}
	}

	var errs []error
	for _, src := range o.sources {
		if err := src.EnsureInitialized(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := o.kit.RegisterToolServer(ctx, src); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initPrompt resolves prompt.json. An absent prompt is not fatal: the
// listener is registered and the first push supplies the prompt. A present
// but broken prompt config is fatal.
func (o *Orchestrator) initPrompt(ctx context.Context) error {
	o.mu.Lock()
	ready := o.promptReady
	o.mu.Unlock()
	if ready {
		return nil
	}

	payload, err := o.promptSub.ResolveInitial(ctx)
	if err != nil && !errors.Is(err, domain.ErrConfigNotFound) {
		return err
	}
	if err == nil {
		if aerr := o.applyPromptSpec(ctx, payload, true); aerr != nil {
			return aerr
		}
	}
	if serr := o.promptSub.Start(ctx, o.onPromptConfig); serr != nil {
		return serr
	}
	o.mu.Lock()
	o.promptReady = true
	o.mu.Unlock()
	return nil
}

// applyPromptSpec routes a prompt.json payload. Reference and inline forms
// are honored in that order; on pushes, a spec with neither form resets the
// prompt to what the attached agent carried before Attach.
func (o *Orchestrator) applyPromptSpec(ctx context.Context, payload []byte, initial bool) error {
	spec, err := domain.ParsePromptSpec(payload)
	if err != nil {
		return fmt.Errorf("parse prompt config: %w", err)
	}

	switch {
	case spec.HasRef():
		tmplPayload, err := o.cfgSvc.GetConfig(ctx, spec.PromptRef, domain.GroupPromptTemplates)
		if err != nil {
			return fmt.Errorf("fetch prompt template %q: %w", spec.PromptRef, err)
		}
		if tmplPayload == nil {
			return &domain.ConfigError{
				DataID: spec.PromptRef,
				Group:  domain.GroupPromptTemplates,
				Agent:  o.name,
				Err:    domain.ErrConfigNotFound,
			}
		}
		tmpl, err := domain.ParsePromptTemplate(tmplPayload)
		if err != nil {
			return fmt.Errorf("parse prompt template %q: %w", spec.PromptRef, err)
		}
		o.setSysPrompt(tmpl.Template)
		return o.listenRef(ctx, spec.PromptRef)
	case spec.HasInline():
		o.stopRefListener(ctx)
		o.setSysPrompt(spec.Prompt)
		return nil
	default:
		if initial {
			return fmt.Errorf("prompt config for %q carries neither promptRef nor prompt", o.name)
		}
		o.stopRefListener(ctx)
		o.restorePriorPrompt()
		return nil
	}
}

func (o *Orchestrator) onPromptConfig(ctx context.Context, payload []byte) {
	if err := o.applyPromptSpec(ctx, payload, false); err != nil {
		o.metrics.ObserveConfigUpdate("prompt", domain.UpdateResultRejected)
		o.log.Warn("rejected prompt config push", zap.Error(err))
		return
	}
	o.metrics.ObserveConfigUpdate("prompt", domain.UpdateResultApplied)
}

// listenRef points the template listener at ref. Switching refs removes
// the old listener before registering the new one; re-pointing to the
// current ref is a no-op.
func (o *Orchestrator) listenRef(ctx context.Context, ref string) error {
	o.mu.Lock()
	current := o.refSub
	o.mu.Unlock()

	if current != nil {
		if current.DataID() == ref {
			return nil
		}
		if err := current.Stop(ctx); err != nil {
			o.log.Warn("stop previous template listener", zap.Error(err))
		}
	}

	sub := registry.NewSubscription(o.cfgSvc, ref, domain.GroupPromptTemplates, o.log)
	if err := sub.Start(ctx, o.onPromptTemplate); err != nil {
		return fmt.Errorf("subscribe prompt template %q: %w", ref, err)
	}
	o.mu.Lock()
	o.refSub = sub
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) stopRefListener(ctx context.Context) {
	o.mu.Lock()
	current := o.refSub
	o.refSub = nil
	o.mu.Unlock()
	if current != nil {
		if err := current.Stop(ctx); err != nil {
			o.log.Warn("stop template listener", zap.Error(err))
		}
	}
}

func (o *Orchestrator) onPromptTemplate(_ context.Context, payload []byte) {
	tmpl, err := domain.ParsePromptTemplate(payload)
	if err != nil {
		o.metrics.ObserveConfigUpdate("prompt", domain.UpdateResultRejected)
		o.log.Warn("rejected prompt template push", zap.Error(err))
		return
	}
	o.setSysPrompt(tmpl.Template)
	o.metrics.ObserveConfigUpdate("prompt", domain.UpdateResultApplied)
}

func (o *Orchestrator) setSysPrompt(prompt string) {
	o.mu.Lock()
	o.sysPrompt = prompt
	agent := o.attached
	o.mu.Unlock()
	if agent != nil {
		agent.SetSysPrompt(prompt)
	}
}

func (o *Orchestrator) restorePriorPrompt() {
	o.mu.Lock()
	prior := o.prior.prompt
	agent := o.attached
	o.sysPrompt = prior
	o.mu.Unlock()
	if agent != nil {
		agent.SetSysPrompt(prior)
	}
	o.log.Info("prompt reset to pre-attach value")
}

// startSnapshotCapture records applied payloads for the agent's config keys
// so a later start can run without the registry.
func (o *Orchestrator) startSnapshotCapture(ctx context.Context) {
	if o.snapshots == nil || len(o.snapSubs) > 0 {
		return
	}
	group := domain.AgentGroup(o.name)
	for _, dataID := range []string{domain.DataIDModel, domain.DataIDPrompt, domain.DataIDToolServers} {
		sub := registry.NewSubscription(o.cfgSvc, dataID, group, o.log)
		dataID := dataID
		if err := sub.Start(ctx, func(_ context.Context, payload []byte) {
			if err := o.snapshots.Put(group, dataID, payload); err != nil {
				o.log.Warn("persist config snapshot", zap.String("data_id", dataID), zap.Error(err))
			}
		}); err != nil {
			o.log.Warn("start snapshot capture", zap.String("data_id", dataID), zap.Error(err))
			continue
		}
		o.snapSubs = append(o.snapSubs, sub)
		if payload, err := o.cfgSvc.GetConfig(ctx, dataID, group); err == nil && payload != nil {
			if perr := o.snapshots.Put(group, dataID, payload); perr != nil {
				o.log.Warn("persist config snapshot", zap.String("data_id", dataID), zap.Error(perr))
			}
		}
	}
}

// Attach injects the managed configuration into the agent, recording what
// it carried so Detach can undo the injection. One agent at a time.
func (o *Orchestrator) Attach(ctx context.Context, agent domain.Agent) error {
	if !o.guard.Initialized() {
		return domain.ErrNotInitialized
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.attached != nil {
		return fmt.Errorf("agent %q already attached", o.attached.Name())
	}

	o.prior = priorState{
		prompt:    agent.SysPrompt(),
		model:     agent.Model(),
		formatter: agent.Formatter(),
		toolkit:   agent.Toolkit(),
	}

	if o.enablePrompt && o.sysPrompt != "" {
		agent.SetSysPrompt(o.sysPrompt)
	}
	if o.enableTools {
		o.kit.Merge(o.prior.toolkit)
		agent.SetToolkit(o.kit)
	}
	if o.enableModel {
		if o.prior.model != nil {
			if err := o.chatModel.SetBackup(o.prior.model); err != nil {
				o.log.Warn("set backup model", zap.Error(err))
			}
		}
		agent.SetModel(o.chatModel)
		agent.SetFormatter(o.formatter)
	}
	o.attached = agent
	o.log.Info("agent attached", zap.String("name", agent.Name()))
	return nil
}

// Detach restores the agent's pre-attach prompt, model, formatter, and
// toolkit. Detaching with nothing attached is a no-op.
func (o *Orchestrator) Detach(_ context.Context) {
	o.mu.Lock()
	agent := o.attached
	prior := o.prior
	o.attached = nil
	o.prior = priorState{}
	o.mu.Unlock()
	if agent == nil {
		return
	}

	if o.enablePrompt {
		agent.SetSysPrompt(prior.prompt)
	}
	if o.enableTools {
		agent.SetToolkit(prior.toolkit)
	}
	if o.enableModel {
		agent.SetModel(prior.model)
		agent.SetFormatter(prior.formatter)
	}
	o.log.Info("agent detached", zap.String("name", agent.Name()))
}

// Close stops every subscription held by the orchestrator.
func (o *Orchestrator) Close(ctx context.Context) error {
	var errs []error
	if err := o.promptSub.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	o.stopRefListener(ctx)
	for _, sub := range o.snapSubs {
		if err := sub.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if o.chatModel != nil {
		if err := o.chatModel.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
