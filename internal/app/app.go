package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"agentbridge/internal/domain"
	"agentbridge/internal/infra/a2a"
	"agentbridge/internal/infra/einoagent"
	"agentbridge/internal/infra/orchestrator"
	"agentbridge/internal/infra/registry"
	"agentbridge/internal/infra/telemetry"
)

const registerRetryBackoff = 5 * time.Second

// App wires the registry, orchestrator, agent, and observability surfaces
// into a running process.
type App struct {
	log        *zap.Logger
	dialConfig registry.DialConfigFunc
	dialAI     registry.DialAIFunc
}

// AppOption configures an App.
type AppOption func(*App)

// WithRegistryDialers installs the connection factories used in nacos mode.
func WithRegistryDialers(dialConfig registry.DialConfigFunc, dialAI registry.DialAIFunc) AppOption {
	return func(a *App) {
		a.dialConfig = dialConfig
		a.dialAI = dialAI
	}
}

// New constructs an App logging through logger.
func New(logger *zap.Logger, opts ...AppOption) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{log: logger.Named("app")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// services holds the registry connections plus their teardown.
type services struct {
	config  registry.ConfigService
	ai      registry.AIService
	release func()
}

func (a *App) openServices(ctx context.Context, cfg RegistryConfig) (*services, error) {
	switch cfg.Mode {
	case RegistryModeLocal:
		local, err := registry.NewLocalRegistry(cfg.LocalRoot, a.log)
		if err != nil {
			return nil, fmt.Errorf("open local registry: %w", err)
		}
		return &services{
			config:  local,
			ai:      local,
			release: func() { _ = local.Close() },
		}, nil
	case RegistryModeNacos:
		if a.dialConfig == nil || a.dialAI == nil {
			return nil, errors.New("nacos mode requires registry dialers")
		}
		mgr := registry.NewServiceManager(a.dialConfig, a.dialAI, a.log)
		cc := registry.ClientConfig{
			ServerAddr: cfg.ServerAddr,
			Namespace:  cfg.Namespace,
			Username:   cfg.Username,
			AccessKey:  cfg.AccessKey,
		}
		cfgSvc, err := mgr.GetConfigService(ctx, cc)
		if err != nil {
			return nil, fmt.Errorf("connect config service: %w", err)
		}
		aiSvc, err := mgr.GetAIService(ctx, cc)
		if err != nil {
			mgr.Release(cc)
			return nil, fmt.Errorf("connect ai service: %w", err)
		}
		return &services{
			config: cfgSvc,
			ai:     aiSvc,
			release: func() {
				mgr.Release(cc)
				mgr.Release(cc)
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown registry mode %q", cfg.Mode)
}

// Run brings the bridge up and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context, cfg Config) error {
	svcs, err := a.openServices(ctx, cfg.Registry)
	if err != nil {
		return err
	}
	defer svcs.release()

	var metrics domain.Metrics = domain.NopMetrics{}
	var promRegistry *prometheus.Registry
	if cfg.Observability.ListenAddress != "" {
		promRegistry = prometheus.NewRegistry()
		metrics = telemetry.NewPrometheusMetrics(promRegistry)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(metrics),
	}
	if cfg.Agent.DisableModel {
		orchOpts = append(orchOpts, orchestrator.WithoutModel())
	}
	if cfg.Agent.DisableTools {
		orchOpts = append(orchOpts, orchestrator.WithoutTools())
	}
	if cfg.Agent.DisablePrompt {
		orchOpts = append(orchOpts, orchestrator.WithoutPrompt())
	}
	if cfg.Snapshot.Path != "" {
		cache, err := registry.OpenSnapshotCache(cfg.Snapshot.Path)
		if err != nil {
			return fmt.Errorf("open snapshot cache: %w", err)
		}
		defer cache.Close()
		orchOpts = append(orchOpts, orchestrator.WithSnapshotCache(cache))
	}

	orch, err := orchestrator.New(cfg.Agent.Name, svcs.config, svcs.ai, orchOpts...)
	if err != nil {
		return err
	}
	defer orch.Close(context.Background())

	if err := orch.EnsureInitialized(ctx); err != nil {
		var partial *domain.PartialInitError
		if errors.As(err, &partial) {
			for component, cause := range partial.Failed {
				a.log.Error("component initialization failed",
					zap.String("component", component),
					zap.Error(cause))
			}
		}
		return fmt.Errorf("initialize agent %q: %w", cfg.Agent.Name, err)
	}

	agentOpts := []einoagent.Option{einoagent.WithLogger(a.log)}
	if cfg.Agent.SysPrompt != "" {
		agentOpts = append(agentOpts, einoagent.WithSysPrompt(cfg.Agent.SysPrompt))
	}
	if cfg.Agent.MaxTurns > 0 {
		agentOpts = append(agentOpts, einoagent.WithMaxTurns(cfg.Agent.MaxTurns))
	}
	agent, err := einoagent.New(cfg.Agent.Name, agentOpts...)
	if err != nil {
		return err
	}
	if err := orch.Attach(ctx, agent); err != nil {
		return err
	}
	defer orch.Detach(context.Background())

	if cfg.Endpoint.Register {
		registrar, err := a2a.NewEndpointRegistrar(svcs.ai, a2a.RegistrarConfig{
			Name:        cfg.Agent.Name,
			Version:     cfg.Agent.Version,
			Description: cfg.Agent.Description,
			Host:        cfg.Endpoint.Host,
			Port:        cfg.Endpoint.Port,
			Path:        cfg.Endpoint.Path,
			Streaming:   cfg.Endpoint.Streaming,
		}, a.log)
		if err != nil {
			return err
		}
		registrar.RegisterWithRetry(ctx, registerRetryBackoff)
		defer func() {
			if err := registrar.Deregister(context.Background()); err != nil {
				a.log.Warn("deregister endpoint", zap.Error(err))
			}
		}()
	}

	a.log.Info("agent bridge running",
		zap.String("agent", cfg.Agent.Name),
		zap.String("registry", cfg.Registry.Mode))

	g, gctx := errgroup.WithContext(ctx)
	if promRegistry != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Observability.ListenAddress, Handler: mux}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newRemoteSession builds the outbound session to the configured peer.
func (a *App) newRemoteSession(cfg RemoteConfig, ai registry.AIService) (*a2a.Session, error) {
	var resolver a2a.CardResolver
	switch {
	case cfg.CardURL != "":
		resolver = a2a.NewHTTPCardResolver(cfg.CardURL, nil)
	case cfg.Name != "":
		resolver = a2a.NewRegistryCardResolver(ai, cfg.Name, cfg.Version)
	default:
		return nil, errors.New("remote peer not configured")
	}
	sender := a2a.NewHTTPSender(nil, a.log)
	return a2a.NewSession(resolver, sender, a2a.WithSessionLogger(a.log)), nil
}

// SendRemote resolves the configured peer, delivers one text message, and
// returns the reply text. Used by the one-shot send command.
func (a *App) SendRemote(ctx context.Context, cfg Config, text string) (string, error) {
	svcs, err := a.openServices(ctx, cfg.Registry)
	if err != nil {
		return "", err
	}
	defer svcs.release()

	session, err := a.newRemoteSession(cfg.Remote, svcs.ai)
	if err != nil {
		return "", err
	}
	reply, err := session.Send(ctx, []domain.Msg{domain.TextMsg("user", domain.RoleUser, text)})
	if err != nil {
		return "", err
	}
	if reply.IsError() {
		return "", fmt.Errorf("remote agent %q: %s", session.Name(), reply.Text())
	}
	return reply.Text(), nil
}
