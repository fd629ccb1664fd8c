package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"
)

// WellKnownCardPath is where agents publish their card over HTTP.
const WellKnownCardPath = "/.well-known/agent-card.json"

// ErrCardNotFound reports that no card exists for the requested agent.
var ErrCardNotFound = errors.New("agent card not found")

// CardResolver produces the card of a remote agent.
type CardResolver interface {
	Resolve(ctx context.Context) (*AgentCard, error)
}

// ValidateCard checks that a card is usable as a dial target: a URL must be
// present, absolute, and carry scheme and host.
func ValidateCard(card *AgentCard) error {
	if card == nil {
		return errors.New("agent card is nil")
	}
	if card.URL == "" {
		return fmt.Errorf("agent card %q has no URL", card.Name)
	}
	u, err := url.Parse(card.URL)
	if err != nil {
		return fmt.Errorf("agent card %q URL: %w", card.Name, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("agent card %q URL %q is not absolute", card.Name, card.URL)
	}
	return nil
}

// HTTPCardResolver fetches the card from the agent's well-known path.
type HTTPCardResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCardResolver resolves cards from baseURL. A nil client uses
// http.DefaultClient.
func NewHTTPCardResolver(baseURL string, client *http.Client) *HTTPCardResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCardResolver{baseURL: baseURL, client: client}
}

func (r *HTTPCardResolver) Resolve(ctx context.Context) (*AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+WellKnownCardPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCardNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch agent card: unexpected status %s", resp.Status)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card: %w", err)
	}
	if err := ValidateCard(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

// FileCardResolver reads the card from a local JSON file.
type FileCardResolver struct {
	path string
}

// NewFileCardResolver resolves the card stored at path.
func NewFileCardResolver(path string) *FileCardResolver {
	return &FileCardResolver{path: path}
}

func (r *FileCardResolver) Resolve(context.Context) (*AgentCard, error) {
	payload, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, ErrCardNotFound
	}
	if err != nil {
		return nil, err
	}
	var card AgentCard
	if err := json.Unmarshal(payload, &card); err != nil {
		return nil, fmt.Errorf("decode agent card %q: %w", r.path, err)
	}
	if err := ValidateCard(&card); err != nil {
		return nil, err
	}
	return &card, nil
}

// CardService is the card slice of the registry AI service.
type CardService interface {
	GetAgentCard(ctx context.Context, name, version string) (*AgentCard, error)
	SubscribeAgentCard(ctx context.Context, name, version string, fn func(*AgentCard)) error
}

// RegistryCardResolver resolves the card from the registry and keeps it
// fresh through the registry's push channel.
type RegistryCardResolver struct {
	svc     CardService
	name    string
	version string

	mu         sync.Mutex
	cached     *AgentCard
	subscribed bool
}

// NewRegistryCardResolver resolves the named agent's card from svc.
func NewRegistryCardResolver(svc CardService, name, version string) *RegistryCardResolver {
	return &RegistryCardResolver{svc: svc, name: name, version: version}
}

func (r *RegistryCardResolver) Resolve(ctx context.Context) (*AgentCard, error) {
	r.mu.Lock()
	subscribed := r.subscribed
	cached := r.cached
	r.mu.Unlock()

	if !subscribed {
		err := r.svc.SubscribeAgentCard(ctx, r.name, r.version, func(card *AgentCard) {
			if ValidateCard(card) != nil {
				return
			}
			r.mu.Lock()
			r.cached = card
			r.mu.Unlock()
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe agent card %q: %w", r.name, err)
		}
		r.mu.Lock()
		r.subscribed = true
		r.mu.Unlock()
	}

	card, err := r.svc.GetAgentCard(ctx, r.name, r.version)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("fetch agent card %q: %w", r.name, err)
	}
	if card == nil {
		if cached != nil {
			return cached, nil
		}
		return nil, fmt.Errorf("agent %q: %w", r.name, ErrCardNotFound)
	}
	if err := ValidateCard(card); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cached = card
	r.mu.Unlock()
	return card, nil
}
